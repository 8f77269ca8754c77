package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/Codeshare/codeshare/backend/config"
	"github.com/Codeshare/codeshare/backend/internal/bus"
	"github.com/Codeshare/codeshare/backend/internal/checkpoint"
	"github.com/Codeshare/codeshare/backend/internal/httpapi/handlers"
	"github.com/Codeshare/codeshare/backend/internal/httpapi/middleware"
	"github.com/Codeshare/codeshare/backend/internal/oplog"
	"github.com/Codeshare/codeshare/backend/internal/presence"
	"github.com/Codeshare/codeshare/backend/internal/snapshot"
	"github.com/Codeshare/codeshare/backend/internal/store"
	syncpkg "github.com/Codeshare/codeshare/backend/internal/sync"
	"github.com/Codeshare/codeshare/backend/internal/ws"
)

func initConfig() (*config.Config, error) {
	cfg := &config.Config{}
	v := viper.New()
	v.SetConfigName("syncConfig")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: %+v", cfg)

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	db, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := oplog.Migrate(db); err != nil {
		log.Fatalf("migrate operations failed: %v", err)
	}
	if err := checkpoint.Migrate(db); err != nil {
		log.Fatalf("migrate checkpoints failed: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		log.Fatalf("migrate documents failed: %v", err)
	}

	// === Kafka 镜像（可选）：brokers 为空时只走 redis 广播 ===
	var mirror *bus.KafkaMirror
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("Failed to connect kafka: %v", err)
		}
		defer producer.Close()

		kafkaSem := bus.NewSemaphoreControl(8)
		mirror = bus.NewKafkaMirror(producer, cfg.Kafka.Topic, kafkaSem, bus.KafkaMirrorOptions{
			QueueSize:   10_000,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  1 * time.Second,
		})
		defer mirror.Close()
	}

	b := bus.NewRedis(rdb)

	opStore := oplog.NewMySQLStore(db)
	opLog := oplog.NewLog(opStore, b, mirror)
	cpTracker := checkpoint.NewTracker(checkpoint.NewMySQLStore(db), opStore, cfg.Sync.CatchupWindow)
	presenceTTL := time.Duration(cfg.Sync.PresenceTTLSeconds) * time.Second
	presenceTracker := presence.NewTracker(presence.NewRedisStore(rdb), b, presenceTTL)
	docStore := store.NewDocumentStore(db)

	coord := syncpkg.NewCoordinator(docStore, opLog, cpTracker, presenceTracker, b, cfg.Sync.ReplayPageSize)
	rebuilder := snapshot.NewRebuilder(opLog, cpTracker, cfg.Sync.ReplayPageSize)

	hub := ws.NewHub()
	wsSem := bus.NewSemaphoreControl(64)
	manager := ws.NewManager(hub, coord, rebuilder, wsSem, cfg.Sync.SendQueueSize)
	docHandler := handlers.NewDocumentHandler(coord, rebuilder)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		// 允许任意来源（包含 file:// 场景的 Origin: null）
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "docid", "docId", "doc_id"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	collab := r.Group("/collab")
	// 鉴权中间件从 Authorization 或 ?token= 提取 token，写入 userId/username
	collab.Use(middleware.AuthMiddleware(cfg.Auth.Path))
	collab.GET("/ws", manager.WebSocketConnect)
	collab.POST("/documents", docHandler.CreateDocument)
	collab.GET("/documents/:docId", docHandler.GetDocument)
	collab.GET("/documents/:docId/history", docHandler.GetHistory)
	collab.GET("/documents/:docId/content", docHandler.GetContent)
	collab.POST("/documents/:docId/checkpoint", docHandler.SaveCheckpoint)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok", "connections": hub.Count()})
	})

	_ = r.Run(fmt.Sprintf(":%d", cfg.Running.Port))
}
