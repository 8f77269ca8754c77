package ws

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Codeshare/codeshare/backend/internal/bus"
	"github.com/Codeshare/codeshare/backend/internal/snapshot"
	"github.com/Codeshare/codeshare/backend/internal/sync"
)

// 全局的WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" { // 一些环境可能不发送 Origin，或为 "null"
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Manager struct {
	hub       *Hub
	coord     *sync.Coordinator
	rebuild   *snapshot.Rebuilder
	sem       *bus.SemaphoreControl
	sendQueue int
}

func NewManager(h *Hub, coord *sync.Coordinator, rebuild *snapshot.Rebuilder, sem *bus.SemaphoreControl, sendQueue int) *Manager {
	return &Manager{hub: h, coord: coord, rebuild: rebuild, sem: sem, sendQueue: sendQueue}
}

func (m *Manager) WebSocketConnect(c *gin.Context) {
	// 鉴权中间件已经写入 userId/username
	userID := c.GetUint64("userId")
	username := c.GetString("username")
	// clientId 标识本端编辑器实例，用于回声抑制；客户端不带就生成一个
	clientID := c.Query("clientId")
	if clientID == "" {
		clientID = fmt.Sprintf("c-%d", time.Now().UnixNano())
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, m.hub, userID, username, clientID, m.coord, m.rebuild, m.sem, m.sendQueue)
	m.hub.Register(wsConn)
	defer m.hub.Unregister(wsConn)

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go wsConn.writeLoop()
	wsConn.send <- ServerMessage{Type: "welcome", Content: "connected"}

	// 最后再进入读循环（阻塞至连接关闭）
	wsConn.readLoop(c.Request.Context())
}
