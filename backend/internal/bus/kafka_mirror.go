package bus

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

// KafkaMirror：本地有界队列 + worker 异步发送 + 有限重试。
// 把已落库的操作事件镜像到 Kafka，供下游服务（统计、索引等）消费。
// 目标：
// - 不阻塞提交主链路（调用方只负责入队）
// - Kafka 短暂抖动靠队列吸收，后台慢慢补发
// - 重试打满后允许降级丢弃，避免内存无限增长
type KafkaMirror struct {
	producer sarama.SyncProducer
	topic    string

	queue chan mirrorItem

	// sem 限制并发的 SendMessage 数量
	sem *SemaphoreControl

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	wg sync.WaitGroup
}

type mirrorItem struct {
	key     string
	payload []byte
}

type KafkaMirrorOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewKafkaMirror(producer sarama.SyncProducer, topic string, sem *SemaphoreControl, opt KafkaMirrorOptions) *KafkaMirror {
	m := &KafkaMirror{
		producer:    producer,
		topic:       topic,
		queue:       make(chan mirrorItem, opt.QueueSize),
		sem:         sem,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}
	m.start()
	return m
}

// Enqueue 把事件放入本地队列；队列满时等待直到 ctx 超时。
// 镜像不要求强一致，不是每个事件都必须送达。
func (m *KafkaMirror) Enqueue(ctx context.Context, key string, payload []byte) error {
	select {
	case m.queue <- mirrorItem{key: key, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work and waits for workers to drain the queue.
func (m *KafkaMirror) Close() {
	close(m.queue)
	m.wg.Wait()
}

func (m *KafkaMirror) start() {
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.workerLoop(i)
	}
}

func (m *KafkaMirror) workerLoop(workerID int) {
	defer m.wg.Done()
	for item := range m.queue {
		m.sendWithRetry(workerID, item)
	}
}

func (m *KafkaMirror) sendWithRetry(workerID int, item mirrorItem) {
	for attempt := 0; attempt <= m.maxRetry; attempt++ {
		if m.sem != nil {
			// worker 允许一直等待，不会影响主链路
			_ = m.sem.Acquire(context.Background())
		}

		err := m.sendOnce(item)

		if m.sem != nil {
			_ = m.sem.Release()
		}

		if err == nil {
			return
		}

		if attempt == m.maxRetry {
			log.Printf("kafka mirror send failed, drop event key=%s worker=%d err=%v",
				item.key, workerID, err)
			return
		}

		// 指数退避
		backoff := m.baseBackoff * time.Duration(1<<attempt)
		if backoff > m.maxBackoff {
			backoff = m.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (m *KafkaMirror) sendOnce(item mirrorItem) error {
	if m.producer == nil || m.topic == "" {
		return nil
	}
	msg := &sarama.ProducerMessage{
		Topic: m.topic,
		// key 用 docId，同一文档的事件落同一分区保持有序
		Key:   sarama.StringEncoder(item.key),
		Value: sarama.ByteEncoder(item.payload),
	}
	_, _, err := m.producer.SendMessage(msg)
	return err
}
