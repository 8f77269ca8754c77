package bus

import (
	"context"
	"errors"
	"sync"
)

var ErrBusClosed = errors.New("BUS_CLOSED")

// Memory is an in-process Bus. Used by tests and single-node runs; the
// production deployment uses the Redis bus instead.
//
// 每个订阅者有自己的无界队列：发布方永远不阻塞、不丢消息，
// 慢消费者只会让自己的队列变长。
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[*memorySub]struct{})}
}

func (m *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrBusClosed
	}
	targets := make([]*memorySub, 0, len(m.subs[topic]))
	for s := range m.subs[topic] {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(payload)
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrBusClosed
	}
	s := &memorySub{
		bus:   m,
		topic: topic,
		out:   make(chan []byte),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[*memorySub]struct{})
	}
	m.subs[topic][s] = struct{}{}
	go s.pump()
	return s, nil
}

// Close tears down every subscription. Subsequent publishes fail.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	all := make([]*memorySub, 0)
	for _, subs := range m.subs {
		for s := range subs {
			all = append(all, s)
		}
	}
	m.subs = make(map[string]map[*memorySub]struct{})
	m.mu.Unlock()

	for _, s := range all {
		s.stop()
	}
	return nil
}

type memorySub struct {
	bus   *Memory
	topic string

	mu    sync.Mutex
	queue [][]byte

	out  chan []byte
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func (s *memorySub) C() <-chan []byte { return s.out }

func (s *memorySub) Err() error { return nil }

func (s *memorySub) Close() error {
	s.bus.mu.Lock()
	if subs, ok := s.bus.subs[s.topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.bus.subs, s.topic)
		}
	}
	s.bus.mu.Unlock()
	s.stop()
	return nil
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *memorySub) enqueue(payload []byte) {
	s.mu.Lock()
	s.queue = append(s.queue, payload)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump drains the queue into out, preserving publish order.
func (s *memorySub) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		var next []byte
		if len(s.queue) > 0 {
			next = s.queue[0]
			s.queue = s.queue[1:]
		}
		s.mu.Unlock()

		if next == nil {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}
