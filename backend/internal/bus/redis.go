package bus

import (
	"context"
	"errors"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

var ErrSubscriptionLost = errors.New("SUBSCRIPTION_LOST")

// Redis is the production Bus, backed by Redis pub/sub channels.
// 一个 topic 对应一个 redis channel，多实例部署时事件照样能到达订阅者。
type Redis struct {
	rdb redis.UniversalClient
}

func NewRedis(rdb redis.UniversalClient) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	return r.rdb.Publish(ctx, topic, payload).Err()
}

func (r *Redis) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := r.rdb.Subscribe(ctx, topic)
	// Receive 等到服务端确认订阅才返回；没有这一步，
	// "先订阅再读库" 的顺序保证就不成立。
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	s := &redisSub{
		ps:   ps,
		out:  make(chan []byte),
		done: make(chan struct{}),
	}
	go s.forward(ps.Channel(redis.WithChannelSize(1024)))
	return s, nil
}

type redisSub struct {
	ps   *redis.PubSub
	out  chan []byte
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	closed bool
	err    error
}

func (s *redisSub) C() <-chan []byte { return s.out }

func (s *redisSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *redisSub) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
	return s.ps.Close()
}

func (s *redisSub) forward(ch <-chan *redis.Message) {
	defer close(s.out)
	for msg := range ch {
		// Close 之后消费者可能已经不读 out 了，不能卡死在这里
		select {
		case s.out <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
	// channel closed under us: only an error if nobody called Close
	s.mu.Lock()
	if !s.closed {
		s.err = ErrSubscriptionLost
	}
	s.mu.Unlock()
}
