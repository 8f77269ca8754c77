package bus

import "context"

// Bus 是操作日志和在线状态共用的发布/订阅通道。
// Subscribe 返回前必须完成注册：订阅建立之后发布的消息一定会进入该订阅，
// 这是 "先订阅、再读库" 追平协议的前提。
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription is a cancelable stream of raw payloads for one topic.
// C is closed when the subscription is closed or the transport fails;
// Err tells the two apart (nil after a clean Close).
type Subscription interface {
	C() <-chan []byte
	Err() error
	Close() error
}
