package bus

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemory_PublishSubscribe(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	sub, err := m.Subscribe(ctx, "t1")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Close()

	for i := 0; i < 5; i++ {
		if err := m.Publish(ctx, "t1", []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("Publish error: %v", err)
		}
	}

	// 顺序必须与发布一致
	for i := 0; i < 5; i++ {
		select {
		case got := <-sub.C():
			want := fmt.Sprintf("m%d", i)
			if string(got) != want {
				t.Fatalf("message %d = %q, want %q", i, got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestMemory_TopicIsolation(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	subA, _ := m.Subscribe(ctx, "a")
	defer subA.Close()
	subB, _ := m.Subscribe(ctx, "b")
	defer subB.Close()

	if err := m.Publish(ctx, "a", []byte("only-a")); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	select {
	case got := <-subA.C():
		if string(got) != "only-a" {
			t.Fatalf("subA got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("subA timed out")
	}
	select {
	case got := <-subB.C():
		t.Fatalf("subB received %q crossing topics", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemory_SlowConsumerDoesNotBlockPublish(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	sub, _ := m.Subscribe(ctx, "t")
	defer sub.Close()

	// 订阅者不读，发布方也不能被卡住
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = m.Publish(ctx, "t", []byte("x"))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publisher blocked on a slow consumer")
	}

	// 消息一条不丢
	for i := 0; i < 1000; i++ {
		select {
		case <-sub.C():
		case <-time.After(time.Second):
			t.Fatalf("missing message %d", i)
		}
	}
}

func TestMemory_CloseSubscription(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	sub, _ := m.Subscribe(ctx, "t")
	if err := sub.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed after Close")
	}
	if err := sub.Err(); err != nil {
		t.Fatalf("Err() = %v after clean close, want nil", err)
	}
}

func TestMemory_PublishAfterBusClose(t *testing.T) {
	m := NewMemory()
	_ = m.Close()
	if err := m.Publish(context.Background(), "t", []byte("x")); err != ErrBusClosed {
		t.Fatalf("Publish after close = %v, want ErrBusClosed", err)
	}
	if _, err := m.Subscribe(context.Background(), "t"); err != ErrBusClosed {
		t.Fatalf("Subscribe after close = %v, want ErrBusClosed", err)
	}
}
