package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Transport moves encoded events between the channels sharing a topic.
// Delivery is asynchronous: deliver runs on a transport goroutine, never
// inside Publish.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, deliver func(payload []byte)) (cancel func(), err error)
}

var (
	_ Transport = (*MemoryTransport)(nil)
	_ Transport = (*RedisTransport)(nil)
)

const memoryQueueSize = 64

// MemoryTransport connects channels within one process.
type MemoryTransport struct {
	mu     sync.RWMutex
	topics map[string]map[*memorySubscription]struct{}
}

type memorySubscription struct {
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{topics: make(map[string]map[*memorySubscription]struct{})}
}

func (m *MemoryTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.RLock()
	subs := make([]*memorySubscription, 0, len(m.topics[topic]))
	for s := range m.topics[topic] {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.queue <- payload:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *MemoryTransport) Subscribe(ctx context.Context, topic string, deliver func([]byte)) (func(), error) {
	s := &memorySubscription{
		queue: make(chan []byte, memoryQueueSize),
		done:  make(chan struct{}),
	}

	m.mu.Lock()
	if m.topics[topic] == nil {
		m.topics[topic] = make(map[*memorySubscription]struct{})
	}
	m.topics[topic][s] = struct{}{}
	m.mu.Unlock()

	go func() {
		for {
			select {
			case payload := <-s.queue:
				deliver(payload)
			case <-s.done:
				return
			}
		}
	}()

	cancel := func() {
		s.once.Do(func() {
			m.mu.Lock()
			delete(m.topics[topic], s)
			m.mu.Unlock()
			close(s.done)
		})
	}
	return cancel, nil
}

// RedisTransport connects channels across processes through Redis pub/sub.
type RedisTransport struct {
	rdb redis.UniversalClient
}

func NewRedisTransport(rdb redis.UniversalClient) *RedisTransport {
	return &RedisTransport{rdb: rdb}
}

func (r *RedisTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	return r.rdb.Publish(ctx, topic, payload).Err()
}

// Subscribe returns once the subscription is confirmed by the server.
func (r *RedisTransport) Subscribe(ctx context.Context, topic string, deliver func([]byte)) (func(), error) {
	pubsub := r.rdb.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			deliver([]byte(msg.Payload))
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = pubsub.Close()
			<-done
		})
	}
	return cancel, nil
}
