package pubsub

import (
	"context"
	"errors"
	"sync"
)

var ErrBrokerClosed = errors.New("broker closed")

// Buffered payloads per subscriber. Publishing to a full buffer drops the
// payload for that subscriber.
const subscriberBuffer = 32

type memorySubscriber struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (s *memorySubscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// MemoryBroker is an in-process broker for single instance deployments.
type MemoryBroker struct {
	mu     sync.RWMutex
	topics map[string]map[*memorySubscriber]struct{}
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		topics: make(map[string]map[*memorySubscriber]struct{}),
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBrokerClosed
	}
	subs := make([]*memorySubscriber, 0, len(b.topics[topic]))
	for s := range b.topics[topic] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- payload:
		case <-s.done:
		default:
			// The subscriber still has notifications queued and will re-read
			// after them, so this one adds nothing.
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, topic string, handler Handler) (Unsubscribe, error) {
	s := &memorySubscriber{
		ch:   make(chan []byte, subscriberBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*memorySubscriber]struct{})
	}
	b.topics[topic][s] = struct{}{}
	b.mu.Unlock()

	go func() {
		for {
			select {
			case payload := <-s.ch:
				handler(payload)
			case <-s.done:
				return
			case <-ctx.Done():
				b.remove(topic, s)
				return
			}
		}
	}()

	return func() { b.remove(topic, s) }, nil
}

func (b *MemoryBroker) remove(topic string, s *memorySubscriber) {
	b.mu.Lock()
	if subs, ok := b.topics[topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
	b.mu.Unlock()
	s.stop()
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.topics {
		for s := range subs {
			s.stop()
		}
		delete(b.topics, topic)
	}
	return nil
}
