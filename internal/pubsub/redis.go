package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

const redisTopicPrefix = "rentals:"

// RedisBroker shares notifications between instances through redis pub/sub.
type RedisBroker struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{
		client: client,
		logger: slog.With("component", "RedisBroker"),
	}
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, redisTopicPrefix+topic, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string, handler Handler) (Unsubscribe, error) {
	ps := b.client.Subscribe(ctx, redisTopicPrefix+topic)

	// Wait for the subscription to be confirmed so no publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			if err := ps.Close(); err != nil {
				b.logger.Warn("Failed to close subscription", "topic", topic, "error", err)
			}
		})
	}

	ch := ps.Channel()
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			case <-ctx.Done():
				stop()
				return
			}
		}
	}()

	return stop, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
