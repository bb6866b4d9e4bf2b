// Package pubsub fans change notifications out to live subscriptions.
//
// Stores without native listeners publish a notification after every write;
// subscribers re-read their query and deliver a fresh snapshot. Payloads are
// delivered to each subscriber in publish order. Publish never waits for a
// subscriber: a payload may be dropped for a subscriber that is still behind,
// which is harmless for change signals.
package pubsub

import (
	"context"
	"fmt"
	"log/slog"

	"rental-portal/internal/config"

	"github.com/redis/go-redis/v9"
)

// Handler receives one published payload.
type Handler func(payload []byte)

// Unsubscribe stops a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler Handler) (Unsubscribe, error)
	Close() error
}

// NewBroker builds the broker selected by cfg.Broker.Type.
func NewBroker(ctx context.Context, cfg *config.Config) (Broker, error) {
	switch cfg.Broker.Type {
	case "memory":
		return NewMemoryBroker(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		slog.Info("Connected to redis broker", "addr", cfg.Redis.Addr)
		return NewRedisBroker(client), nil
	default:
		return nil, fmt.Errorf("unsupported broker type %q", cfg.Broker.Type)
	}
}
