package storage

import (
	"context"
	"sync"
	"sync/atomic"

	"rental-portal/internal/pubsub"
)

const topicRequests = "rentalRequests"

func topicMessages(roomID string) string {
	return "rooms/" + roomID + "/messages"
}

// liveQuery emulates a snapshot listener on top of a broker: the query runs
// once up front and again after every notification on topic. Snapshots are
// delivered one at a time, in notification order, and never after dispose.
func liveQuery[T any](
	ctx context.Context,
	broker pubsub.Broker,
	topic string,
	query func(context.Context) ([]T, error),
	onSnapshot func([]T),
	onError func(error),
) (Unsubscribe, error) {
	ctx, cancel := context.WithCancel(ctx)

	var mu sync.Mutex
	var stopped atomic.Bool

	deliver := func() {
		mu.Lock()
		defer mu.Unlock()
		if stopped.Load() {
			return
		}
		items, err := query(ctx)
		if stopped.Load() {
			return
		}
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onSnapshot(items)
	}

	// Hold the lock until the initial snapshot is out, so notifications
	// racing with it queue behind.
	mu.Lock()
	var unsub pubsub.Unsubscribe
	if broker != nil {
		var err error
		unsub, err = broker.Subscribe(ctx, topic, func([]byte) { deliver() })
		if err != nil {
			mu.Unlock()
			cancel()
			return nil, err
		}
	}
	items, err := query(ctx)
	if err != nil {
		mu.Unlock()
		if unsub != nil {
			unsub()
		}
		cancel()
		return nil, err
	}
	onSnapshot(items)
	mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			stopped.Store(true)
			if unsub != nil {
				unsub()
			}
			cancel()
		})
	}, nil
}
