package nonce

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"rental-portal/internal/storage"
)

// SQLNonceStore keeps nonces in the document store so that revocations
// survive restarts and are shared between instances.
type SQLNonceStore struct {
	logger  *slog.Logger
	storage storage.NonceStorage

	stop chan struct{}
	once sync.Once
}

func NewSQLNonceStore(provider storage.NonceStorage) *SQLNonceStore {
	return &SQLNonceStore{
		logger:  slog.With("component", "SQLNonceStore"),
		storage: provider,
		stop:    make(chan struct{}),
	}
}

func (s *SQLNonceStore) Put(ctx context.Context, nonce string, ttl time.Duration) error {
	return s.storage.CreateNonce(ctx, nonce, time.Now().Add(ttl))
}

func (s *SQLNonceStore) Consume(ctx context.Context, nonce string) (bool, error) {
	exists, err := s.storage.ConsumeNonce(ctx, nonce)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, &NonceMissingError{Nonce: nonce}
	}
	return true, nil
}

func (s *SQLNonceStore) Exists(ctx context.Context, nonce string) bool {
	exists, err := s.storage.ExistsNonce(ctx, nonce)
	if err != nil {
		s.logger.Error("Failed to check nonce existence", "error", err)
		return false
	}
	return exists
}

func (s *SQLNonceStore) ExpireNonces(ctx context.Context) error {
	return s.storage.ExpireNonces(ctx, time.Now())
}

func (s *SQLNonceStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.ExpireNonces(context.Background()); err != nil {
				s.logger.Error("Failed to expire nonces", "error", err)
			}
		case <-s.stop:
			return
		}
	}
}

func (s *SQLNonceStore) Close() {
	s.once.Do(func() { close(s.stop) })
}
