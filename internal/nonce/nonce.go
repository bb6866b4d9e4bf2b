package nonce

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"rental-portal/internal/config"
	"rental-portal/internal/storage"
)

var Store NonceStoreInterface

// Number of random bytes. 16 → 128‑bit
const NONCE_SIZE = 16

// How often expired nonces are pruned.
const JANITOR_INTERVAL = time.Minute

type NonceStoreType string

// Supported nonce stores.
const (
	Memory NonceStoreType = "memory"
	SQL    NonceStoreType = "sql"
)

type NonceMissingError struct {
	Nonce string
}

// Error implements the error interface.
func (e *NonceMissingError) Error() string {
	return fmt.Sprintf("nonce not found: %s", e.Nonce)
}

type NonceExpiredError struct {
	Nonce  string
	Expiry time.Time
}

// Error implements the error interface.
func (e *NonceExpiredError) Error() string {
	return fmt.Sprintf("nonce expired: %s (expiry: %s)", e.Nonce, e.Expiry)
}

type NonceStoreInterface interface {
	// stores a nonce with a TTL.
	Put(ctx context.Context, nonce string, ttl time.Duration) error
	// verifies and deletes the nonce.
	// Returns true if the nonce existed (valid request), false otherwise.
	Consume(ctx context.Context, nonce string) (bool, error)

	Exists(ctx context.Context, nonce string) bool

	ExpireNonces(ctx context.Context) error

	Close()
}

func generateNonceToken() (string, error) {
	b := make([]byte, NONCE_SIZE)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Nonce creates a new nonce, stores it in the nonce store, and returns it.
func Nonce(ttl time.Duration) (string, error) {
	if Store == nil {
		return "", fmt.Errorf("nonce store not initialized")
	}
	nonce, err := generateNonceToken()
	if err != nil {
		return "", err
	}

	if err := Store.Put(context.Background(), nonce, ttl); err != nil {
		return "", fmt.Errorf("failed to store nonce: %w", err)
	}
	return nonce, nil
}

// NewStore builds the appropriate Store implementation based on cfg.
func NewStore(cfg *config.Config, provider storage.Provider) (NonceStoreInterface, error) {
	switch NonceStoreType(cfg.NonceStore) {
	case Memory:
		return NewMemoryStore(), nil
	case SQL:
		if provider == nil {
			return nil, fmt.Errorf("nonce store %q requires a storage provider", cfg.NonceStore)
		}
		return NewSQLNonceStore(provider), nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.NonceStore)
	}
}

// InitNonceStore builds the configured store, starts its janitor and makes it
// globally accessible.
func InitNonceStore(cfg *config.Config, storageProvider storage.Provider) error {
	store, err := NewStore(cfg, storageProvider)
	if err != nil {
		return fmt.Errorf("failed to initialize nonce store: %w", err)
	}

	switch s := store.(type) {
	case *SQLNonceStore:
		go s.janitor(JANITOR_INTERVAL)
	case *MemoryStore:
		go s.janitor(JANITOR_INTERVAL)
	}

	Store = store

	slog.Info("Initialized nonce store", "type", cfg.NonceStore)
	return nil
}
