package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rental-portal/internal/config"
	"rental-portal/internal/pubsub"

	firebase "firebase.google.com/go"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrConflict = errors.New("document already exists")
)

// Unsubscribe disposes a live query. Calling it more than once is a no-op.
type Unsubscribe func()

type NonceStorage interface {
	CreateNonce(ctx context.Context, nonce string, expiresAt time.Time) error
	ExistsNonce(ctx context.Context, nonce string) (bool, error)
	ConsumeNonce(ctx context.Context, nonce string) (bool, error)
	ExpireNonces(ctx context.Context, now time.Time) error
}

type Provider interface {
	Close() error
	GetSchemaVersion(ctx context.Context) (int, error)

	NonceStorage

	// Profiles. Upsert merges: empty fields never overwrite stored values and
	// the first CreatedAt is kept.
	UpsertUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// Rentals. List is newest first; limit <= 0 means all.
	CreateRental(ctx context.Context, rental Rental) (Rental, error)
	UpdateRental(ctx context.Context, rental Rental) error
	DeleteRental(ctx context.Context, id string) error
	GetRental(ctx context.Context, id string) (*Rental, error)
	ListRentals(ctx context.Context, limit int) ([]Rental, error)

	// Rental requests, newest first.
	CreateRentalRequest(ctx context.Context, request RentalRequest) (RentalRequest, error)
	ListRentalRequests(ctx context.Context) ([]RentalRequest, error)
	SubscribeRentalRequests(ctx context.Context, onSnapshot func([]RentalRequest), onError func(error)) (Unsubscribe, error)

	// Chat rooms. Messages are ordered by CreatedAt ascending.
	UpsertRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, id string) (*Room, error)
	AddMessage(ctx context.Context, roomID string, message Message) (Message, error)
	ListMessages(ctx context.Context, roomID string) ([]Message, error)
	SubscribeMessages(ctx context.Context, roomID string, onSnapshot func([]Message), onError func(error)) (Unsubscribe, error)

	// Credentials of the built-in identity provider.
	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, uid string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	SetAccountAdmin(ctx context.Context, uid string, admin bool) error

	// Allow-list of e-mail addresses that may sign up and log in.
	AddAllowedEmail(ctx context.Context, entry AllowedEmail) error
	RemoveAllowedEmail(ctx context.Context, email string) error
	IsEmailAllowed(ctx context.Context, email string) (bool, error)
	ListAllowedEmails(ctx context.Context) ([]AllowedEmail, error)
	CreateAllowRequest(ctx context.Context, request AllowRequest) (AllowRequest, error)
	ListAllowRequests(ctx context.Context) ([]AllowRequest, error)
}

// NewProvider opens the configured document store. The broker drives live
// queries of the SQLite provider; the firebase app is required for Firestore.
func NewProvider(ctx context.Context, cfg *config.Config, broker pubsub.Broker, app *firebase.App) (Provider, error) {
	switch cfg.Storage.Type {
	case "sqlite":
		return OpenSQLite(ctx, &cfg.Storage, broker)

	case "firestore":
		if app == nil {
			return nil, fmt.Errorf("firestore storage requires a firebase app")
		}
		return NewFirestoreProvider(ctx, app)

	default:
		slog.Error("Unsupported storage configuration", "type", cfg.Storage.Type)
	}

	return nil, fmt.Errorf("unsupported storage type %q", cfg.Storage.Type)
}
