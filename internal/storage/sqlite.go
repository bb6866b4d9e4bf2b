package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rental-portal/internal/config"
	"rental-portal/internal/pubsub"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

type SQLiteProvider struct {
	SQLProvider
}

func NewSQLiteProvider(cfg *config.Storage, broker pubsub.Broker) (*SQLiteProvider, error) {
	path := cfg.SQLite.Path
	var dsn string
	if path == "" || path == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database folder: %w", err)
		}
		dsn = path + "?_foreign_keys=on&_busy_timeout=5000"
	}

	base, err := NewSQLProvider("sqlite3", dsn, broker)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers anyway; one connection also keeps an
	// in-memory database alive for the lifetime of the provider.
	base.db.SetMaxOpenConns(1)
	base.db.SetMaxIdleConns(1)
	base.db.SetConnMaxLifetime(0)

	return &SQLiteProvider{SQLProvider: *base}, nil
}

// OpenSQLite opens the database and brings its schema to the latest version.
func OpenSQLite(ctx context.Context, cfg *config.Storage, broker pubsub.Broker) (*SQLiteProvider, error) {
	provider, err := NewSQLiteProvider(cfg, broker)
	if err != nil {
		return nil, err
	}
	if err := provider.runMigrations(ctx, "sqlite3"); err != nil {
		provider.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return provider, nil
}

func sqliteConstraint(err error, codes ...sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	for _, code := range codes {
		if sqliteErr.ExtendedCode == code {
			return true
		}
	}
	return false
}

// Users

func (p *SQLiteProvider) UpsertUser(ctx context.Context, user User) error {
	if user.ID == "" {
		return fmt.Errorf("user id is required")
	}
	ts := now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = ts
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = ts
	}
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO users (id, email, display_name, created_at, updated_at)
		VALUES (:id, :email, :display_name, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			email        = CASE WHEN excluded.email <> '' THEN excluded.email ELSE users.email END,
			display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE users.display_name END,
			updated_at   = excluded.updated_at`, user)
	return err
}

func (p *SQLiteProvider) GetUser(ctx context.Context, id string) (*User, error) {
	return getOne[User](ctx, p.db, `SELECT * FROM users WHERE id = ?`, id)
}

func (p *SQLiteProvider) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := p.db.SelectContext(ctx, &users, `SELECT * FROM users ORDER BY created_at DESC, id`)
	return users, err
}

// Rentals

func (p *SQLiteProvider) CreateRental(ctx context.Context, rental Rental) (Rental, error) {
	if rental.ID == "" {
		rental.ID = uuid.NewString()
	}
	if rental.CreatedAt.IsZero() {
		rental.CreatedAt = now()
	}
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO rentals (id, name, category, description, image_url, created_at)
		VALUES (:id, :name, :category, :description, :image_url, :created_at)`, rental)
	if sqliteConstraint(err, sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique) {
		return Rental{}, ErrConflict
	}
	return rental, err
}

// UpdateRental never touches created_at.
func (p *SQLiteProvider) UpdateRental(ctx context.Context, rental Rental) error {
	return expectRows(p.db.NamedExecContext(ctx, `
		UPDATE rentals SET name = :name, category = :category, description = :description, image_url = :image_url
		WHERE id = :id`, rental))
}

func (p *SQLiteProvider) DeleteRental(ctx context.Context, id string) error {
	return expectRows(p.db.ExecContext(ctx, `DELETE FROM rentals WHERE id = ?`, id))
}

func (p *SQLiteProvider) GetRental(ctx context.Context, id string) (*Rental, error) {
	return getOne[Rental](ctx, p.db, `SELECT * FROM rentals WHERE id = ?`, id)
}

func (p *SQLiteProvider) ListRentals(ctx context.Context, limit int) ([]Rental, error) {
	if limit <= 0 {
		limit = -1
	}
	var rentals []Rental
	err := p.db.SelectContext(ctx, &rentals, `SELECT * FROM rentals ORDER BY created_at DESC, id LIMIT ?`, limit)
	return rentals, err
}

// Rental requests

func (p *SQLiteProvider) CreateRentalRequest(ctx context.Context, request RentalRequest) (RentalRequest, error) {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = RequestStatusPending
	}
	if !request.Status.Valid() {
		return RentalRequest{}, fmt.Errorf("invalid request status %q", request.Status)
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now()
	}
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO rental_requests (id, rental_id, name, contact, start_date, end_date, note, status, created_at)
		VALUES (:id, :rental_id, :name, :contact, :start_date, :end_date, :note, :status, :created_at)`, request)
	if err != nil {
		return RentalRequest{}, err
	}
	p.notify(ctx, topicRequests)
	return request, nil
}

func (p *SQLiteProvider) ListRentalRequests(ctx context.Context) ([]RentalRequest, error) {
	var requests []RentalRequest
	err := p.db.SelectContext(ctx, &requests, `SELECT * FROM rental_requests ORDER BY created_at DESC, id`)
	return requests, err
}

func (p *SQLiteProvider) SubscribeRentalRequests(ctx context.Context, onSnapshot func([]RentalRequest), onError func(error)) (Unsubscribe, error) {
	return liveQuery(ctx, p.broker, topicRequests, p.ListRentalRequests, onSnapshot, onError)
}

// Rooms and messages

func (p *SQLiteProvider) UpsertRoom(ctx context.Context, room Room) error {
	if room.ID == "" {
		return fmt.Errorf("room id is required")
	}
	ts := now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = ts
	}
	if room.UpdatedAt.IsZero() {
		room.UpdatedAt = ts
	}
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO rooms (id, type, user_id, created_at, updated_at)
		VALUES (:id, :type, :user_id, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			type       = excluded.type,
			user_id    = excluded.user_id,
			updated_at = excluded.updated_at`, room)
	return err
}

func (p *SQLiteProvider) GetRoom(ctx context.Context, id string) (*Room, error) {
	return getOne[Room](ctx, p.db, `SELECT * FROM rooms WHERE id = ?`, id)
}

func (p *SQLiteProvider) AddMessage(ctx context.Context, roomID string, message Message) (Message, error) {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	message.RoomID = roomID
	if message.CreatedAt.IsZero() {
		message.CreatedAt = now()
	}
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO messages (id, room_id, text, sender_uid, sender_role, created_at)
		VALUES (:id, :room_id, :text, :sender_uid, :sender_role, :created_at)`, message)
	if sqliteConstraint(err, sqlite3.ErrConstraintForeignKey) {
		return Message{}, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	} else if err != nil {
		return Message{}, err
	}
	p.notify(ctx, topicMessages(roomID))
	return message, nil
}

func (p *SQLiteProvider) ListMessages(ctx context.Context, roomID string) ([]Message, error) {
	var messages []Message
	err := p.db.SelectContext(ctx, &messages, `SELECT * FROM messages WHERE room_id = ? ORDER BY created_at ASC, rowid ASC`, roomID)
	return messages, err
}

func (p *SQLiteProvider) SubscribeMessages(ctx context.Context, roomID string, onSnapshot func([]Message), onError func(error)) (Unsubscribe, error) {
	query := func(ctx context.Context) ([]Message, error) {
		return p.ListMessages(ctx, roomID)
	}
	return liveQuery(ctx, p.broker, topicMessages(roomID), query, onSnapshot, onError)
}

// Accounts

func (p *SQLiteProvider) CreateAccount(ctx context.Context, account Account) error {
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now()
	}
	account.Email = strings.ToLower(account.Email)
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO accounts (uid, email, display_name, password_hash, admin, created_at)
		VALUES (:uid, :email, :display_name, :password_hash, :admin, :created_at)`, account)
	if sqliteConstraint(err, sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique) {
		return ErrConflict
	}
	return err
}

func (p *SQLiteProvider) GetAccount(ctx context.Context, uid string) (*Account, error) {
	return getOne[Account](ctx, p.db, `SELECT * FROM accounts WHERE uid = ?`, uid)
}

func (p *SQLiteProvider) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	return getOne[Account](ctx, p.db, `SELECT * FROM accounts WHERE email = ?`, strings.ToLower(email))
}

func (p *SQLiteProvider) SetAccountAdmin(ctx context.Context, uid string, admin bool) error {
	return expectRows(p.db.ExecContext(ctx, `UPDATE accounts SET admin = ? WHERE uid = ?`, admin, uid))
}

// Allow-list

func (p *SQLiteProvider) AddAllowedEmail(ctx context.Context, entry AllowedEmail) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now()
	}
	entry.Email = normalizeEmail(entry.Email)
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO allowed_emails (email, added_by, created_at) VALUES (:email, :added_by, :created_at)
		ON CONFLICT (email) DO NOTHING`, entry)
	return err
}

func (p *SQLiteProvider) RemoveAllowedEmail(ctx context.Context, email string) error {
	return expectRows(p.db.ExecContext(ctx, `DELETE FROM allowed_emails WHERE email = ?`, normalizeEmail(email)))
}

func (p *SQLiteProvider) IsEmailAllowed(ctx context.Context, email string) (bool, error) {
	var allowed bool
	err := p.db.GetContext(ctx, &allowed, `SELECT EXISTS (SELECT 1 FROM allowed_emails WHERE email = ?)`, normalizeEmail(email))
	return allowed, err
}

func (p *SQLiteProvider) ListAllowedEmails(ctx context.Context) ([]AllowedEmail, error) {
	var entries []AllowedEmail
	err := p.db.SelectContext(ctx, &entries, `SELECT * FROM allowed_emails ORDER BY email`)
	return entries, err
}

func (p *SQLiteProvider) CreateAllowRequest(ctx context.Context, request AllowRequest) (AllowRequest, error) {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now()
	}
	request.Email = normalizeEmail(request.Email)
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO allow_requests (id, email, created_at) VALUES (:id, :email, :created_at)`, request)
	return request, err
}

func (p *SQLiteProvider) ListAllowRequests(ctx context.Context) ([]AllowRequest, error) {
	var requests []AllowRequest
	err := p.db.SelectContext(ctx, &requests, `SELECT * FROM allow_requests ORDER BY created_at DESC, id`)
	return requests, err
}
