package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"rental-portal/internal/access"
	"rental-portal/internal/storage"

	"github.com/google/uuid"
)

// Failed sign-ins tolerated per e-mail within failureWindow.
const (
	maxFailures   = 5
	failureWindow = 15 * time.Minute
)

// LocalProvider keeps credentials in the accounts collection of the
// document store.
type LocalProvider struct {
	store  storage.Provider
	logger *slog.Logger

	mu        sync.Mutex
	failures  map[string][]time.Time
	lastSweep time.Time
	clock     func() time.Time
}

func NewLocalProvider(store storage.Provider) *LocalProvider {
	return &LocalProvider{
		store:    store,
		logger:   slog.With("component", "identity", "provider", "local"),
		failures: make(map[string][]time.Time),
		clock:    time.Now,
	}
}

// recentFailures drops failures older than the window and returns the rest.
// The caller holds mu.
func (p *LocalProvider) recentFailures(email string) int {
	cutoff := p.clock().Add(-failureWindow)
	kept := p.failures[email][:0]
	for _, at := range p.failures[email] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(p.failures, email)
	} else {
		p.failures[email] = kept
	}
	return len(kept)
}

// recordFailure notes a failed sign-in. Once per window it also forgets
// every address without recent failures.
func (p *LocalProvider) recordFailure(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock()
	if now.Sub(p.lastSweep) >= failureWindow {
		for other := range p.failures {
			p.recentFailures(other)
		}
		p.lastSweep = now
	}
	p.failures[email] = append(p.failures[email], now)
}

// trackedFailures returns the number of addresses with failures on record.
func (p *LocalProvider) trackedFailures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.failures)
}

func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	email = access.NormalizeEmail(email)
	if err := access.ValidEmail(email); err != nil {
		return nil, ErrInvalidEmail
	}

	p.mu.Lock()
	limited := p.recentFailures(email) >= maxFailures
	p.mu.Unlock()
	if limited {
		return nil, ErrTooManyRequests
	}

	account, err := p.store.GetAccountByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		p.recordFailure(email)
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, err
	}

	ok, err := verifyPassword(password, account.PasswordHash)
	if err != nil {
		p.logger.Error("Stored password hash is unreadable", "uid", account.UID, "error", err)
		return nil, err
	}
	if !ok {
		p.recordFailure(email)
		return nil, ErrWrongPassword
	}

	p.mu.Lock()
	delete(p.failures, email)
	p.mu.Unlock()
	return accountIdentity(account), nil
}

func (p *LocalProvider) SignUp(ctx context.Context, email, password string) (*Identity, error) {
	email = access.NormalizeEmail(email)
	if err := access.ValidEmail(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if len([]rune(password)) < MIN_PASSWORD_LENGTH {
		return nil, ErrWeakPassword
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	account := storage.Account{
		UID:          uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
	}
	if err := p.store.CreateAccount(ctx, account); errors.Is(err, storage.ErrConflict) {
		return nil, ErrEmailExists
	} else if err != nil {
		return nil, err
	}

	p.logger.Info("Account created", "uid", account.UID, "email", email)
	return accountIdentity(&account), nil
}

func (p *LocalProvider) Claims(ctx context.Context, uid string) (map[string]any, error) {
	account, err := p.store.GetAccount(ctx, uid)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, err
	}
	claims := map[string]any{}
	if account.Admin {
		claims[ADMIN_CLAIM] = true
	}
	return claims, nil
}

func (p *LocalProvider) SetAdminByEmail(ctx context.Context, email string, admin bool) (*Identity, error) {
	account, err := p.store.GetAccountByEmail(ctx, access.NormalizeEmail(email))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, err
	}
	if err := p.store.SetAccountAdmin(ctx, account.UID, admin); err != nil {
		return nil, err
	}
	p.logger.Info("Admin claim updated", "uid", account.UID, "email", account.Email, "admin", admin)
	return accountIdentity(account), nil
}

func accountIdentity(account *storage.Account) *Identity {
	return &Identity{
		UID:         account.UID,
		Email:       account.Email,
		DisplayName: account.DisplayName,
	}
}
