// Package session tracks who is signed in and whether they are an admin.
//
// A Context follows an identity Source. Until the source reports for the
// first time the session is uninitialized and not ready; afterwards it is
// either Unauthenticated or Authenticated. On every authenticated report the
// profile document is upserted and the admin claim is re-read from the
// identity provider.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"rental-portal/internal/access"
	"rental-portal/internal/identity"
	"rental-portal/internal/storage"
)

var ErrTornDown = errors.New("session context torn down")

// State is either Unauthenticated or Authenticated.
type State interface {
	isState()
}

type Unauthenticated struct{}

type Authenticated struct {
	Identity identity.Identity
	// IsAdmin comes from the verified admin claim and is the only
	// authorization signal.
	IsAdmin bool
	// IsAdminEmail matches the configured admin address. Display only.
	IsAdminEmail bool
}

func (Unauthenticated) isState() {}
func (Authenticated) isState()   {}

// Source reports the current identity, nil when signed out. Watch calls fn
// with the current value and again on every change until stop is called.
type Source interface {
	Watch(fn func(*identity.Identity)) (stop func())
}

type Context struct {
	source     Source
	identities identity.Provider
	store      storage.Provider
	adminEmail string
	logger     *slog.Logger

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	state       State
	generation  uint64
	stop        func()
	initialized bool
	tornDown    bool
	readyCh     chan struct{}
	subscribers map[uint64]func(State)
	nextSub     uint64
}

func New(source Source, identities identity.Provider, store storage.Provider, adminEmail string) *Context {
	return &Context{
		source:      source,
		identities:  identities,
		store:       store,
		adminEmail:  adminEmail,
		logger:      slog.With("component", "session"),
		readyCh:     make(chan struct{}),
		subscribers: make(map[uint64]func(State)),
	}
}

// Initialize starts following the source. Calling it again is a no-op.
func (c *Context) Initialize(ctx context.Context) {
	c.mu.Lock()
	if c.initialized || c.tornDown {
		c.mu.Unlock()
		return
	}
	c.initialized = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	stop := c.source.Watch(c.onIdentity)

	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		stop()
		return
	}
	c.stop = stop
	c.mu.Unlock()
}

// Teardown stops following the source. Subscribers get no further updates.
func (c *Context) Teardown() {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return
	}
	c.tornDown = true
	stop := c.stop
	c.stop = nil
	cancel := c.cancel
	c.subscribers = make(map[uint64]func(State))
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if cancel != nil {
		cancel()
	}
}

// Subscribe calls fn on every resolved state change, and immediately with the
// current state when the session is already ready.
func (c *Context) Subscribe(fn func(State)) (dispose func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	current := c.state
	c.mu.Unlock()

	if current != nil {
		fn(current)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, id)
			c.mu.Unlock()
		})
	}
}

// Subscribers returns the number of active subscribers.
func (c *Context) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers)
}

// State returns nil while the session is not ready yet.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Context) Ready() bool {
	return c.State() != nil
}

// WaitReady blocks until the first state is resolved.
func (c *Context) WaitReady(ctx context.Context) (State, error) {
	select {
	case <-c.readyCh:
		return c.State(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Context) onIdentity(id *identity.Identity) {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return
	}
	c.generation++
	generation := c.generation
	ctx := c.ctx
	c.mu.Unlock()

	var next State
	if id == nil {
		next = Unauthenticated{}
	} else {
		next = c.resolve(ctx, *id)
	}

	c.mu.Lock()
	// A newer report arrived while this one was resolving.
	if c.tornDown || generation != c.generation {
		c.mu.Unlock()
		return
	}
	first := c.state == nil
	c.state = next
	subscribers := make([]func(State), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subscribers = append(subscribers, fn)
	}
	c.mu.Unlock()

	if first {
		close(c.readyCh)
	}
	for _, fn := range subscribers {
		fn(next)
	}
}

func (c *Context) resolve(ctx context.Context, id identity.Identity) Authenticated {
	if err := c.store.UpsertUser(ctx, storage.User{
		ID:          id.UID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
	}); err != nil {
		c.logger.Error("Failed to upsert user profile", "uid", id.UID, "error", err)
	}

	isAdmin := false
	claims, err := c.identities.Claims(ctx, id.UID)
	if err != nil {
		c.logger.Warn("Failed to refresh claims", "uid", id.UID, "error", err)
	} else {
		isAdmin = identity.IsAdmin(claims)
	}

	return Authenticated{
		Identity:     id,
		IsAdmin:      isAdmin,
		IsAdminEmail: access.SameEmail(id.Email, c.adminEmail),
	}
}
