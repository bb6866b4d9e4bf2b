// Package chat controls access to the per-user support rooms.
//
// A room's id is the uid of the one non-admin user it belongs to. That user
// and any admin may read and write it.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"rental-portal/internal/session"
	"rental-portal/internal/storage"
)

var (
	ErrMissingRoom  = errors.New("room id is required")
	ErrNotSignedIn  = errors.New("not signed in")
	ErrAccessDenied = errors.New("room access denied")
	ErrNotReady     = errors.New("room is not ready")
	ErrSendFailed   = errors.New("failed to send message")
)

// CanAccess is the room predicate. It holds for an authenticated admin, and
// for the user whose uid equals roomID.
func CanAccess(state session.State, roomID string) bool {
	auth, ok := state.(session.Authenticated)
	if !ok || roomID == "" {
		return false
	}
	return auth.IsAdmin || auth.Identity.UID == roomID
}

// Alert returns the message shown to the user for a send or open failure.
func Alert(err error) string {
	switch {
	case errors.Is(err, ErrNotSignedIn):
		return "ログインしてください"
	case errors.Is(err, ErrAccessDenied):
		return "このトークにはアクセスできません"
	case errors.Is(err, ErrNotReady):
		return "準備中です。少し待ってください"
	}
	return "送信に失敗しました"
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseWaitingSession
	PhaseDenied
	PhaseProvisioning
	PhaseReady
	PhaseSubscribed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWaitingSession:
		return "waiting-session"
	case PhaseDenied:
		return "denied"
	case PhaseProvisioning:
		return "provisioning"
	case PhaseReady:
		return "ready"
	case PhaseSubscribed:
		return "subscribed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Controller opens one room for one session. The room document is
// provisioned before any message subscription is made.
type Controller struct {
	session *session.Context
	store   storage.Provider
	roomID  string
	logger  *slog.Logger

	mu             sync.Mutex
	phase          Phase
	messages       []storage.Message
	unsubscribe    storage.Unsubscribe
	disposeSession func()
	listeners      map[uint64]func([]storage.Message)
	nextListener   uint64
	closed         bool
}

func NewController(sess *session.Context, store storage.Provider, roomID string) *Controller {
	return &Controller{
		session:   sess,
		store:     store,
		roomID:    roomID,
		logger:    slog.With("component", "chat", "room", roomID),
		listeners: make(map[uint64]func([]storage.Message)),
	}
}

func (c *Controller) RoomID() string {
	return c.roomID
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// Open waits for the session, checks the predicate, provisions the room and
// subscribes to its messages. On failure the controller is back in idle, or
// in denied when the predicate does not hold.
func (c *Controller) Open(ctx context.Context) error {
	if c.roomID == "" {
		return ErrMissingRoom
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotReady
	}
	if c.phase == PhaseSubscribed {
		c.mu.Unlock()
		return nil
	}
	c.phase = PhaseWaitingSession
	c.mu.Unlock()

	state, err := c.session.WaitReady(ctx)
	if err != nil {
		c.setPhase(PhaseIdle)
		return err
	}
	if _, ok := state.(session.Authenticated); !ok {
		c.setPhase(PhaseDenied)
		return ErrNotSignedIn
	}
	if !CanAccess(state, c.roomID) {
		c.setPhase(PhaseDenied)
		return ErrAccessDenied
	}

	c.setPhase(PhaseProvisioning)
	err = c.store.UpsertRoom(ctx, storage.Room{
		ID:     c.roomID,
		Type:   storage.RoomTypeSupport,
		UserID: c.roomID,
	})
	if err != nil {
		c.logger.Error("Failed to provision room", "error", err)
		c.setPhase(PhaseIdle)
		return err
	}
	c.setPhase(PhaseReady)

	unsubscribe, err := c.store.SubscribeMessages(ctx, c.roomID, c.onSnapshot, c.onError)
	if err != nil {
		c.logger.Error("Failed to subscribe to messages", "error", err)
		c.setPhase(PhaseIdle)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		unsubscribe()
		return ErrNotReady
	}
	c.unsubscribe = unsubscribe
	c.phase = PhaseSubscribed
	c.mu.Unlock()

	// Losing access later, e.g. by signing out, drops the subscription.
	dispose := c.session.Subscribe(func(state session.State) {
		if !CanAccess(state, c.roomID) {
			c.drop(PhaseDenied)
		}
	})
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		dispose()
		return ErrNotReady
	}
	// A reopen after a drop replaces the watcher of the earlier Open.
	previous := c.disposeSession
	c.disposeSession = dispose
	c.mu.Unlock()

	if previous != nil {
		previous()
	}
	return nil
}

func (c *Controller) onSnapshot(messages []storage.Message) {
	c.mu.Lock()
	if c.closed || c.phase != PhaseSubscribed && c.phase != PhaseReady {
		c.mu.Unlock()
		return
	}
	c.messages = messages
	listeners := make([]func([]storage.Message), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(messages)
	}
}

func (c *Controller) onError(err error) {
	c.logger.Error("Message subscription failed", "error", err)
	c.drop(PhaseIdle)
}

// drop cancels the message subscription and moves to phase.
func (c *Controller) drop(phase Phase) {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.messages = nil
	c.phase = phase
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Messages returns the latest snapshot, ordered by creation time.
func (c *Controller) Messages() []storage.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]storage.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// OnMessages registers fn for every future snapshot.
func (c *Controller) OnMessages(fn func([]storage.Message)) (dispose func()) {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Send appends a message to the room. Whitespace-only text is ignored. Every
// local rejection happens before anything is written.
func (c *Controller) Send(ctx context.Context, text string) error {
	state := c.session.State()
	if state == nil {
		return ErrNotReady
	}
	auth, ok := state.(session.Authenticated)
	if !ok {
		return ErrNotSignedIn
	}
	if c.roomID == "" {
		return ErrMissingRoom
	}
	if !CanAccess(state, c.roomID) {
		return ErrAccessDenied
	}
	if phase := c.Phase(); phase != PhaseReady && phase != PhaseSubscribed {
		return ErrNotReady
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	role := storage.SenderRoleUser
	if auth.IsAdmin {
		role = storage.SenderRoleAdmin
	}
	_, err := c.store.AddMessage(ctx, c.roomID, storage.Message{
		Text:       text,
		SenderUID:  auth.Identity.UID,
		SenderRole: role,
	})
	if err != nil {
		c.logger.Error("Failed to send message", "uid", auth.Identity.UID, "error", err)
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Close releases the subscription. The controller cannot be reopened.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	disposeSession := c.disposeSession
	c.disposeSession = nil
	c.listeners = make(map[uint64]func([]storage.Message))
	c.phase = PhaseIdle
	c.mu.Unlock()

	if disposeSession != nil {
		disposeSession()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
}
