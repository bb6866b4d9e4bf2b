// Package identity signs users in and out and reads the custom claims that
// carry the admin flag.
package identity

import (
	"context"
	"errors"
	"fmt"

	"rental-portal/internal/config"
	"rental-portal/internal/storage"

	firebase "firebase.google.com/go"
)

var (
	ErrInvalidEmail    = errors.New("invalid email")
	ErrUserNotFound    = errors.New("user not found")
	ErrWrongPassword   = errors.New("wrong password")
	ErrTooManyRequests = errors.New("too many requests")
	ErrEmailExists     = errors.New("email already in use")
	ErrWeakPassword    = errors.New("weak password")
)

// Minimum password length accepted on sign-up.
const MIN_PASSWORD_LENGTH = 6

// Name of the custom claim granting admin rights.
const ADMIN_CLAIM = "admin"

type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type Provider interface {
	SignIn(ctx context.Context, email, password string) (*Identity, error)
	SignUp(ctx context.Context, email, password string) (*Identity, error)
	// Claims reads the custom claims from the provider, never from a cache.
	Claims(ctx context.Context, uid string) (map[string]any, error)
	// SetAdminByEmail is the out-of-band way of granting the admin claim.
	SetAdminByEmail(ctx context.Context, email string, admin bool) (*Identity, error)
}

// IsAdmin reports whether claims carry admin == true. Any other value,
// including a truthy string, is not admin.
func IsAdmin(claims map[string]any) bool {
	admin, ok := claims[ADMIN_CLAIM].(bool)
	return ok && admin
}

func NewProvider(ctx context.Context, cfg *config.Config, store storage.Provider, app *firebase.App) (Provider, error) {
	switch cfg.Identity.Type {
	case "local":
		return NewLocalProvider(store), nil
	case "firebase":
		if app == nil {
			return nil, fmt.Errorf("firebase identity requires a firebase app")
		}
		return NewFirebaseProvider(ctx, app, &cfg.Firebase)
	}
	return nil, fmt.Errorf("unsupported identity type %q", cfg.Identity.Type)
}
