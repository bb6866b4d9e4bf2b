package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"rental-portal/internal/access"
	"rental-portal/internal/config"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/auth"
	"google.golang.org/api/googleapi"
	identitytoolkit "google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"
)

// FirebaseProvider manages users with the Admin SDK and signs them in with
// the password endpoint of the identity toolkit.
type FirebaseProvider struct {
	auth    *auth.Client
	toolkit *identitytoolkit.Service
	logger  *slog.Logger
}

func NewFirebaseProvider(ctx context.Context, app *firebase.App, cfg *config.Firebase) (*FirebaseProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("firebase.api_key is required for password sign-in")
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("app.Auth: %w", err)
	}
	toolkit, err := identitytoolkit.NewService(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("identitytoolkit.NewService: %w", err)
	}

	return &FirebaseProvider{
		auth:    client,
		toolkit: toolkit,
		logger:  slog.With("component", "identity", "provider", "firebase"),
	}, nil
}

// signInError maps identity toolkit error codes to the package errors. The
// code leads the message, optionally followed by " : detail".
func signInError(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	code, _, _ := strings.Cut(apiErr.Message, " ")
	switch code {
	case "INVALID_EMAIL":
		return ErrInvalidEmail
	case "EMAIL_NOT_FOUND":
		return ErrUserNotFound
	case "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS":
		return ErrWrongPassword
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		return ErrTooManyRequests
	case "EMAIL_EXISTS":
		return ErrEmailExists
	case "WEAK_PASSWORD":
		return ErrWeakPassword
	}
	return err
}

func (p *FirebaseProvider) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	email = access.NormalizeEmail(email)
	if err := access.ValidEmail(email); err != nil {
		return nil, ErrInvalidEmail
	}

	resp, err := p.toolkit.Relyingparty.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, signInError(err)
	}

	return &Identity{
		UID:         resp.LocalId,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
	}, nil
}

func (p *FirebaseProvider) SignUp(ctx context.Context, email, password string) (*Identity, error) {
	email = access.NormalizeEmail(email)
	if err := access.ValidEmail(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if len([]rune(password)) < MIN_PASSWORD_LENGTH {
		return nil, ErrWeakPassword
	}

	user, err := p.auth.CreateUser(ctx, (&auth.UserToCreate{}).Email(email).Password(password))
	if auth.IsEmailAlreadyExists(err) {
		return nil, ErrEmailExists
	} else if err != nil {
		return nil, signInError(err)
	}

	p.logger.Info("Account created", "uid", user.UID, "email", email)
	return recordIdentity(user), nil
}

func (p *FirebaseProvider) Claims(ctx context.Context, uid string) (map[string]any, error) {
	user, err := p.auth.GetUser(ctx, uid)
	if auth.IsUserNotFound(err) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, err
	}
	claims := make(map[string]any, len(user.CustomClaims))
	for k, v := range user.CustomClaims {
		claims[k] = v
	}
	return claims, nil
}

// SetAdminByEmail keeps any other custom claims the user already has.
func (p *FirebaseProvider) SetAdminByEmail(ctx context.Context, email string, admin bool) (*Identity, error) {
	user, err := p.auth.GetUserByEmail(ctx, access.NormalizeEmail(email))
	if auth.IsUserNotFound(err) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, err
	}

	claims := map[string]any{}
	for k, v := range user.CustomClaims {
		claims[k] = v
	}
	if admin {
		claims[ADMIN_CLAIM] = true
	} else {
		delete(claims, ADMIN_CLAIM)
	}
	if err := p.auth.SetCustomUserClaims(ctx, user.UID, claims); err != nil {
		return nil, fmt.Errorf("SetCustomUserClaims: %w", err)
	}

	p.logger.Info("Admin claim updated", "uid", user.UID, "email", user.Email, "admin", admin)
	return recordIdentity(user), nil
}

func recordIdentity(user *auth.UserRecord) *Identity {
	return &Identity{
		UID:         user.UID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
	}
}
