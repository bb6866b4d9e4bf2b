// Package cloud builds the clients of the hosted backend.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"rental-portal/internal/config"

	firebase "firebase.google.com/go"
	"google.golang.org/api/option"
)

var ErrFirebaseNotConfigured = errors.New("firebase project is not configured")

// ClientOptions returns the Google API options for the configured
// credentials. Without a credentials file the application default
// credentials are used.
func ClientOptions(cfg *config.Firebase) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	return opts
}

// NewFirebaseApp returns nil when no component is configured to use Firebase.
func NewFirebaseApp(ctx context.Context, cfg *config.Config) (*firebase.App, error) {
	if !cfg.NeedsFirebase() {
		return nil, nil
	}
	if cfg.Firebase.ProjectID == "" {
		return nil, ErrFirebaseNotConfigured
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:     cfg.Firebase.ProjectID,
		StorageBucket: cfg.Firebase.StorageBucket,
	}, ClientOptions(&cfg.Firebase)...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}

	slog.Info("Firebase app initialised", "project", cfg.Firebase.ProjectID)
	return app, nil
}
