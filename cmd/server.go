package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	. "rental-portal/internal"
	"rental-portal/internal/access"
	"rental-portal/internal/blob"
	"rental-portal/internal/config"
	"rental-portal/internal/email"
	"rental-portal/internal/identity"
	"rental-portal/internal/nonce"
	"rental-portal/internal/rentals"
	"rental-portal/internal/routes"
	"rental-portal/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
)

const SHUTDOWN_TIMEOUT = 10 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the rental portal server",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := ServerMain(ctx); err != nil {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	},
}

// LoadRBAC returns the process RBAC, replaced by the configured policy file
// when one is set.
func LoadRBAC(cfg *config.Config) (*access.RBAC, error) {
	rbac := access.GetRBAC()
	if cfg.RBAC.PolicyFile == "" {
		return rbac, nil
	}
	if err := rbac.LoadPolicy(cfg.RBAC.PolicyFile); err != nil {
		return nil, err
	}
	return rbac, nil
}

// NewServices wires the backends the handlers work on.
func NewServices(ctx context.Context) (*routes.Services, error) {
	identities, err := identity.NewProvider(ctx, cfg, provider, firebaseApp)
	if err != nil {
		return nil, err
	}
	blobs, err := blob.NewStore(ctx, cfg, firebaseApp)
	if err != nil {
		return nil, err
	}

	notifier := email.NewNotifier(email.NewClient(&cfg.Email), cfg.AdminEmail, cfg.BaseURL)

	rbac, err := LoadRBAC(cfg)
	if err != nil {
		return nil, err
	}

	return &routes.Services{
		Config:     cfg,
		Store:      provider,
		Identities: identities,
		Blobs:      blobs,
		Rentals:    rentals.NewService(provider, blobs, notifier, cfg.Locale),
		AllowList:  access.NewAllowList(provider, cfg.AdminEmail),
		Notifier:   notifier,
		RBAC:       rbac,
	}, nil
}

func ServerMain(ctx context.Context) error {
	if config.Cfg == nil {
		panic("Config not initialized.")
	}

	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := nonce.InitNonceStore(cfg, provider); err != nil {
		return err
	}

	services, err := NewServices(ctx)
	if err != nil {
		return err
	}

	engine, err := HTTPServer(services)
	if err != nil {
		return err
	}

	var handler http.Handler = engine
	if len(cfg.CORSOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowedHeaders:   []string{"Content-Type", "Accept"},
			AllowCredentials: true,
		}).Handler(engine)
	}

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("Listening", "addr", cfg.Listen, "version", utils.GetVersion())
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
