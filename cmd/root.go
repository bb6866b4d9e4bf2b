package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"rental-portal/internal/cloud"
	"rental-portal/internal/config"
	"rental-portal/internal/pubsub"
	"rental-portal/internal/storage"

	firebase "firebase.google.com/go"
	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	cfg         *config.Config
	broker      pubsub.Broker
	firebaseApp *firebase.App
	provider    storage.Provider
)

var rootCmd = &cobra.Command{
	Use:   "rental-portal",
	Short: "Password-gated rental listing portal",
	Long:  `Serve the rental portal and manage its users, rentals and allow-list.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		var err error
		cfg, err = config.LoadConfig(cfgFile)
		if err != nil {
			slog.Error("Failed to load configuration", "error", err)
			os.Exit(1)
		}
		initLogger(cfg)

		broker, err = pubsub.NewBroker(ctx, cfg)
		if err != nil {
			slog.Error("Failed to initialize broker", "type", cfg.Broker.Type, "error", err)
			os.Exit(1)
		}

		firebaseApp, err = cloud.NewFirebaseApp(ctx, cfg)
		if err != nil {
			slog.Error("Failed to initialize firebase", "error", err)
			os.Exit(1)
		}

		provider, err = storage.NewProvider(ctx, cfg, broker, firebaseApp)
		if err != nil {
			slog.Error("Failed to initialize storage provider", "type", cfg.Storage.Type, "error", err)
			os.Exit(1)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if provider != nil {
			provider.Close()
		}
		if broker != nil {
			broker.Close()
		}
	},
}

// Initialize logger
func initLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Debug("Logger initialized", "level", level.String())
	return logger
}

// quietLogger keeps table output clean for CLI listings.
func quietLogger() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})))
}

// fail prints err and exits.
func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./instance/config.yaml)")
}
