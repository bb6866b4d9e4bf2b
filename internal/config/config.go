package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Name of the cookie holding the entry wall token.
const ACCESS_COOKIE_NAME = "rentals_access"

// Name of the cookie holding the signed-in user's session token.
const SESSION_COOKIE_NAME = "rentals_session"

// Lifetime of the entry wall cookie in seconds. Fixed at 7 days.
const ACCESS_TTL = 7 * 24 * 60 * 60

const QR_IMAGE_SIZE = 256

type RBACConfig struct {
	PolicyFile string `mapstructure:"policy_file"` // Path to the RBAC policy file, embedded policy when empty
}

// Email holds SMTP settings for admin notifications. Notifications are
// disabled when Host is empty.
type Email struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type Config struct {
	// Shared password for the entry wall.
	AccessPassword string `mapstructure:"access_password"`
	// Secret key for signing tokens. Must be set in production.
	Secret string `mapstructure:"access_jwt_secret"`
	// Admin e-mail. Used for display and for the signup/login allow check.
	AdminEmail string `mapstructure:"admin_email"`

	LogLevel string `mapstructure:"log_level"`
	Listen   string `mapstructure:"listen"`

	// Base URL for the application. Auto-detected from the request when empty.
	BaseURL string `mapstructure:"base_url"`

	// Comma separated list of allowed CIDR networks. Empty means allow all.
	AllowedNetworks string   `mapstructure:"allowed_networks"`
	CORSOrigins     []string `mapstructure:"cors_origins"`
	CookieSecure    bool     `mapstructure:"cookie_secure"`

	// User session TTL in days.
	UserAuthTTL uint   `mapstructure:"user_auth_ttl"`
	NonceStore  string `mapstructure:"nonce_store"`

	// Collation locale for listing sort, e.g. "ja".
	Locale string `mapstructure:"locale"`

	// How often an open chat connection re-checks its session.
	TalkSessionRecheck time.Duration `mapstructure:"talk_session_recheck"`

	RBAC RBACConfig `mapstructure:"rbac"`

	Storage  Storage  `mapstructure:"storage"`
	Identity Identity `mapstructure:"identity"`
	Blob     Blob     `mapstructure:"blob"`
	Broker   Broker   `mapstructure:"broker"`
	Redis    Redis    `mapstructure:"redis"`
	Firebase Firebase `mapstructure:"firebase"`

	Email Email `mapstructure:"email"`
}

var Cfg *Config

// Check if running in Docker container by checking for the presence of /.dockerenv file
func runningInDocker() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}

func getConfigPath() string {
	if runningInDocker() {
		return "/app/instance"
	}
	return "./instance"
}

// LoadConfig reads configuration from config.yaml and environment variables
// and stores the result in Cfg.
func LoadConfig(configFile ...string) (*Config, error) {
	var cfg Config

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(getConfigPath())
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, path := range configFile {
		if path != "" {
			v.SetConfigFile(path)
		}
	}

	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
		slog.Debug("No config file found, using environment only")
	}

	// Load configuration from environment variables
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %v", err)
	}

	// Convert relative sqlite path to absolute instance folder
	if p := cfg.Storage.SQLite.Path; p != "" && p != ":memory:" && !os.IsPathSeparator(p[0]) && !strings.HasPrefix(p, "./") {
		cfg.Storage.SQLite.Path = fmt.Sprintf("%s/%s", getConfigPath(), p)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Warn if secret is missing - this is a critical security setting for production
	if cfg.Secret == "" {
		if os.Getenv("GIN_MODE") == "release" {
			panic("ACCESS_JWT_SECRET configuration variable is required in production")
		} else {
			slog.Warn("Secret is not set. Do not use in production.")
		}
	}
	if cfg.AccessPassword == "" {
		slog.Warn("ACCESS_PASSWORD is not set, the entry wall cannot be opened")
	}

	Cfg = &cfg
	return &cfg, nil
}

// Validate checks backend selections.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "sqlite", "firestore":
	default:
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}
	switch c.Identity.Type {
	case "local", "firebase":
	default:
		return fmt.Errorf("unsupported identity type %q", c.Identity.Type)
	}
	switch c.Blob.Type {
	case "local", "s3", "firebase":
	default:
		return fmt.Errorf("unsupported blob type %q", c.Blob.Type)
	}
	switch c.Broker.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported broker type %q", c.Broker.Type)
	}
	if c.UserAuthTTL == 0 {
		return fmt.Errorf("user_auth_ttl must be at least one day")
	}
	return nil
}

// NeedsFirebase reports whether any backend uses the Firebase app.
func (c *Config) NeedsFirebase() bool {
	return c.Storage.Type == "firestore" || c.Identity.Type == "firebase" || c.Blob.Type == "firebase"
}
