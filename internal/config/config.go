// Package config loads application configuration from defaults, a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides, e.g. INCIDENTDESK_DATABASE__URL.
const EnvPrefix = "INCIDENTDESK_"

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Log        LogConfig        `koanf:"log"`
	Auth       AuthConfig       `koanf:"auth"`
	Cookie     CookieConfig     `koanf:"cookie"`
	CORS       CORSConfig       `koanf:"cors"`
	ChangeFeed ChangeFeedConfig `koanf:"changefeed"`
	Seed       SeedConfig       `koanf:"seed"`
	Notify     NotifyConfig     `koanf:"notify"`
}

// ServerConfig configures the HTTP servers.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// AuthConfig configures session tokens and the bootstrap user.
type AuthConfig struct {
	SecretKey           string         `koanf:"secret_key"`
	AccessTokenDuration time.Duration  `koanf:"access_token_duration"`
	LoginRatePerMinute  float64        `koanf:"login_rate_per_minute"`
	LoginBurst          int            `koanf:"login_burst"`
	DemoUser            DemoUserConfig `koanf:"demo_user"`
}

// DemoUserConfig describes a user created or refreshed at startup.
// Leaving Email empty disables the bootstrap.
type DemoUserConfig struct {
	Email    string `koanf:"email"`
	Password string `koanf:"password"`
	Name     string `koanf:"name"`
}

// CookieConfig configures auth cookies.
type CookieConfig struct {
	Secure bool   `koanf:"secure"`
	Domain string `koanf:"domain"`
}

// CORSConfig configures allowed origins.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// ChangeFeed backends.
const (
	ChangeFeedMemory   = "memory"
	ChangeFeedPostgres = "postgres"
)

// ChangeFeedConfig configures live updates.
type ChangeFeedConfig struct {
	Backend          string        `koanf:"backend"`
	Channel          string        `koanf:"channel"`
	SubscriberBuffer int           `koanf:"subscriber_buffer"`
	KeepAlive        time.Duration `koanf:"keepalive"`
}

// SeedConfig configures demo data bootstrap.
type SeedConfig struct {
	OnStartup bool `koanf:"on_startup"`
}

// NotifyConfig configures lifecycle notifications.
type NotifyConfig struct {
	Enabled    bool             `koanf:"enabled"`
	BaseURL    string           `koanf:"base_url"`
	Email      EmailConfig      `koanf:"email"`
	Telegram   TelegramConfig   `koanf:"telegram"`
	Mattermost MattermostConfig `koanf:"mattermost"`
	Worker     WorkerConfig     `koanf:"worker"`
	Retry      RetryConfig      `koanf:"retry"`
}

// EmailConfig configures the SMTP sender.
type EmailConfig struct {
	Enabled      bool     `koanf:"enabled"`
	SMTPHost     string   `koanf:"smtp_host"`
	SMTPPort     int      `koanf:"smtp_port"`
	SMTPUser     string   `koanf:"smtp_user"`
	SMTPPassword string   `koanf:"smtp_password"`
	FromAddress  string   `koanf:"from_address"`
	Recipients   []string `koanf:"recipients"`
}

// TelegramConfig configures the Telegram Bot API sender.
type TelegramConfig struct {
	Enabled   bool     `koanf:"enabled"`
	BotToken  string   `koanf:"bot_token"`
	APIURL    string   `koanf:"api_url"`
	ChatIDs   []string `koanf:"chat_ids"`
	RateLimit float64  `koanf:"rate_limit"`
}

// MattermostConfig configures the incoming webhook sender.
type MattermostConfig struct {
	WebhookURLs []string `koanf:"webhook_urls"`
	Username    string   `koanf:"username"`
	IconURL     string   `koanf:"icon_url"`
}

// WorkerConfig configures the notification worker pool.
type WorkerConfig struct {
	NumWorkers int `koanf:"num_workers"`
	QueueSize  int `koanf:"queue_size"`
}

// RetryConfig configures delivery retries.
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
}

// Default returns the configuration used when nothing overrides a key.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      0,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			AutoMigrate:     true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Auth: AuthConfig{
			AccessTokenDuration: 24 * time.Hour,
			LoginRatePerMinute:  10,
			LoginBurst:          5,
		},
		Cookie: CookieConfig{
			Secure: true,
		},
		ChangeFeed: ChangeFeedConfig{
			Backend:          ChangeFeedMemory,
			Channel:          "incidentdesk_changes",
			SubscriberBuffer: 64,
			KeepAlive:        25 * time.Second,
		},
		Notify: NotifyConfig{
			Email: EmailConfig{
				SMTPPort: 587,
			},
			Telegram: TelegramConfig{
				APIURL:    "https://api.telegram.org",
				RateLimit: 1,
			},
			Mattermost: MattermostConfig{
				Username: "IncidentDesk",
			},
			Worker: WorkerConfig{
				NumWorkers: 2,
				QueueSize:  256,
			},
			Retry: RetryConfig{
				MaxAttempts:       3,
				InitialBackoff:    time.Second,
				MaxBackoff:        5 * time.Minute,
				BackoffMultiplier: 2.0,
			},
		},
	}
}

// Load reads configuration. Precedence: environment > file > defaults.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envKey maps INCIDENTDESK_AUTH__DEMO_USER__EMAIL to auth.demo_user.email.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks required settings.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Auth.SecretKey == "" {
		errs = append(errs, errors.New("auth.secret_key is required"))
	}
	if c.Auth.AccessTokenDuration <= 0 {
		errs = append(errs, errors.New("auth.access_token_duration must be positive"))
	}
	if c.Auth.DemoUser.Email != "" && c.Auth.DemoUser.Password == "" {
		errs = append(errs, errors.New("auth.demo_user.password is required when email is set"))
	}

	switch c.ChangeFeed.Backend {
	case ChangeFeedMemory, ChangeFeedPostgres:
	default:
		errs = append(errs, fmt.Errorf("changefeed.backend must be %q or %q, got %q",
			ChangeFeedMemory, ChangeFeedPostgres, c.ChangeFeed.Backend))
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
