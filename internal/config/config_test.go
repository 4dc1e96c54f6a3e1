package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsWithRequiredEnv(t *testing.T) {
	t.Setenv("INCIDENTDESK_DATABASE__URL", "postgres://localhost/incidents")
	t.Setenv("INCIDENTDESK_AUTH__SECRET_KEY", "secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/incidents", cfg.Database.URL)
	assert.Equal(t, "secret", cfg.Auth.SecretKey)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 24*time.Hour, cfg.Auth.AccessTokenDuration)
	assert.Equal(t, ChangeFeedMemory, cfg.ChangeFeed.Backend)
	assert.Equal(t, 3, cfg.Notify.Retry.MaxAttempts)
	assert.True(t, cfg.Database.AutoMigrate)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9000"
database:
  url: postgres://db/incidents
  connect_timeout: 5s
auth:
  secret_key: from-file
  demo_user:
    email: demo@incident.dev
    password: demo-pass
    name: Demo User
changefeed:
  backend: postgres
log:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.MetricsPort, "unset keys keep defaults")
	assert.Equal(t, 5*time.Second, cfg.Database.ConnectTimeout)
	assert.Equal(t, "demo@incident.dev", cfg.Auth.DemoUser.Email)
	assert.Equal(t, "Demo User", cfg.Auth.DemoUser.Name)
	assert.Equal(t, ChangeFeedPostgres, cfg.ChangeFeed.Backend)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://db/incidents
auth:
  secret_key: from-file
server:
  port: "9000"
`)
	t.Setenv("INCIDENTDESK_SERVER__PORT", "7000")
	t.Setenv("INCIDENTDESK_AUTH__ACCESS_TOKEN_DURATION", "1h")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, time.Hour, cfg.Auth.AccessTokenDuration)
	assert.Equal(t, "from-file", cfg.Auth.SecretKey)
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ChangeFeedPostgres, cfg.ChangeFeed.Backend)
	assert.Equal(t, "demo@incident.dev", cfg.Auth.DemoUser.Email)
	assert.True(t, cfg.Seed.OnStartup)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing database url",
			mutate:  func(c *Config) { c.Database.URL = "" },
			wantErr: "database.url is required",
		},
		{
			name:    "missing secret",
			mutate:  func(c *Config) { c.Auth.SecretKey = "" },
			wantErr: "auth.secret_key is required",
		},
		{
			name:    "unknown changefeed backend",
			mutate:  func(c *Config) { c.ChangeFeed.Backend = "redis" },
			wantErr: "changefeed.backend",
		},
		{
			name:    "demo user without password",
			mutate:  func(c *Config) { c.Auth.DemoUser.Email = "demo@incident.dev" },
			wantErr: "auth.demo_user.password",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "log.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Database.URL = "postgres://db/incidents"
			cfg.Auth.SecretKey = "secret"
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "database.url", envKey("INCIDENTDESK_DATABASE__URL"))
	assert.Equal(t, "auth.demo_user.email", envKey("INCIDENTDESK_AUTH__DEMO_USER__EMAIL"))
	assert.Equal(t, "server.metrics_port", envKey("INCIDENTDESK_SERVER__METRICS_PORT"))
}
