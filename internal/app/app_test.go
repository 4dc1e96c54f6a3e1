package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bissquit/incident-desk/internal/config"
	"github.com/bissquit/incident-desk/internal/domain"
	"github.com/bissquit/incident-desk/internal/notifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTargets(t *testing.T) {
	cfg := config.NotifyConfig{
		Email:      config.EmailConfig{Recipients: []string{"oncall@example.com", "  "}},
		Telegram:   config.TelegramConfig{ChatIDs: []string{" -100123 "}},
		Mattermost: config.MattermostConfig{WebhookURLs: []string{"https://mm.example.com/hooks/abc"}},
	}

	targets := buildTargets(cfg)

	assert.Equal(t, []notifications.Target{
		{Channel: domain.ChannelTypeEmail, To: "oncall@example.com"},
		{Channel: domain.ChannelTypeTelegram, To: "-100123"},
		{Channel: domain.ChannelTypeMattermost, To: "https://mm.example.com/hooks/abc"},
	}, targets)
}

func TestBuildSenders(t *testing.T) {
	t.Run("only enabled channels", func(t *testing.T) {
		cfg := config.Default().Notify
		cfg.Telegram.Enabled = true
		cfg.Telegram.BotToken = "123:abc"

		senders, err := buildSenders(cfg)

		require.NoError(t, err)
		require.Len(t, senders, 1)
		assert.Equal(t, domain.ChannelTypeTelegram, senders[0].Type())
	})

	t.Run("mattermost needs webhooks", func(t *testing.T) {
		cfg := config.Default().Notify
		cfg.Mattermost.WebhookURLs = []string{"https://mm.example.com/hooks/abc"}

		senders, err := buildSenders(cfg)

		require.NoError(t, err)
		require.Len(t, senders, 1)
		assert.Equal(t, domain.ChannelTypeMattermost, senders[0].Type())
	})

	t.Run("invalid email config", func(t *testing.T) {
		cfg := config.Default().Notify
		cfg.Email.Enabled = true

		_, err := buildSenders(cfg)

		assert.ErrorContains(t, err, "create email sender")
	})
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := initLogger(config.LogConfig{Level: tt.level, Format: "text"})

			assert.True(t, logger.Enabled(context.Background(), tt.want))
			assert.False(t, logger.Enabled(context.Background(), tt.want-1))
		})
	}
}

func TestOpenAPIHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	openAPIHandler(rec, httptest.NewRequest(http.MethodGet, "/api/openapi.yaml", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-yaml", rec.Header().Get("Content-Type"))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "openapi: 3.0.3")
}
