package app

import (
	"fmt"
	"strings"

	"github.com/bissquit/incident-desk/internal/config"
	"github.com/bissquit/incident-desk/internal/domain"
	"github.com/bissquit/incident-desk/internal/notifications"
	"github.com/bissquit/incident-desk/internal/notifications/email"
	"github.com/bissquit/incident-desk/internal/notifications/mattermost"
	"github.com/bissquit/incident-desk/internal/notifications/telegram"
)

// buildSenders returns a sender for every channel that is switched on.
// Targets of a channel without a sender are dropped by the dispatcher.
func buildSenders(cfg config.NotifyConfig) ([]notifications.Sender, error) {
	var senders []notifications.Sender

	if cfg.Email.Enabled {
		sender, err := email.NewSender(email.Config{
			Enabled:      true,
			SMTPHost:     cfg.Email.SMTPHost,
			SMTPPort:     cfg.Email.SMTPPort,
			SMTPUser:     cfg.Email.SMTPUser,
			SMTPPassword: cfg.Email.SMTPPassword,
			FromAddress:  cfg.Email.FromAddress,
		})
		if err != nil {
			return nil, fmt.Errorf("create email sender: %w", err)
		}
		senders = append(senders, sender)
	}

	if cfg.Telegram.Enabled {
		sender, err := telegram.NewSender(telegram.Config{
			Enabled:   true,
			BotToken:  cfg.Telegram.BotToken,
			APIURL:    cfg.Telegram.APIURL,
			RateLimit: cfg.Telegram.RateLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("create telegram sender: %w", err)
		}
		senders = append(senders, sender)
	}

	if len(cfg.Mattermost.WebhookURLs) > 0 {
		senders = append(senders, mattermost.NewSender(mattermost.Config{
			Username: cfg.Mattermost.Username,
			IconURL:  cfg.Mattermost.IconURL,
		}))
	}

	return senders, nil
}

// buildTargets lists configured recipients. Blank entries are skipped.
func buildTargets(cfg config.NotifyConfig) []notifications.Target {
	var targets []notifications.Target
	add := func(channel domain.ChannelType, addresses []string) {
		for _, to := range addresses {
			to = strings.TrimSpace(to)
			if to == "" {
				continue
			}
			targets = append(targets, notifications.Target{Channel: channel, To: to})
		}
	}

	add(domain.ChannelTypeEmail, cfg.Email.Recipients)
	add(domain.ChannelTypeTelegram, cfg.Telegram.ChatIDs)
	add(domain.ChannelTypeMattermost, cfg.Mattermost.WebhookURLs)
	return targets
}
