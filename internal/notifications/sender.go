package notifications

import (
	"context"

	"github.com/bissquit/incident-desk/internal/domain"
)

// Notification is a rendered message addressed to one target.
type Notification struct {
	To          string
	Subject     string
	Body        string
	Severity    string
	MessageType MessageType
}

// Sender delivers notifications over one channel type.
type Sender interface {
	Type() domain.ChannelType
	Send(ctx context.Context, notification Notification) error
}
