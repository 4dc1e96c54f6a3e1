package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bissquit/incident-desk/internal/domain"
)

// Target is one configured destination, e.g. an email address or a webhook URL.
type Target struct {
	Channel domain.ChannelType
	To      string
}

// Dispatcher routes notifications to the sender for their channel type.
type Dispatcher struct {
	senders map[domain.ChannelType]Sender
	targets []Target
}

// NewDispatcher creates a new notification dispatcher. Targets whose channel
// type has no sender are dropped with a warning.
func NewDispatcher(targets []Target, senders ...Sender) *Dispatcher {
	senderMap := make(map[domain.ChannelType]Sender)
	for _, s := range senders {
		senderMap[s.Type()] = s
	}

	routable := make([]Target, 0, len(targets))
	for _, t := range targets {
		if _, ok := senderMap[t.Channel]; !ok {
			slog.Warn("no sender for notification target", "type", t.Channel)
			continue
		}
		routable = append(routable, t)
	}

	return &Dispatcher{
		senders: senderMap,
		targets: routable,
	}
}

// Targets returns the destinations every announcement goes to.
func (d *Dispatcher) Targets() []Target {
	return d.targets
}

// SendToChannel sends a notification through the sender for channelType.
func (d *Dispatcher) SendToChannel(ctx context.Context, channelType domain.ChannelType, notification Notification) error {
	sender, ok := d.senders[channelType]
	if !ok {
		return NewNonRetryableError(fmt.Errorf("%w: %s", ErrNoSender, channelType))
	}
	return sender.Send(ctx, notification)
}
