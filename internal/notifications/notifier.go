// Package notifications announces incident lifecycle changes to chat and email.
//
// The Notifier consumes the change feed, renders one message per configured
// target and hands delivery to a Worker pool that retries transient failures.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bissquit/incident-desk/internal/domain"
	"github.com/bissquit/incident-desk/internal/pkg/reltime"
)

// IncidentFinder loads the incident a change refers to.
type IncidentFinder interface {
	FindIncident(ctx context.Context, id string) (*domain.Incident, bool, error)
}

// Enqueuer accepts jobs for delivery.
type Enqueuer interface {
	Enqueue(job Job) error
}

// LifecycleChanges matches the incident changes that are announced.
func LifecycleChanges(c domain.Change) bool {
	if c.Table != domain.TableIncidents {
		return false
	}
	_, ok := messageTypeFor(c.Op)
	return ok
}

// Notifier turns incident changes into delivery jobs.
type Notifier struct {
	incidents IncidentFinder
	targets   []Target
	queue     Enqueuer
	clock     reltime.Clock
	baseURL   string
}

// NewNotifier creates a new Notifier. A nil clock falls back to the system clock.
func NewNotifier(incidents IncidentFinder, targets []Target, queue Enqueuer, baseURL string, clock reltime.Clock) *Notifier {
	if clock == nil {
		clock = reltime.SystemClock{}
	}
	return &Notifier{
		incidents: incidents,
		targets:   targets,
		queue:     queue,
		clock:     clock,
		baseURL:   baseURL,
	}
}

// Run handles changes until ctx is cancelled or changes is closed.
func (n *Notifier) Run(ctx context.Context, changes <-chan domain.Change) {
	slog.Info("notifier started", "targets", len(n.targets))

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if err := n.HandleChange(ctx, change); err != nil {
				slog.Error("failed to handle incident change",
					"incident_id", change.ID,
					"op", change.Op,
					"error", err,
				)
			}
		}
	}
}

// HandleChange enqueues one job per target for a created or resolved incident.
// Other changes are ignored. An incident removed before it could be loaded is skipped.
func (n *Notifier) HandleChange(ctx context.Context, change domain.Change) error {
	if !LifecycleChanges(change) || len(n.targets) == 0 {
		return nil
	}
	msgType, _ := messageTypeFor(change.Op)

	incident, found, err := n.incidents.FindIncident(ctx, change.ID)
	if err != nil {
		return fmt.Errorf("load incident: %w", err)
	}
	if !found {
		slog.Debug("incident gone before notification", "incident_id", change.ID)
		return nil
	}

	payload := NewPayload(msgType, incident, n.baseURL, n.clock.Now())

	var errs []error
	for _, target := range n.targets {
		if err := n.queue.Enqueue(Job{Target: target, Payload: payload}); err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s: %w", target.Channel, err))
		}
	}

	slog.Info("incident notification queued",
		"incident_id", incident.ID,
		"message_type", msgType,
		"targets", len(n.targets)-len(errs),
	)
	return errors.Join(errs...)
}
