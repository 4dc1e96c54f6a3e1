// Package seed populates an empty store with demonstration incidents.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/incident-desk/internal/changefeed"
	"github.com/bissquit/incident-desk/internal/domain"
	"github.com/bissquit/incident-desk/internal/pkg/ctxlog"
	"github.com/bissquit/incident-desk/internal/pkg/reltime"
)

// Store inserts incidents only if none exist yet and reports whether it did.
type Store interface {
	BootstrapIncidents(ctx context.Context, incidents []*domain.Incident) (bool, error)
}

// Result describes the outcome of a seed run.
type Result struct {
	Skipped bool `json:"skipped,omitempty"`
	Seeded  int  `json:"seeded,omitempty"`
}

// Seeder inserts demo data into an empty incidents table.
type Seeder struct {
	store     Store
	publisher changefeed.Publisher
	clock     reltime.Clock
}

// NewSeeder creates a seeder. publisher may be nil.
func NewSeeder(store Store, publisher changefeed.Publisher, clock reltime.Clock) *Seeder {
	if clock == nil {
		clock = reltime.SystemClock{}
	}
	return &Seeder{store: store, publisher: publisher, clock: clock}
}

// Run seeds the store. It is a no-op when any incident already exists.
func (s *Seeder) Run(ctx context.Context) (Result, error) {
	now := s.clock.Now()
	incidents := DemoIncidents(now)

	inserted, err := s.store.BootstrapIncidents(ctx, incidents)
	if err != nil {
		return Result{}, fmt.Errorf("seed incidents: %w", err)
	}
	if !inserted {
		return Result{Skipped: true}, nil
	}

	if s.publisher != nil {
		for _, incident := range incidents {
			change := domain.Change{
				Table:      domain.TableIncidents,
				Op:         domain.OpCreated,
				ID:         incident.ID,
				IncidentID: incident.ID,
				At:         now,
			}
			if err := s.publisher.Publish(ctx, change); err != nil {
				ctxlog.FromContext(ctx).Warn("failed to publish seeded incident", "id", incident.ID, "error", err)
			}
		}
	}

	return Result{Seeded: len(incidents)}, nil
}

type demoIncident struct {
	title       string
	description string
	severity    domain.Severity
	assignee    string
	openedAgo   time.Duration
	resolvedAgo time.Duration
}

var demoIncidents = []demoIncident{
	{
		title:       "API gateway returning 503s in eu-west-1",
		description: "Multiple customers reporting intermittent 503 errors. Error rate spiked to 18% at 14:32 UTC. Load balancer health checks failing on 3 of 8 nodes.",
		severity:    domain.SeverityP0,
		assignee:    "sarah@team.dev",
		openedAgo:   12 * time.Minute,
	},
	{
		title:       "Slow query degrading checkout performance",
		description: "P99 latency on /api/checkout jumped from 200ms to 4.2s after the 14:00 deploy. Identified a missing index on orders.user_id. Rollback in progress.",
		severity:    domain.SeverityP1,
		assignee:    "james@team.dev",
		openedAgo:   47 * time.Minute,
	},
	{
		title:       "Email notifications delayed by ~30 minutes",
		description: "SQS consumer queue depth growing. Workers appear healthy but throughput dropped after config change. No customer data loss, emails will eventually be delivered.",
		severity:    domain.SeverityP2,
		assignee:    "demo@incident.dev",
		openedAgo:   2 * time.Hour,
	},
	{
		title:       "Dashboard charts not rendering for Safari users",
		description: "Chart.js version 4.4.0 introduced a Safari 16 incompatibility. Affects approximately 8% of dashboard users. Workaround: use Chrome.",
		severity:    domain.SeverityP3,
		assignee:    "demo@incident.dev",
		openedAgo:   26 * time.Hour,
	},
	{
		title:       "Database failover caused 4-minute outage",
		description: "Primary RDS instance failed over to replica at 09:14 UTC. Automatic failover completed in 4m12s. Root cause: disk I/O saturation. Added CloudWatch alarm for future detection.",
		severity:    domain.SeverityP0,
		assignee:    "sarah@team.dev",
		openedAgo:   3*time.Hour + 20*time.Minute,
		resolvedAgo: 3 * time.Hour,
	},
	{
		title:       "CDN misconfiguration serving stale assets",
		description: "Cache-Control headers missing from static asset responses after infra change. Users saw stale JS/CSS for ~40 minutes. Cache invalidation completed, headers restored.",
		severity:    domain.SeverityP2,
		assignee:    "james@team.dev",
		openedAgo:   24*time.Hour + 40*time.Minute,
		resolvedAgo: 24 * time.Hour,
	},
}

// DemoIncidents returns the demonstration data relative to now.
// Four incidents are active; two were resolved 3h and 24h before now.
func DemoIncidents(now time.Time) []*domain.Incident {
	list := make([]*domain.Incident, 0, len(demoIncidents))
	for _, d := range demoIncidents {
		assignee := d.assignee
		incident := &domain.Incident{
			Title:       d.title,
			Description: d.description,
			Severity:    d.severity,
			Status:      domain.StatusActive,
			Assignee:    &assignee,
			CreatedAt:   now.Add(-d.openedAgo),
			UpdatedAt:   now.Add(-d.openedAgo),
		}
		if d.resolvedAgo > 0 {
			incident.Resolve(now.Add(-d.resolvedAgo))
		}
		list = append(list, incident)
	}
	return list
}
