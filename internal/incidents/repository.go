package incidents

import (
	"context"
	"time"

	"github.com/bissquit/incident-desk/internal/domain"
)

// Repository defines the interface for incident and comment storage.
type Repository interface {
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]*domain.Incident, error)
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	CreateIncident(ctx context.Context, incident *domain.Incident) error
	// ResolveIncident marks an active incident resolved at the given time.
	// Returns ErrIncidentNotFound or ErrIncidentAlreadyResolved.
	ResolveIncident(ctx context.Context, id string, at time.Time) (*domain.Incident, error)
	UpdateIncident(ctx context.Context, id string, patch IncidentPatch, at time.Time) (*domain.Incident, error)
	// DeleteIncident removes the incident together with its comments.
	DeleteIncident(ctx context.Context, id string) error

	ListComments(ctx context.Context, incidentID string) ([]*domain.Comment, error)
	CreateComment(ctx context.Context, comment *domain.Comment) error
}

// IncidentFilter holds filter options for listing incidents.
type IncidentFilter struct {
	Status *domain.IncidentStatus
}

// IncidentPatch holds the fields of a partial update. Nil fields are left unchanged.
// An empty Assignee clears it.
type IncidentPatch struct {
	Title       *string
	Description *string
	Severity    *domain.Severity
	Assignee    *string
}

// IsEmpty reports whether the patch changes nothing.
func (p IncidentPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Severity == nil && p.Assignee == nil
}
