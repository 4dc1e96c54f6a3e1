// Package incidents provides HTTP handlers and business logic for incidents and their comments.
package incidents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bissquit/incident-desk/internal/changefeed"
	"github.com/bissquit/incident-desk/internal/domain"
	"github.com/bissquit/incident-desk/internal/pkg/ctxlog"
	"github.com/bissquit/incident-desk/internal/pkg/metrics"
	"github.com/bissquit/incident-desk/internal/pkg/reltime"
	"github.com/google/uuid"
)

// maxAssigneeLength matches the incidents.assignee column.
const maxAssigneeLength = 255

// Service implements incident business logic.
type Service struct {
	repo      Repository
	publisher changefeed.Publisher
	clock     reltime.Clock
}

// NewService creates a new incident service. A nil clock uses the system clock.
func NewService(repo Repository, publisher changefeed.Publisher, clock reltime.Clock) *Service {
	if clock == nil {
		clock = reltime.SystemClock{}
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		clock:     clock,
	}
}

// CreateIncidentInput holds data for creating an incident.
type CreateIncidentInput struct {
	Title       string
	Description string
	Severity    domain.Severity
	Assignee    string
}

// AddCommentInput holds data for adding a comment.
type AddCommentInput struct {
	IncidentID  string
	Body        string
	AuthorEmail string
	AuthorName  string
}

// ListIncidents returns incidents newest first, optionally restricted to one status.
func (s *Service) ListIncidents(ctx context.Context, filter IncidentFilter) ([]*domain.Incident, error) {
	list, err := s.repo.ListIncidents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return list, nil
}

// FindIncident returns the incident with the given id. A missing or malformed id
// yields found == false and a nil error.
func (s *Service) FindIncident(ctx context.Context, id string) (*domain.Incident, bool, error) {
	if !validID(id) {
		return nil, false, nil
	}

	incident, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		if errors.Is(err, ErrIncidentNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get incident: %w", err)
	}
	return incident, true, nil
}

// CreateIncident validates input and stores a new active incident.
func (s *Service) CreateIncident(ctx context.Context, input CreateIncidentInput) (*domain.Incident, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, ErrDescriptionRequired
	}
	if input.Severity.IsZero() {
		return nil, ErrInvalidSeverity
	}
	assignee := optional(input.Assignee)
	if assignee != nil && utf8.RuneCountInString(*assignee) > maxAssigneeLength {
		return nil, ErrAssigneeTooLong
	}

	now := s.clock.Now()
	incident := &domain.Incident{
		Title:       title,
		Description: description,
		Severity:    input.Severity,
		Status:      domain.StatusActive,
		Assignee:    assignee,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.CreateIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	metrics.IncidentMutations.WithLabelValues(string(domain.OpCreated), incident.Severity.String()).Inc()
	s.publish(ctx, domain.TableIncidents, domain.OpCreated, incident.ID, incident.ID)

	return incident, nil
}

// ResolveIncident moves an active incident to resolved and stamps resolvedAt.
// Resolved is terminal: a second call returns ErrIncidentAlreadyResolved.
func (s *Service) ResolveIncident(ctx context.Context, id string) (*domain.Incident, error) {
	if !validID(id) {
		return nil, ErrIncidentNotFound
	}

	incident, err := s.repo.ResolveIncident(ctx, id, s.clock.Now())
	if err != nil {
		if errors.Is(err, ErrIncidentNotFound) || errors.Is(err, ErrIncidentAlreadyResolved) {
			return nil, err
		}
		return nil, fmt.Errorf("resolve incident: %w", err)
	}

	metrics.IncidentMutations.WithLabelValues(string(domain.OpResolved), incident.Severity.String()).Inc()
	s.publish(ctx, domain.TableIncidents, domain.OpResolved, incident.ID, incident.ID)

	return incident, nil
}

// UpdateIncident applies a partial update. Status is never part of a patch.
func (s *Service) UpdateIncident(ctx context.Context, id string, patch IncidentPatch) (*domain.Incident, error) {
	if !validID(id) {
		return nil, ErrIncidentNotFound
	}

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, ErrTitleRequired
		}
		patch.Title = &title
	}
	if patch.Description != nil {
		description := strings.TrimSpace(*patch.Description)
		if description == "" {
			return nil, ErrDescriptionRequired
		}
		patch.Description = &description
	}
	if patch.Severity != nil && patch.Severity.IsZero() {
		return nil, ErrInvalidSeverity
	}
	if patch.Assignee != nil {
		assignee := strings.TrimSpace(*patch.Assignee)
		if utf8.RuneCountInString(assignee) > maxAssigneeLength {
			return nil, ErrAssigneeTooLong
		}
		patch.Assignee = &assignee
	}

	if patch.IsEmpty() {
		incident, found, err := s.FindIncident(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrIncidentNotFound
		}
		return incident, nil
	}

	incident, err := s.repo.UpdateIncident(ctx, id, patch, s.clock.Now())
	if err != nil {
		if errors.Is(err, ErrIncidentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update incident: %w", err)
	}

	metrics.IncidentMutations.WithLabelValues(string(domain.OpUpdated), incident.Severity.String()).Inc()
	s.publish(ctx, domain.TableIncidents, domain.OpUpdated, incident.ID, incident.ID)

	return incident, nil
}

// RemoveIncident deletes an incident and its comments.
func (s *Service) RemoveIncident(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrIncidentNotFound
	}

	if err := s.repo.DeleteIncident(ctx, id); err != nil {
		if errors.Is(err, ErrIncidentNotFound) {
			return err
		}
		return fmt.Errorf("delete incident: %w", err)
	}

	metrics.IncidentMutations.WithLabelValues(string(domain.OpDeleted), "").Inc()
	s.publish(ctx, domain.TableIncidents, domain.OpDeleted, id, id)

	return nil
}

// ListComments returns the comments of one incident oldest first.
func (s *Service) ListComments(ctx context.Context, incidentID string) ([]*domain.Comment, error) {
	if !validID(incidentID) {
		return []*domain.Comment{}, nil
	}

	comments, err := s.repo.ListComments(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// AddComment stores a comment. The incident is not required to exist,
// but its id must be well formed.
func (s *Service) AddComment(ctx context.Context, input AddCommentInput) (*domain.Comment, error) {
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, ErrEmptyCommentBody
	}
	if !validID(input.IncidentID) {
		return nil, ErrIncidentNotFound
	}

	comment := &domain.Comment{
		IncidentID:  input.IncidentID,
		Body:        body,
		AuthorEmail: input.AuthorEmail,
		AuthorName:  input.AuthorName,
		CreatedAt:   s.clock.Now(),
	}

	if err := s.repo.CreateComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}

	metrics.CommentsAdded.Inc()
	s.publish(ctx, domain.TableComments, domain.OpCreated, comment.ID, comment.IncidentID)

	return comment, nil
}

// publish announces a committed change. The mutation already succeeded,
// so a failure is logged rather than returned.
func (s *Service) publish(ctx context.Context, table domain.ChangeTable, op domain.ChangeOp, id, incidentID string) {
	if s.publisher == nil {
		return
	}

	change := domain.Change{
		Table:      table,
		Op:         op,
		ID:         id,
		IncidentID: incidentID,
		At:         s.clock.Now(),
	}
	if err := s.publisher.Publish(ctx, change); err != nil {
		ctxlog.FromContext(ctx).Warn("failed to publish change",
			"table", table,
			"op", op,
			"id", id,
			"error", err,
		)
	}
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
