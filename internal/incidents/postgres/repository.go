// Package postgres provides PostgreSQL implementation of incidents repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/incident-desk/internal/domain"
	"github.com/bissquit/incident-desk/internal/incidents"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// seedLockKey serializes concurrent bootstrap attempts across replicas.
const seedLockKey int64 = 0x1d_e5_c0_de

const incidentColumns = `id, title, description, severity, status, assignee, created_at, updated_at, resolved_at`

const commentColumns = `id, incident_id, body, author_email, author_name, created_at`

// querier is an interface for database operations that both *pgxpool.Pool and pgx.Tx implement.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// Repository implements incidents.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ListIncidents retrieves incidents newest first.
func (r *Repository) ListIncidents(ctx context.Context, filter incidents.IncidentFilter) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents`
	args := []any{}

	if filter.Status != nil {
		query += ` WHERE status = $1`
		args = append(args, filter.Status.String())
	}

	query += ` ORDER BY created_at DESC, seq DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	list := make([]*domain.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		list = append(list, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}

	return list, nil
}

// GetIncident retrieves an incident by ID.
func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`

	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return incident, nil
}

// CreateIncident inserts a new incident and fills in its ID.
func (r *Repository) CreateIncident(ctx context.Context, incident *domain.Incident) error {
	return insertIncident(ctx, r.db, incident)
}

func insertIncident(ctx context.Context, q querier, incident *domain.Incident) error {
	query := `
		INSERT INTO incidents (title, description, severity, status, assignee, created_at, updated_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at, resolved_at
	`
	err := q.QueryRow(ctx, query,
		incident.Title,
		incident.Description,
		incident.Severity.String(),
		incident.Status.String(),
		incident.Assignee,
		incident.CreatedAt,
		incident.UpdatedAt,
		incident.ResolvedAt,
	).Scan(&incident.ID, &incident.CreatedAt, &incident.UpdatedAt, &incident.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// ResolveIncident resolves an active incident. The status guard makes the
// transition happen at most once.
func (r *Repository) ResolveIncident(ctx context.Context, id string, at time.Time) (*domain.Incident, error) {
	query := `
		UPDATE incidents
		SET status = 'resolved', resolved_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'active'
		RETURNING ` + incidentColumns

	incident, err := scanIncident(r.db.QueryRow(ctx, query, id, at))
	if err == nil {
		return incident, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("resolve incident: %w", err)
	}

	exists, err := r.incidentExists(ctx, id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, incidents.ErrIncidentAlreadyResolved
	}
	return nil, incidents.ErrIncidentNotFound
}

// UpdateIncident applies the non-nil fields of patch.
func (r *Repository) UpdateIncident(ctx context.Context, id string, patch incidents.IncidentPatch, at time.Time) (*domain.Incident, error) {
	var severity *string
	if patch.Severity != nil {
		s := patch.Severity.String()
		severity = &s
	}

	query := `
		UPDATE incidents SET
			title = COALESCE($2, title),
			description = COALESCE($3, description),
			severity = COALESCE($4, severity),
			assignee = CASE WHEN $5::text IS NULL THEN assignee ELSE NULLIF($5::text, '') END,
			updated_at = $6
		WHERE id = $1
		RETURNING ` + incidentColumns

	incident, err := scanIncident(r.db.QueryRow(ctx, query,
		id,
		patch.Title,
		patch.Description,
		severity,
		patch.Assignee,
		at,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("update incident: %w", err)
	}
	return incident, nil
}

// DeleteIncident deletes an incident and its comments in one transaction.
func (r *Repository) DeleteIncident(ctx context.Context, id string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM comments WHERE incident_id = $1`, id); err != nil {
		return fmt.Errorf("delete comments: %w", err)
	}

	result, err := tx.Exec(ctx, `DELETE FROM incidents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}
	if result.RowsAffected() == 0 {
		return incidents.ErrIncidentNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListComments retrieves the comments of an incident oldest first.
func (r *Repository) ListComments(ctx context.Context, incidentID string) ([]*domain.Comment, error) {
	query := `
		SELECT ` + commentColumns + `
		FROM comments
		WHERE incident_id = $1
		ORDER BY created_at ASC, seq ASC
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := make([]*domain.Comment, 0)
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.IncidentID, &c.Body, &c.AuthorEmail, &c.AuthorName, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}

	return comments, nil
}

// CreateComment inserts a comment and fills in its ID.
func (r *Repository) CreateComment(ctx context.Context, comment *domain.Comment) error {
	query := `
		INSERT INTO comments (incident_id, body, author_email, author_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		comment.IncidentID,
		comment.Body,
		comment.AuthorEmail,
		comment.AuthorName,
		comment.CreatedAt,
	).Scan(&comment.ID, &comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

// BootstrapIncidents inserts the given incidents only when the table is empty.
// It reports whether anything was inserted. Concurrent callers are serialized
// with an advisory lock held for the transaction.
func (r *Repository) BootstrapIncidents(ctx context.Context, list []*domain.Incident) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, seedLockKey); err != nil {
		return false, fmt.Errorf("acquire seed lock: %w", err)
	}

	var hasRows bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM incidents)`).Scan(&hasRows); err != nil {
		return false, fmt.Errorf("check incidents: %w", err)
	}
	if hasRows {
		return false, nil
	}

	for _, incident := range list {
		if err := insertIncident(ctx, tx, incident); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

func (r *Repository) incidentExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM incidents WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check incident exists: %w", err)
	}
	return exists, nil
}

func scanIncident(row scanner) (*domain.Incident, error) {
	var (
		incident domain.Incident
		severity string
		status   string
	)
	err := row.Scan(
		&incident.ID,
		&incident.Title,
		&incident.Description,
		&severity,
		&status,
		&incident.Assignee,
		&incident.CreatedAt,
		&incident.UpdatedAt,
		&incident.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if incident.Severity, err = domain.ParseSeverity(severity); err != nil {
		return nil, fmt.Errorf("incident %s: %w", incident.ID, err)
	}
	if incident.Status, err = domain.ParseIncidentStatus(status); err != nil {
		return nil, fmt.Errorf("incident %s: %w", incident.ID, err)
	}
	return &incident, nil
}
