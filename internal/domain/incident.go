package domain

import (
	"errors"
	"fmt"
	"time"
)

// Enum parsing errors.
var (
	ErrUnknownSeverity = errors.New("unknown severity")
	ErrUnknownStatus   = errors.New("unknown incident status")
)

// Severity is the priority of an incident, P0 (most severe) through P3.
// The zero value means "not set"; the only other values are the package variables below.
type Severity struct {
	name string
}

// Severity levels.
var (
	SeverityP0 = Severity{name: "P0"}
	SeverityP1 = Severity{name: "P1"}
	SeverityP2 = Severity{name: "P2"}
	SeverityP3 = Severity{name: "P3"}
)

// Severities returns all severity levels, most severe first.
func Severities() []Severity {
	return []Severity{SeverityP0, SeverityP1, SeverityP2, SeverityP3}
}

// ParseSeverity converts a label such as "P1" into a Severity.
func ParseSeverity(s string) (Severity, error) {
	for _, sev := range Severities() {
		if sev.name == s {
			return sev, nil
		}
	}
	return Severity{}, fmt.Errorf("%w: %q", ErrUnknownSeverity, s)
}

// String returns the label, or "" for the zero value.
func (s Severity) String() string {
	return s.name
}

// IsZero reports whether the severity is unset.
func (s Severity) IsZero() bool {
	return s.name == ""
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown labels are rejected.
func (s *Severity) UnmarshalText(b []byte) error {
	parsed, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus struct {
	name string
}

// Incident statuses.
var (
	StatusActive   = IncidentStatus{name: "active"}
	StatusResolved = IncidentStatus{name: "resolved"}
)

// ParseIncidentStatus converts "active" or "resolved" into an IncidentStatus.
func ParseIncidentStatus(s string) (IncidentStatus, error) {
	switch s {
	case StatusActive.name:
		return StatusActive, nil
	case StatusResolved.name:
		return StatusResolved, nil
	}
	return IncidentStatus{}, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// String returns the status name.
func (s IncidentStatus) String() string {
	return s.name
}

// IsZero reports whether the status is unset.
func (s IncidentStatus) IsZero() bool {
	return s.name == ""
}

// MarshalText implements encoding.TextMarshaler.
func (s IncidentStatus) MarshalText() ([]byte, error) {
	return []byte(s.name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *IncidentStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseIncidentStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Incident is a tracked operational issue.
// ResolvedAt is set if and only if Status is StatusResolved.
type Incident struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    Severity       `json:"severity"`
	Status      IncidentStatus `json:"status"`
	Assignee    *string        `json:"assignee"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ResolvedAt  *time.Time     `json:"resolved_at"`
}

// IsResolved reports whether the incident reached its terminal state.
func (i *Incident) IsResolved() bool {
	return i.Status == StatusResolved
}

// Resolve moves an active incident to resolved and stamps the resolution time.
// It returns false and leaves the incident untouched when it is already resolved.
func (i *Incident) Resolve(at time.Time) bool {
	if i.IsResolved() {
		return false
	}
	i.Status = StatusResolved
	i.ResolvedAt = &at
	i.UpdatedAt = at
	return true
}
