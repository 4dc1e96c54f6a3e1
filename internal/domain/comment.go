package domain

import "time"

// Comment is an immutable note attached to an incident.
// IncidentID is not checked against existing incidents.
type Comment struct {
	ID          string    `json:"id"`
	IncidentID  string    `json:"incident_id"`
	Body        string    `json:"body"`
	AuthorEmail string    `json:"author_email"`
	AuthorName  string    `json:"author_name"`
	CreatedAt   time.Time `json:"created_at"`
}
