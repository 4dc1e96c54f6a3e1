package notifications

import (
	"strings"
	"time"

	"github.com/bissquit/incident-desk/internal/domain"
	"github.com/bissquit/incident-desk/internal/pkg/reltime"
)

// MessageType defines the type of notification.
type MessageType string

// Message types.
const (
	MessageTypeCreated  MessageType = "created"
	MessageTypeResolved MessageType = "resolved"
)

// messageTypeFor maps a change operation to the message announcing it.
func messageTypeFor(op domain.ChangeOp) (MessageType, bool) {
	switch op {
	case domain.OpCreated:
		return MessageTypeCreated, true
	case domain.OpResolved:
		return MessageTypeResolved, true
	}
	return "", false
}

// NotificationPayload contains data for rendering a notification.
type NotificationPayload struct {
	MessageType MessageType  `json:"message_type"`
	Incident    IncidentData `json:"incident"`
	IncidentURL string       `json:"incident_url,omitempty"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// IncidentData contains incident information for notification.
type IncidentData struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Severity    string     `json:"severity"`
	Status      string     `json:"status"`
	Assignee    string     `json:"assignee,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	// OpenFor is the age label of the incident at resolution, e.g. "3h".
	OpenFor string `json:"open_for,omitempty"`
}

// NewPayload builds the payload for an incident. now is the generation time.
func NewPayload(msgType MessageType, incident *domain.Incident, baseURL string, now time.Time) NotificationPayload {
	data := IncidentData{
		ID:          incident.ID,
		Title:       incident.Title,
		Description: incident.Description,
		Severity:    incident.Severity.String(),
		Status:      incident.Status.String(),
		CreatedAt:   incident.CreatedAt,
		ResolvedAt:  incident.ResolvedAt,
	}
	if incident.Assignee != nil {
		data.Assignee = *incident.Assignee
	}
	if incident.ResolvedAt != nil {
		data.OpenFor = reltime.Label(incident.ResolvedAt.Sub(incident.CreatedAt))
	}

	payload := NotificationPayload{
		MessageType: msgType,
		Incident:    data,
		GeneratedAt: now,
	}
	if baseURL != "" {
		payload.IncidentURL = strings.TrimRight(baseURL, "/") + "/incidents/" + incident.ID
	}
	return payload
}
