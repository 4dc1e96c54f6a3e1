package domain

import "time"

// ChangeTable names the table a change applies to.
type ChangeTable string

// Tables that publish changes.
const (
	TableIncidents ChangeTable = "incidents"
	TableComments  ChangeTable = "comments"
)

// ChangeOp describes what happened to a record.
type ChangeOp string

// Change operations.
const (
	OpCreated  ChangeOp = "created"
	OpUpdated  ChangeOp = "updated"
	OpResolved ChangeOp = "resolved"
	OpDeleted  ChangeOp = "deleted"
	OpResync   ChangeOp = "resync" // published locally after the change feed reconnects
)

// Change is published after every successful store mutation.
// For comments, IncidentID is the parent incident; for incidents it equals ID.
type Change struct {
	Table      ChangeTable `json:"table"`
	Op         ChangeOp    `json:"op"`
	ID         string      `json:"id"`
	IncidentID string      `json:"incident_id"`
	At         time.Time   `json:"at"`
}
