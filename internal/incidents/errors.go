package incidents

import "errors"

// Domain errors for the incidents module.
var (
	ErrIncidentNotFound        = errors.New("incident not found")
	ErrIncidentAlreadyResolved = errors.New("incident already resolved")
	ErrTitleRequired           = errors.New("title is required")
	ErrDescriptionRequired     = errors.New("description is required")
	ErrInvalidSeverity         = errors.New("severity must be one of P0, P1, P2, P3")
	ErrAssigneeTooLong         = errors.New("assignee must be at most 255 characters")
	ErrEmptyCommentBody        = errors.New("comment body is required")
	ErrStatusNotPatchable      = errors.New("status and resolved_at can only change through resolve")
)
