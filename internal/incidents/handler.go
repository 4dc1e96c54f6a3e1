package incidents

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bissquit/incident-desk/internal/changefeed"
	"github.com/bissquit/incident-desk/internal/domain"
	"github.com/bissquit/incident-desk/internal/pkg/httputil"
	"github.com/bissquit/incident-desk/internal/pkg/reltime"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrIncidentNotFound, Status: http.StatusNotFound},
	{Error: ErrIncidentAlreadyResolved, Status: http.StatusConflict},
	{Error: ErrTitleRequired, Status: http.StatusBadRequest},
	{Error: ErrDescriptionRequired, Status: http.StatusBadRequest},
	{Error: ErrInvalidSeverity, Status: http.StatusBadRequest},
	{Error: ErrAssigneeTooLong, Status: http.StatusBadRequest},
	{Error: ErrEmptyCommentBody, Status: http.StatusBadRequest},
	{Error: ErrStatusNotPatchable, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for the incidents module.
type Handler struct {
	service   *Service
	streamer  *changefeed.Streamer
	ages      *reltime.Formatter
	validator *validator.Validate
}

// NewHandler creates a new incidents handler. streamer may be nil when live routes are not registered.
func NewHandler(service *Service, streamer *changefeed.Streamer, ages *reltime.Formatter) *Handler {
	if ages == nil {
		ages = reltime.NewFormatter(nil)
	}
	return &Handler{
		service:   service,
		streamer:  streamer,
		ages:      ages,
		validator: validator.New(),
	}
}

// RegisterRoutes registers incident and comment routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/incidents", func(r chi.Router) {
		r.Get("/", h.ListIncidents)
		r.Post("/", h.CreateIncident)
		r.Get("/{id}", h.GetIncident)
		r.Patch("/{id}", h.UpdateIncident)
		r.Delete("/{id}", h.RemoveIncident)
		r.Post("/{id}/resolve", h.ResolveIncident)
		r.Get("/{id}/comments", h.ListComments)
		r.Post("/{id}/comments", h.AddComment)
	})
}

// RegisterLiveRoutes registers Server-Sent Events routes. They must not run
// behind a request timeout.
func (h *Handler) RegisterLiveRoutes(r chi.Router) {
	r.Route("/live", func(r chi.Router) {
		r.Get("/incidents", h.LiveIncidents)
		r.Get("/incidents/{id}/comments", h.LiveComments)
	})
}

// IncidentResponse is an incident with age labels.
type IncidentResponse struct {
	*domain.Incident
	CreatedAgo  string  `json:"created_ago"`
	ResolvedAgo *string `json:"resolved_ago"`
}

// CommentResponse is a comment with its age label.
type CommentResponse struct {
	*domain.Comment
	CreatedAgo string `json:"created_ago"`
}

// CreateIncidentRequest represents the request body for creating an incident.
// A status field, if sent, is ignored: incidents always start active.
type CreateIncidentRequest struct {
	Title       string `json:"title" validate:"required,max=500"`
	Description string `json:"description" validate:"required,max=10000"`
	Severity    string `json:"severity" validate:"required,oneof=P0 P1 P2 P3"`
	Assignee    string `json:"assignee" validate:"omitempty,max=255,email"`
}

// UpdateIncidentRequest represents the request body for a partial update.
type UpdateIncidentRequest struct {
	Title       *string          `json:"title" validate:"omitempty,max=500"`
	Description *string          `json:"description" validate:"omitempty,max=10000"`
	Severity    *string          `json:"severity" validate:"omitempty,oneof=P0 P1 P2 P3"`
	Assignee    *string          `json:"assignee" validate:"omitempty,max=255,email|len=0"`
	Status      *json.RawMessage `json:"status"`
	ResolvedAt  *json.RawMessage `json:"resolved_at"`
}

// AddCommentRequest represents the request body for adding a comment.
type AddCommentRequest struct {
	Body string `json:"body" validate:"required,max=10000"`
}

// ListIncidents handles GET /incidents.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.ValidationError(w, err)
		return
	}

	list, err := h.service.ListIncidents(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, h.incidentViews(list))
}

// GetIncident handles GET /incidents/{id}.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	incident, found, err := h.service.FindIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	if !found {
		httputil.Error(w, http.StatusNotFound, ErrIncidentNotFound.Error())
		return
	}

	httputil.Success(w, http.StatusOK, h.incidentView(incident))
}

// CreateIncident handles POST /incidents.
func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	severity, err := domain.ParseSeverity(req.Severity)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, ErrInvalidSeverity.Error())
		return
	}

	incident, err := h.service.CreateIncident(r.Context(), CreateIncidentInput{
		Title:       req.Title,
		Description: req.Description,
		Severity:    severity,
		Assignee:    req.Assignee,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, h.incidentView(incident))
}

// UpdateIncident handles PATCH /incidents/{id}.
func (h *Handler) UpdateIncident(w http.ResponseWriter, r *http.Request) {
	var req UpdateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Status != nil || req.ResolvedAt != nil {
		httputil.Error(w, http.StatusBadRequest, ErrStatusNotPatchable.Error())
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	patch := IncidentPatch{
		Title:       req.Title,
		Description: req.Description,
		Assignee:    req.Assignee,
	}
	if req.Severity != nil {
		severity, err := domain.ParseSeverity(*req.Severity)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, ErrInvalidSeverity.Error())
			return
		}
		patch.Severity = &severity
	}

	incident, err := h.service.UpdateIncident(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, h.incidentView(incident))
}

// ResolveIncident handles POST /incidents/{id}/resolve.
func (h *Handler) ResolveIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := h.service.ResolveIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, h.incidentView(incident))
}

// RemoveIncident handles DELETE /incidents/{id}.
func (h *Handler) RemoveIncident(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveIncident(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListComments handles GET /incidents/{id}/comments.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.service.ListComments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, h.commentViews(comments))
}

// AddComment handles POST /incidents/{id}/comments. The author is the session identity.
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	identity, ok := httputil.GetIdentity(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req AddCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	comment, err := h.service.AddComment(r.Context(), AddCommentInput{
		IncidentID:  chi.URLParam(r, "id"),
		Body:        req.Body,
		AuthorEmail: identity.Email,
		AuthorName:  identity.Name,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, h.commentView(comment))
}

// LiveIncidents handles GET /live/incidents as an event stream of incident lists.
func (h *Handler) LiveIncidents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.ValidationError(w, err)
		return
	}

	h.streamer.Serve(w, r, "incidents", changefeed.IncidentChanges, func(ctx context.Context) (any, error) {
		list, err := h.service.ListIncidents(ctx, filter)
		if err != nil {
			return nil, err
		}
		return h.incidentViews(list), nil
	})
}

// LiveComments handles GET /live/incidents/{id}/comments as an event stream of comment lists.
func (h *Handler) LiveComments(w http.ResponseWriter, r *http.Request) {
	incidentID := chi.URLParam(r, "id")

	h.streamer.Serve(w, r, "comments", changefeed.CommentChanges(incidentID), func(ctx context.Context) (any, error) {
		comments, err := h.service.ListComments(ctx, incidentID)
		if err != nil {
			return nil, err
		}
		return h.commentViews(comments), nil
	})
}

func parseFilter(r *http.Request) (IncidentFilter, error) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return IncidentFilter{}, nil
	}

	status, err := domain.ParseIncidentStatus(raw)
	if err != nil {
		return IncidentFilter{}, errors.New("status must be active or resolved")
	}
	return IncidentFilter{Status: &status}, nil
}

func (h *Handler) incidentView(incident *domain.Incident) IncidentResponse {
	view := IncidentResponse{
		Incident:   incident,
		CreatedAgo: h.ages.Since(incident.CreatedAt),
	}
	if incident.ResolvedAt != nil {
		ago := h.ages.Since(*incident.ResolvedAt)
		view.ResolvedAgo = &ago
	}
	return view
}

func (h *Handler) incidentViews(list []*domain.Incident) []IncidentResponse {
	views := make([]IncidentResponse, 0, len(list))
	for _, incident := range list {
		views = append(views, h.incidentView(incident))
	}
	return views
}

func (h *Handler) commentView(comment *domain.Comment) CommentResponse {
	return CommentResponse{
		Comment:    comment,
		CreatedAgo: h.ages.Since(comment.CreatedAt),
	}
}

func (h *Handler) commentViews(comments []*domain.Comment) []CommentResponse {
	views := make([]CommentResponse, 0, len(comments))
	for _, comment := range comments {
		views = append(views, h.commentView(comment))
	}
	return views
}
