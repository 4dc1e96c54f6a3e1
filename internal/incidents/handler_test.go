package incidents

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bissquit/incident-desk/internal/domain"
	"github.com/bissquit/incident-desk/internal/pkg/httputil"
	"github.com/bissquit/incident-desk/internal/pkg/reltime"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	router http.Handler
	clock  *reltime.FixedClock
	repo   *mockRepository
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	clock := &reltime.FixedClock{T: baseTime}
	repo := newMockRepository()
	service := NewService(repo, &recordingPublisher{}, clock)
	handler := NewHandler(service, nil, reltime.NewFormatter(clock))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Test-User") != "" {
				r = r.WithContext(httputil.WithIdentity(r.Context(), domain.Identity{
					UserID: "u-1",
					Email:  r.Header.Get("X-Test-User"),
					Name:   "Demo User",
				}))
			}
			next.ServeHTTP(w, r)
		})
	})
	handler.RegisterRoutes(r)

	return &testAPI{router: r, clock: clock, repo: repo}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, user string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

type incidentEnvelope struct {
	Data struct {
		ID          string  `json:"id"`
		Title       string  `json:"title"`
		Severity    string  `json:"severity"`
		Status      string  `json:"status"`
		Assignee    *string `json:"assignee"`
		ResolvedAt  *string `json:"resolved_at"`
		CreatedAgo  string  `json:"created_ago"`
		ResolvedAgo *string `json:"resolved_ago"`
	} `json:"data"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (a *testAPI) create(t *testing.T, title string) incidentEnvelope {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/incidents", map[string]string{
		"title":       title,
		"description": "something broke",
		"severity":    "P1",
		"status":      "resolved",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[incidentEnvelope](t, rec)
}

func TestHandler_CreateIgnoresStatus(t *testing.T) {
	api := newTestAPI(t)

	created := api.create(t, "Payments failing")

	assert.Equal(t, "Payments failing", created.Data.Title)
	assert.Equal(t, "P1", created.Data.Severity)
	assert.Equal(t, "active", created.Data.Status)
	assert.Nil(t, created.Data.ResolvedAt)
	assert.Equal(t, "0s", created.Data.CreatedAgo)
}

func TestHandler_CreateValidation(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing title", map[string]string{"description": "d", "severity": "P1"}},
		{"unknown severity", map[string]string{"title": "t", "description": "d", "severity": "P7"}},
		{"bad assignee", map[string]string{"title": "t", "description": "d", "severity": "P1", "assignee": "nobody"}},
		{"whitespace title", map[string]string{"title": "  ", "description": "d", "severity": "P1"}},
		{"assignee too long", map[string]string{"title": "t", "description": "d", "severity": "P1", "assignee": longAssignee}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, "/incidents", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, api.repo.incidents)
}

func TestHandler_GetIncident(t *testing.T) {
	api := newTestAPI(t)
	created := api.create(t, "DNS")
	api.clock.T = baseTime.Add(5 * time.Minute)

	rec := api.do(t, http.MethodGet, "/incidents/"+created.Data.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5m", decode[incidentEnvelope](t, rec).Data.CreatedAgo)

	rec = api.do(t, http.MethodGet, "/incidents/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":{"message":"incident not found"}}`, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/incidents/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_ListIncidents(t *testing.T) {
	api := newTestAPI(t)
	api.create(t, "one")
	api.clock.T = baseTime.Add(time.Hour)
	second := api.create(t, "two")

	rec := api.do(t, http.MethodGet, "/incidents", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Data []struct {
			ID         string `json:"id"`
			CreatedAgo string `json:"created_ago"`
		} `json:"data"`
	}](t, rec)
	require.Len(t, list.Data, 2)
	assert.Equal(t, second.Data.ID, list.Data[0].ID)
	assert.Equal(t, "0s", list.Data[0].CreatedAgo)
	assert.Equal(t, "1h", list.Data[1].CreatedAgo)

	rec = api.do(t, http.MethodGet, "/incidents?status=resolved", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/incidents?status=open", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ResolveLifecycle(t *testing.T) {
	api := newTestAPI(t)
	created := api.create(t, "Queue backlog")
	api.clock.T = baseTime.Add(3 * time.Hour)

	rec := api.do(t, http.MethodPost, "/incidents/"+created.Data.ID+"/resolve", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resolved := decode[incidentEnvelope](t, rec)
	assert.Equal(t, "resolved", resolved.Data.Status)
	require.NotNil(t, resolved.Data.ResolvedAgo)
	assert.Equal(t, "0s", *resolved.Data.ResolvedAgo)
	assert.Equal(t, "3h", resolved.Data.CreatedAgo)

	rec = api.do(t, http.MethodPost, "/incidents/"+created.Data.ID+"/resolve", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPost, "/incidents/"+uuid.NewString()+"/resolve", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_UpdateIncident(t *testing.T) {
	api := newTestAPI(t)
	created := api.create(t, "Login errors")
	path := "/incidents/" + created.Data.ID

	rec := api.do(t, http.MethodPatch, path, map[string]string{"severity": "P0", "assignee": "sre@example.com"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[incidentEnvelope](t, rec)
	assert.Equal(t, "P0", updated.Data.Severity)
	assert.Equal(t, "Login errors", updated.Data.Title)
	require.NotNil(t, updated.Data.Assignee)

	rec = api.do(t, http.MethodPatch, path, map[string]string{"assignee": ""}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[incidentEnvelope](t, rec).Data.Assignee)

	rec = api.do(t, http.MethodPatch, path, map[string]string{"status": "resolved"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "only change through resolve")

	rec = api.do(t, http.MethodPatch, path, map[string]string{"title": " "}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPatch, path, map[string]string{"assignee": longAssignee}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPatch, "/incidents/"+uuid.NewString(), map[string]string{"title": "x"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_RemoveIncident(t *testing.T) {
	api := newTestAPI(t)
	created := api.create(t, "Old")
	path := "/incidents/" + created.Data.ID

	rec := api.do(t, http.MethodDelete, path, nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodDelete, path, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Comments(t *testing.T) {
	api := newTestAPI(t)
	created := api.create(t, "Cert expiry")
	path := "/incidents/" + created.Data.ID + "/comments"

	rec := api.do(t, http.MethodPost, path, map[string]string{"body": "renewing"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPost, path, map[string]string{"body": "  "}, "demo@incident.dev")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, path, map[string]string{"body": "renewing"}, "demo@incident.dev")
	require.Equal(t, http.StatusCreated, rec.Code)
	comment := decode[struct {
		Data struct {
			Body        string `json:"body"`
			AuthorEmail string `json:"author_email"`
			AuthorName  string `json:"author_name"`
			CreatedAgo  string `json:"created_ago"`
		} `json:"data"`
	}](t, rec)
	assert.Equal(t, "renewing", comment.Data.Body)
	assert.Equal(t, "demo@incident.dev", comment.Data.AuthorEmail)
	assert.Equal(t, "Demo User", comment.Data.AuthorName)
	assert.Equal(t, "0s", comment.Data.CreatedAgo)

	rec = api.do(t, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Data []map[string]any `json:"data"`
	}](t, rec)
	assert.Len(t, list.Data, 1)
}
