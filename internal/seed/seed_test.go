package seed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bissquit/incident-desk/internal/domain"
	"github.com/bissquit/incident-desk/internal/pkg/reltime"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	incidents []*domain.Incident
	err       error
}

func (m *memoryStore) BootstrapIncidents(_ context.Context, list []*domain.Incident) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if len(m.incidents) > 0 {
		return false, nil
	}
	for i, incident := range list {
		incident.ID = fmt.Sprintf("seed-%d", i)
	}
	m.incidents = append(m.incidents, list...)
	return true, nil
}

type countingPublisher struct {
	changes []domain.Change
}

func (p *countingPublisher) Publish(_ context.Context, change domain.Change) error {
	p.changes = append(p.changes, change)
	return nil
}

var now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestSeeder_RunTwice(t *testing.T) {
	store := &memoryStore{}
	pub := &countingPublisher{}
	seeder := NewSeeder(store, pub, reltime.FixedClock{T: now})

	result, err := seeder.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Seeded: 6}, result)
	assert.Len(t, store.incidents, 6)
	assert.Len(t, pub.changes, 6)

	result, err = seeder.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: true}, result)
	assert.Len(t, store.incidents, 6, "second run inserts nothing")
	assert.Len(t, pub.changes, 6)
}

func TestSeeder_StoreError(t *testing.T) {
	seeder := NewSeeder(&memoryStore{err: errors.New("db down")}, nil, nil)

	_, err := seeder.Run(context.Background())
	assert.Error(t, err)
}

func TestDemoIncidents(t *testing.T) {
	list := DemoIncidents(now)
	require.Len(t, list, 6)

	ages := reltime.NewFormatter(reltime.FixedClock{T: now})
	var active, resolved []string
	for _, incident := range list {
		assert.NotEmpty(t, incident.Title)
		assert.NotEmpty(t, incident.Description)
		assert.False(t, incident.Severity.IsZero())
		assert.True(t, incident.CreatedAt.Before(now))

		if incident.IsResolved() {
			require.NotNil(t, incident.ResolvedAt)
			assert.True(t, incident.ResolvedAt.After(incident.CreatedAt))
			resolved = append(resolved, ages.Since(*incident.ResolvedAt))
		} else {
			assert.Nil(t, incident.ResolvedAt)
			active = append(active, incident.Title)
		}
	}

	assert.Len(t, active, 4)
	assert.Equal(t, []string{"3h", "1d"}, resolved)
}

func TestHandler_Seed(t *testing.T) {
	store := &memoryStore{}
	r := chi.NewRouter()
	NewHandler(NewSeeder(store, nil, reltime.FixedClock{T: now})).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/seed", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"seeded":6}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/seed", nil))
	assert.JSONEq(t, `{"data":{"skipped":true}}`, rec.Body.String())
}
