//go:build integration

package changefeed

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/incident-desk/internal/domain"
	"github.com/bissquit/incident-desk/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListener_RepublishesNotifications(t *testing.T) {
	pool, _ := testutil.SetupDatabase(t)
	const channel = "incidentdesk_test_changes"

	hub := NewHub(8)
	sub := hub.Subscribe(IncidentChanges)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewListener(pool, channel, hub).Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	publisher := NewPGPublisher(pool, channel)
	want := incidentChange(domain.OpResolved, "0b5c5a7e-8d8f-4a55-9d0e-3b2f1f6c1a11")
	want.At = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// LISTEN is issued asynchronously; keep publishing until the first delivery.
	var got domain.Change
	require.Eventually(t, func() bool {
		if err := publisher.Publish(context.Background(), want); err != nil {
			return false
		}
		select {
		case got = <-sub.C:
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 10*time.Millisecond)

	assert.Equal(t, want.Table, got.Table)
	assert.Equal(t, want.Op, got.Op)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.IncidentID, got.IncidentID)
	assert.True(t, want.At.Equal(got.At))
}
