package changefeed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bissquit/incident-desk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedListener runs Run against a fake session. Each step says whether the
// session reaches LISTEN before failing; the last step blocks until cancelled.
func scriptedListener(hub Publisher, steps []bool) (*Listener, *[]time.Duration, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	l := NewListener(nil, "incidentdesk_changes", hub)

	var waits []time.Duration
	l.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}

	call := 0
	l.session = func(ctx context.Context, onListening func()) error {
		listens := steps[call]
		call++
		if listens {
			onListening()
		}
		if call == len(steps) {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}
		return errors.New("connection reset")
	}
	return l, &waits, ctx, cancel
}

func TestListener_ResyncsAfterReconnect(t *testing.T) {
	// Arrange
	hub := &recordingPublisher{}
	l, _, ctx, cancel := scriptedListener(hub, []bool{true, true})
	defer cancel()

	// Act
	l.Run(ctx)

	// Assert
	require.Len(t, hub.changes, 1, "only the reconnect publishes")
	assert.Equal(t, domain.OpResync, hub.changes[0].Op)
	assert.True(t, IncidentChanges(hub.changes[0]))
	assert.True(t, CommentChanges("inc-1")(hub.changes[0]))
}

func TestListener_NoResyncOnFirstConnection(t *testing.T) {
	hub := &recordingPublisher{}
	l, _, ctx, cancel := scriptedListener(hub, []bool{false, false, true})
	defer cancel()

	l.Run(ctx)

	assert.Empty(t, hub.changes)
}

func TestListener_BackoffResetsAfterConnecting(t *testing.T) {
	hub := &recordingPublisher{}
	l, waits, ctx, cancel := scriptedListener(hub, []bool{false, false, false, true, true})
	defer cancel()

	l.Run(ctx)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, time.Second}, *waits)
	assert.Len(t, hub.changes, 1)
}

func TestListener_BackoffIsCapped(t *testing.T) {
	l, waits, ctx, cancel := scriptedListener(&recordingPublisher{}, []bool{false, false, false, false, false, false, false})
	defer cancel()

	l.Run(ctx)

	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second,
	}, *waits)
}

func TestResync_ReachesLiveSubscribers(t *testing.T) {
	hub := NewHub(4)
	incidents := hub.Subscribe(IncidentChanges)
	comments := hub.Subscribe(CommentChanges("inc-1"))
	defer incidents.Close()
	defer comments.Close()

	require.NoError(t, hub.Publish(context.Background(), Resync))

	assert.Equal(t, domain.OpResync, receive(t, incidents).Op)
	assert.Equal(t, domain.OpResync, receive(t, comments).Op)
}
