package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bissquit/incident-desk/internal/domain"
	"github.com/bissquit/incident-desk/internal/pkg/reltime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockFinder implements IncidentFinder for testing.
type mockFinder struct {
	incidents map[string]*domain.Incident
	err       error
	lookups   int
}

func (m *mockFinder) FindIncident(_ context.Context, id string) (*domain.Incident, bool, error) {
	m.lookups++
	if m.err != nil {
		return nil, false, m.err
	}
	inc, ok := m.incidents[id]
	return inc, ok, nil
}

// mockQueue implements Enqueuer for testing.
type mockQueue struct {
	jobs []Job
	err  error
}

func (m *mockQueue) Enqueue(job Job) error {
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

var testTargets = []Target{
	{Channel: domain.ChannelTypeEmail, To: "oncall@example.com"},
	{Channel: domain.ChannelTypeMattermost, To: "https://mm.example.com/hooks/x"},
}

func newTestNotifier(finder *mockFinder, queue *mockQueue) *Notifier {
	return NewNotifier(finder, testTargets, queue, "https://desk.example.com", reltime.FixedClock{T: renderTime})
}

func change(op domain.ChangeOp, id string) domain.Change {
	return domain.Change{Table: domain.TableIncidents, Op: op, ID: id, IncidentID: id, At: renderTime}
}

func TestLifecycleChanges(t *testing.T) {
	assert.True(t, LifecycleChanges(change(domain.OpCreated, "a")))
	assert.True(t, LifecycleChanges(change(domain.OpResolved, "a")))
	assert.False(t, LifecycleChanges(change(domain.OpUpdated, "a")))
	assert.False(t, LifecycleChanges(change(domain.OpDeleted, "a")))
	assert.False(t, LifecycleChanges(domain.Change{Table: domain.TableComments, Op: domain.OpCreated}))
}

func TestNotifier_HandleChange_Created(t *testing.T) {
	// Arrange
	inc := sampleIncident()
	finder := &mockFinder{incidents: map[string]*domain.Incident{inc.ID: inc}}
	queue := &mockQueue{}
	n := newTestNotifier(finder, queue)

	// Act
	err := n.HandleChange(context.Background(), change(domain.OpCreated, inc.ID))

	// Assert
	require.NoError(t, err)
	require.Len(t, queue.jobs, 2)
	assert.Equal(t, testTargets[0], queue.jobs[0].Target)
	assert.Equal(t, testTargets[1], queue.jobs[1].Target)
	assert.Equal(t, MessageTypeCreated, queue.jobs[0].Payload.MessageType)
	assert.Equal(t, inc.ID, queue.jobs[0].Payload.Incident.ID)
	assert.Equal(t, renderTime, queue.jobs[0].Payload.GeneratedAt)
	assert.Equal(t, "https://desk.example.com/incidents/"+inc.ID, queue.jobs[0].Payload.IncidentURL)
}

func TestNotifier_HandleChange_Resolved(t *testing.T) {
	inc := resolvedSample()
	queue := &mockQueue{}
	n := newTestNotifier(&mockFinder{incidents: map[string]*domain.Incident{inc.ID: inc}}, queue)

	require.NoError(t, n.HandleChange(context.Background(), change(domain.OpResolved, inc.ID)))

	require.Len(t, queue.jobs, 2)
	assert.Equal(t, MessageTypeResolved, queue.jobs[0].Payload.MessageType)
	assert.Equal(t, "3h", queue.jobs[0].Payload.Incident.OpenFor)
}

func TestNotifier_HandleChange_IgnoresOtherChanges(t *testing.T) {
	finder := &mockFinder{}
	queue := &mockQueue{}
	n := newTestNotifier(finder, queue)

	for _, c := range []domain.Change{
		change(domain.OpUpdated, "a"),
		change(domain.OpDeleted, "a"),
		{Table: domain.TableComments, Op: domain.OpCreated, ID: "c", IncidentID: "a"},
	} {
		require.NoError(t, n.HandleChange(context.Background(), c))
	}

	assert.Zero(t, finder.lookups)
	assert.Empty(t, queue.jobs)
}

func TestNotifier_HandleChange_NoTargets(t *testing.T) {
	finder := &mockFinder{}
	n := NewNotifier(finder, nil, &mockQueue{}, "", nil)

	require.NoError(t, n.HandleChange(context.Background(), change(domain.OpCreated, "a")))
	assert.Zero(t, finder.lookups)
}

func TestNotifier_HandleChange_IncidentGone(t *testing.T) {
	queue := &mockQueue{}
	n := newTestNotifier(&mockFinder{incidents: map[string]*domain.Incident{}}, queue)

	err := n.HandleChange(context.Background(), change(domain.OpCreated, "removed-already"))

	assert.NoError(t, err)
	assert.Empty(t, queue.jobs)
}

func TestNotifier_HandleChange_Errors(t *testing.T) {
	dbErr := errors.New("connection refused")
	n := newTestNotifier(&mockFinder{err: dbErr}, &mockQueue{})
	assert.ErrorIs(t, n.HandleChange(context.Background(), change(domain.OpCreated, "a")), dbErr)

	inc := sampleIncident()
	n = newTestNotifier(&mockFinder{incidents: map[string]*domain.Incident{inc.ID: inc}}, &mockQueue{err: ErrQueueFull})
	err := n.HandleChange(context.Background(), change(domain.OpCreated, inc.ID))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Contains(t, err.Error(), "enqueue email")
}

func TestNotifier_Run(t *testing.T) {
	inc := sampleIncident()
	queue := &mockQueue{}
	n := newTestNotifier(&mockFinder{incidents: map[string]*domain.Incident{inc.ID: inc}}, queue)

	changes := make(chan domain.Change, 2)
	changes <- change(domain.OpCreated, inc.ID)
	changes <- change(domain.OpUpdated, inc.ID)
	close(changes)

	done := make(chan struct{})
	go func() {
		n.Run(context.Background(), changes)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return when the channel closes")
	}
	assert.Len(t, queue.jobs, 2)
}

func TestDispatcher(t *testing.T) {
	mm := newFakeSender(domain.ChannelTypeMattermost)
	d := NewDispatcher([]Target{
		{Channel: domain.ChannelTypeMattermost, To: "https://mm.example.com/hooks/x"},
		{Channel: domain.ChannelTypeTelegram, To: "-100123"},
	}, mm)

	assert.Equal(t, []Target{{Channel: domain.ChannelTypeMattermost, To: "https://mm.example.com/hooks/x"}}, d.Targets())

	require.NoError(t, d.SendToChannel(context.Background(), domain.ChannelTypeMattermost, Notification{To: "x"}))
	err := d.SendToChannel(context.Background(), domain.ChannelTypeTelegram, Notification{To: "y"})
	assert.ErrorIs(t, err, ErrNoSender)
	assert.False(t, isRetryable(err))
}
