package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/incident-desk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSender records deliveries and fails according to errs, one entry per call.
type fakeSender struct {
	channel domain.ChannelType

	mu    sync.Mutex
	errs  []error
	sent  []Notification
	calls int
	done  chan struct{}
}

func newFakeSender(channel domain.ChannelType, errs ...error) *fakeSender {
	return &fakeSender{channel: channel, errs: errs, done: make(chan struct{}, 16)}
}

func (f *fakeSender) Type() domain.ChannelType { return f.channel }

func (f *fakeSender) Send(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer func() {
		f.mu.Unlock()
		f.done <- struct{}{}
	}()

	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeSender) waitCalls(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected %d send calls, got %d", n, i)
		}
	}
}

func (f *fakeSender) snapshot() (int, []Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]Notification(nil), f.sent...)
}

func fastConfig() WorkerConfig {
	return WorkerConfig{
		QueueSize:         4,
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
		NumWorkers:        1,
	}
}

func startWorker(t *testing.T, config WorkerConfig, sender Sender) *Worker {
	t.Helper()
	renderer, err := NewRenderer()
	require.NoError(t, err)

	w := NewWorker(config, NewDispatcher(nil, sender), renderer)
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	t.Cleanup(func() {
		w.Stop()
		cancel()
	})
	return w
}

func mattermostJob() Job {
	return Job{
		Target:  Target{Channel: domain.ChannelTypeMattermost, To: "https://mm.example.com/hooks/x"},
		Payload: NewPayload(MessageTypeCreated, sampleIncident(), "", renderTime),
	}
}

func TestWorker_DeliversRenderedNotification(t *testing.T) {
	sender := newFakeSender(domain.ChannelTypeMattermost)
	w := startWorker(t, fastConfig(), sender)

	require.NoError(t, w.Enqueue(mattermostJob()))
	sender.waitCalls(t, 1)

	calls, sent := sender.snapshot()
	assert.Equal(t, 1, calls)
	require.Len(t, sent, 1)
	assert.Equal(t, "https://mm.example.com/hooks/x", sent[0].To)
	assert.Equal(t, "[Incident P0] Checkout <500s>", sent[0].Subject)
	assert.Equal(t, "P0", sent[0].Severity)
	assert.Equal(t, MessageTypeCreated, sent[0].MessageType)
	assert.Contains(t, sent[0].Body, "incident opened")
}

func TestWorker_RetriesTransientFailures(t *testing.T) {
	transient := NewRetryableError(errors.New("503"))
	sender := newFakeSender(domain.ChannelTypeMattermost, transient, transient)
	w := startWorker(t, fastConfig(), sender)

	require.NoError(t, w.Enqueue(mattermostJob()))
	sender.waitCalls(t, 3)

	calls, sent := sender.snapshot()
	assert.Equal(t, 3, calls)
	assert.Len(t, sent, 1)
}

func TestWorker_StopsAtMaxAttempts(t *testing.T) {
	transient := errors.New("connection reset")
	sender := newFakeSender(domain.ChannelTypeMattermost, transient, transient, transient, transient)
	w := startWorker(t, fastConfig(), sender)

	require.NoError(t, w.Enqueue(mattermostJob()))
	sender.waitCalls(t, 3)

	select {
	case <-sender.done:
		t.Fatal("no attempt expected after MaxAttempts")
	case <-time.After(50 * time.Millisecond):
	}
	calls, sent := sender.snapshot()
	assert.Equal(t, 3, calls)
	assert.Empty(t, sent)
}

func TestWorker_DoesNotRetryPermanentFailures(t *testing.T) {
	sender := newFakeSender(domain.ChannelTypeMattermost, NewNonRetryableError(errors.New("webhook not found")))
	w := startWorker(t, fastConfig(), sender)

	require.NoError(t, w.Enqueue(mattermostJob()))
	sender.waitCalls(t, 1)

	select {
	case <-sender.done:
		t.Fatal("permanent errors must not be retried")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWorker_EnqueueWhenFullOrStopped(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	config := fastConfig()
	config.QueueSize = 1
	w := NewWorker(config, NewDispatcher(nil), renderer)

	require.NoError(t, w.Enqueue(mattermostJob()))
	assert.ErrorIs(t, w.Enqueue(mattermostJob()), ErrQueueFull)

	w.Stop()
	assert.ErrorIs(t, w.Enqueue(mattermostJob()), ErrWorkerStopped)
}

func TestWorker_StopAbandonsPendingRetry(t *testing.T) {
	config := fastConfig()
	config.InitialBackoff = time.Hour
	config.MaxBackoff = time.Hour
	sender := newFakeSender(domain.ChannelTypeMattermost, errors.New("timeout"))

	renderer, err := NewRenderer()
	require.NoError(t, err)
	w := NewWorker(config, NewDispatcher(nil, sender), renderer)
	w.Start(context.Background())

	require.NoError(t, w.Enqueue(mattermostJob()))
	sender.waitCalls(t, 1)

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop should not wait for the retry backoff")
	}
}

func TestWorker_CalculateBackoff(t *testing.T) {
	w := &Worker{config: WorkerConfig{
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{100, 10 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, w.calculateBackoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestNewWorker_AppliesDefaults(t *testing.T) {
	w := NewWorker(WorkerConfig{}, NewDispatcher(nil), nil)

	assert.Equal(t, DefaultWorkerConfig().QueueSize, cap(w.queue))
	assert.Equal(t, DefaultWorkerConfig().NumWorkers, w.config.NumWorkers)
	assert.Equal(t, 1, w.config.MaxAttempts)
}

type delayedError struct{ delay time.Duration }

func (e delayedError) Error() string             { return "slow down" }
func (e delayedError) RetryDelay() time.Duration { return e.delay }

func TestRetryClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"retryable error", NewRetryableError(errors.New("temporary error")), true},
		{"non-retryable error", NewNonRetryableError(errors.New("permanent error")), false},
		{"wrapped non-retryable", errors.Join(errors.New("ctx"), NewNonRetryableError(errors.New("x"))), false},
		{"generic error defaults to retryable", errors.New("unknown error"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isRetryable(tt.err))
		})
	}

	assert.Equal(t, 30*time.Second, retryDelay(delayedError{delay: 30 * time.Second}))
	assert.Zero(t, retryDelay(errors.New("plain")))
}

func TestRetryableError(t *testing.T) {
	originalErr := errors.New("original error")

	err := NewRetryableError(originalErr)
	assert.Equal(t, "original error", err.Error())
	assert.True(t, err.IsRetryable())
	assert.Equal(t, originalErr, errors.Unwrap(err))

	err = NewNonRetryableError(originalErr)
	assert.False(t, err.IsRetryable())
}
