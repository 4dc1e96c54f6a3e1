package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	QueueSize         int
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	NumWorkers        int
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		QueueSize:         256,
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
		NumWorkers:        2,
	}
}

// Job is one notification waiting for delivery to a single target.
type Job struct {
	Target   Target
	Payload  NotificationPayload
	Attempts int
}

// Worker delivers queued notifications with retries.
// The queue lives in memory; jobs still queued at Stop are discarded.
type Worker struct {
	config     WorkerConfig
	dispatcher *Dispatcher
	renderer   *Renderer

	queue    chan Job
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a new notification worker.
func NewWorker(config WorkerConfig, dispatcher *Dispatcher, renderer *Renderer) *Worker {
	defaults := DefaultWorkerConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = defaults.NumWorkers
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = 1
	}

	return &Worker{
		config:     config,
		dispatcher: dispatcher,
		renderer:   renderer,
		queue:      make(chan Job, config.QueueSize),
		stopCh:     make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting notification worker",
		"workers", w.config.NumWorkers,
		"queue_size", w.config.QueueSize,
		"max_attempts", w.config.MaxAttempts,
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop gracefully stops all workers. Deliveries waiting for a retry are abandoned.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.wg.Wait()
	slog.Info("notification worker stopped", "discarded", len(w.queue))
}

// Enqueue adds a job without blocking.
func (w *Worker) Enqueue(job Job) error {
	select {
	case <-w.stopCh:
		return ErrWorkerStopped
	default:
	}

	select {
	case w.queue <- job:
		recordEnqueued("accepted")
		recordQueueSize(len(w.queue))
		return nil
	default:
		recordEnqueued("dropped")
		return ErrQueueFull
	}
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case job := <-w.queue:
			recordQueueSize(len(w.queue))
			w.processJob(ctx, workerID, job)
		}
	}
}

func (w *Worker) processJob(ctx context.Context, workerID int, job Job) {
	channelType := string(job.Target.Channel)

	for {
		start := time.Now()
		err := w.deliver(ctx, job)
		if err == nil {
			recordNotificationSent(channelType, "success")
			recordNotificationDuration(channelType, time.Since(start))
			slog.Debug("notification sent",
				"worker", workerID,
				"incident_id", job.Payload.Incident.ID,
				"channel_type", channelType,
				"duration", time.Since(start),
			)
			return
		}

		job.Attempts++
		slog.Warn("send failed",
			"incident_id", job.Payload.Incident.ID,
			"channel_type", channelType,
			"attempt", job.Attempts,
			"max_attempts", w.config.MaxAttempts,
			"error", err,
		)

		if !isRetryable(err) || job.Attempts >= w.config.MaxAttempts {
			recordNotificationSent(channelType, "failed")
			return
		}

		delay := max(w.calculateBackoff(job.Attempts), retryDelay(err))
		recordNotificationSent(channelType, "retry")

		if !w.wait(ctx, delay) {
			slog.Info("notification retry abandoned on shutdown",
				"incident_id", job.Payload.Incident.ID,
				"channel_type", channelType,
			)
			return
		}
	}
}

func (w *Worker) deliver(ctx context.Context, job Job) error {
	subject, body, err := w.renderer.Render(job.Target.Channel, job.Payload)
	if err != nil {
		return NewNonRetryableError(fmt.Errorf("render: %w", err))
	}

	return w.dispatcher.SendToChannel(ctx, job.Target.Channel, Notification{
		To:          job.Target.To,
		Subject:     subject,
		Body:        body,
		Severity:    job.Payload.Incident.Severity,
		MessageType: job.Payload.MessageType,
	})
}

// wait sleeps for d and reports false if the worker is stopping.
func (w *Worker) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// calculateBackoff returns the delay before retry number attempt (1-based).
func (w *Worker) calculateBackoff(attempt int) time.Duration {
	backoff := float64(w.config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= w.config.BackoffMultiplier
		if backoff > float64(w.config.MaxBackoff) {
			break
		}
	}

	if backoff > float64(w.config.MaxBackoff) {
		backoff = float64(w.config.MaxBackoff)
	}

	return time.Duration(backoff)
}
