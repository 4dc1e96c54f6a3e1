package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bissquit/incident-desk/internal/pkg/ctxlog"
)

// Snapshot loads the current state pushed to a stream.
type Snapshot func(ctx context.Context) (any, error)

// Streamer serves Server-Sent Events backed by a Hub.
type Streamer struct {
	hub       *Hub
	keepAlive time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// NewStreamer creates a streamer. Non-positive keepAlive disables keep-alive comments.
func NewStreamer(hub *Hub, keepAlive time.Duration) *Streamer {
	return &Streamer{hub: hub, keepAlive: keepAlive, done: make(chan struct{})}
}

// Close ends every open stream. Register it with http.Server.RegisterOnShutdown,
// otherwise Shutdown waits for streaming clients to leave.
func (s *Streamer) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Serve writes the snapshot immediately and again after every batch of matching
// changes, until the client goes away. Changes that arrive while a snapshot is being
// loaded are coalesced into the next one.
func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, event string, filter Filter, snapshot Snapshot) {
	ctx := r.Context()
	logger := ctxlog.FromContext(ctx)
	rc := http.NewResponseController(w)

	// Subscribe first so nothing committed after the initial snapshot is missed.
	sub := s.hub.Subscribe(filter)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := s.push(ctx, w, rc, event, snapshot); err != nil {
		logger.Warn("stream closed", "event", event, "error", err)
		return
	}

	var keepAlive <-chan time.Time
	if s.keepAlive > 0 {
		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case _, ok := <-sub.C:
			if !ok {
				return
			}
			drain(sub.C)
			if err := s.push(ctx, w, rc, event, snapshot); err != nil {
				logger.Warn("stream closed", "event", event, "error", err)
				return
			}
		case <-keepAlive:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *Streamer) push(ctx context.Context, w http.ResponseWriter, rc *http.ResponseController, event string, snapshot Snapshot) error {
	data, err := snapshot(ctx)
	if err != nil {
		_ = writeEvent(w, "error", map[string]any{"error": map[string]string{"message": "snapshot failed"}})
		_ = rc.Flush()
		return fmt.Errorf("load snapshot: %w", err)
	}

	if err := writeEvent(w, event, map[string]any{"data": data}); err != nil {
		return err
	}
	return rc.Flush()
}

func writeEvent(w http.ResponseWriter, event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func drain[T any](ch <-chan T) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
