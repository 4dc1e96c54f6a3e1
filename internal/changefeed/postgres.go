package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/incident-desk/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Execer runs a statement. Satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PGPublisher publishes changes with pg_notify so every replica's Listener receives them.
type PGPublisher struct {
	db      Execer
	channel string
}

// NewPGPublisher creates a publisher for the given notification channel.
func NewPGPublisher(db Execer, channel string) *PGPublisher {
	return &PGPublisher{db: db, channel: channel}
}

// Publish sends the change as a JSON notification payload.
func (p *PGPublisher) Publish(ctx context.Context, change domain.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}

	if _, err := p.db.Exec(ctx, "SELECT pg_notify($1, $2)", p.channel, string(payload)); err != nil {
		return fmt.Errorf("notify change: %w", err)
	}
	return nil
}

var errIncompleteChange = errors.New("decode change: missing table, op or id")

const (
	listenerInitialBackoff = time.Second
	listenerMaxBackoff     = 30 * time.Second
)

// Listener holds a LISTEN connection and republishes notifications into a local hub.
type Listener struct {
	pool    *pgxpool.Pool
	channel string
	hub     Publisher

	// session holds one LISTEN connection until it fails, calling onListening
	// once LISTEN has succeeded.
	session        func(ctx context.Context, onListening func()) error
	initialBackoff time.Duration
	maxBackoff     time.Duration
	after          func(time.Duration) <-chan time.Time
}

// NewListener creates a listener for channel that forwards into hub.
func NewListener(pool *pgxpool.Pool, channel string, hub Publisher) *Listener {
	l := &Listener{
		pool:           pool,
		channel:        channel,
		hub:            hub,
		initialBackoff: listenerInitialBackoff,
		maxBackoff:     listenerMaxBackoff,
		after:          time.After,
	}
	l.session = l.listen
	return l
}

// Run listens until ctx is cancelled, reconnecting with capped exponential backoff.
// The backoff resets whenever a connection gets as far as LISTEN. Notifications
// sent while disconnected are lost, so every reconnect publishes a Resync change.
func (l *Listener) Run(ctx context.Context) {
	backoff := l.initialBackoff
	connected := false

	for {
		err := l.session(ctx, func() {
			backoff = l.initialBackoff
			if connected {
				l.resync(ctx)
			}
			connected = true
		})
		if ctx.Err() != nil {
			slog.Info("change feed listener stopped", "channel", l.channel)
			return
		}

		slog.Warn("change feed listener disconnected, reconnecting",
			"channel", l.channel,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-l.after(backoff):
		case <-ctx.Done():
			return
		}

		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}
}

func (l *Listener) resync(ctx context.Context) {
	change := Resync
	change.At = time.Now().UTC()
	if err := l.hub.Publish(ctx, change); err != nil {
		slog.Warn("failed to publish resync", "error", err)
	}
}

func (l *Listener) listen(ctx context.Context, onListening func()) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() {
		unlistenCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlistenCtx, "UNLISTEN *"); err != nil {
			slog.Debug("unlisten failed", "error", err)
		}
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}

	slog.Info("change feed listener connected", "channel", l.channel)
	onListening()

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		l.handle(ctx, notification.Payload)
	}
}

func (l *Listener) handle(ctx context.Context, payload string) {
	change, err := DecodeChange(payload)
	if err != nil {
		slog.Warn("dropping malformed change notification", "error", err)
		return
	}
	if err := l.hub.Publish(ctx, change); err != nil {
		slog.Warn("failed to publish change", "error", err)
	}
}

// DecodeChange parses a notification payload produced by PGPublisher.
func DecodeChange(payload string) (domain.Change, error) {
	var change domain.Change
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return domain.Change{}, fmt.Errorf("decode change: %w", err)
	}
	if change.Table == "" || change.Op == "" || change.ID == "" {
		return domain.Change{}, errIncompleteChange
	}
	return change, nil
}
