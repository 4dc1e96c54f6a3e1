// Package changefeed delivers store changes to live subscribers.
//
// Mutations publish a domain.Change after they commit. The in-process Hub fans
// changes out to subscriptions; PGPublisher and Listener carry them between
// replicas through PostgreSQL LISTEN/NOTIFY; Streamer turns a subscription
// into a Server-Sent Events stream of fresh snapshots.
package changefeed

import (
	"context"
	"errors"
	"sync"

	"github.com/bissquit/incident-desk/internal/domain"
	"github.com/bissquit/incident-desk/internal/pkg/metrics"
)

// DefaultBuffer is the subscription channel capacity used when none is configured.
const DefaultBuffer = 64

// Publisher publishes committed store changes.
type Publisher interface {
	Publish(ctx context.Context, change domain.Change) error
}

// Fanout publishes every change to each of its publishers in order.
// All publishers are attempted; their errors are joined.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, change domain.Change) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Filter selects the changes a subscription receives.
type Filter func(domain.Change) bool

// AllChanges matches every change.
func AllChanges(domain.Change) bool { return true }

// Resync tells live subscribers that changes may have been missed and their
// views should be reloaded. It carries no record id.
var Resync = domain.Change{Table: domain.TableIncidents, Op: domain.OpResync}

// IncidentChanges matches changes to the incidents table.
func IncidentChanges(c domain.Change) bool {
	return c.Table == domain.TableIncidents
}

// CommentChanges matches changes affecting the comment list of one incident,
// including deletion of the incident itself, and resyncs.
func CommentChanges(incidentID string) Filter {
	return func(c domain.Change) bool {
		if c.Op == domain.OpResync {
			return true
		}
		if c.IncidentID != incidentID {
			return false
		}
		return c.Table == domain.TableComments ||
			(c.Table == domain.TableIncidents && c.Op == domain.OpDeleted)
	}
}

// Hub fans changes out to subscriptions within one process.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

// NewHub creates a hub. Non-positive buffer sizes fall back to DefaultBuffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscription receives matching changes on C until Close is called.
type Subscription struct {
	C <-chan domain.Change

	ch     chan domain.Change
	filter Filter
	hub    *Hub
	once   sync.Once
}

// Subscribe registers a subscription. A nil filter matches everything.
func (h *Hub) Subscribe(filter Filter) *Subscription {
	if filter == nil {
		filter = AllChanges
	}
	ch := make(chan domain.Change, h.buffer)
	sub := &Subscription{C: ch, ch: ch, filter: filter, hub: h}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	metrics.ChangeFeedSubscribers.Inc()
	return sub
}

// Close unregisters the subscription and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()

		close(s.ch)
		metrics.ChangeFeedSubscribers.Dec()
	})
}

// Publish delivers a change to every matching subscription without blocking.
// A subscription whose buffer is full misses the change.
func (h *Hub) Publish(_ context.Context, change domain.Change) error {
	metrics.ChangeFeedPublished.WithLabelValues(string(change.Table), string(change.Op)).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		if !sub.filter(change) {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			metrics.ChangeFeedDropped.Inc()
		}
	}
	return nil
}

// Len returns the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
