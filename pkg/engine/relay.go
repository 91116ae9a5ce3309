package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/rmax-ai/linkd/pkg/bus"
	"github.com/rmax-ai/linkd/pkg/store"
)

const (
	// RelayBatchSize is the number of outbox records fetched per poll.
	RelayBatchSize = 50
	// DefaultRelayInterval is how often the outbox is polled.
	DefaultRelayInterval = 1 * time.Second
	// DefaultRelayGrace keeps the relay away from records the engine is
	// still publishing inline.
	DefaultRelayGrace = 5 * time.Second
	// RelayLeaseName is the lease the relays of a shared store compete for.
	RelayLeaseName = "linkd-outbox-relay"
)

// Relay republishes committed lifecycle events that were not published
// inline, in commit order.
type Relay struct {
	store    *store.Store
	pub      bus.Publisher
	interval time.Duration
	grace    time.Duration
	leader   func() bool
}

// NewRelay creates a relay. leader gates publishing; nil means always.
func NewRelay(s *store.Store, pub bus.Publisher, interval time.Duration, leader func() bool) *Relay {
	if interval <= 0 {
		interval = DefaultRelayInterval
	}
	return &Relay{
		store:    s,
		pub:      pub,
		interval: interval,
		grace:    DefaultRelayGrace,
		leader:   leader,
	}
}

// Run polls until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	slog.Info("outbox_relay_started", "interval", r.interval.String())
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("outbox_relay_stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil {
				slog.Error("outbox_relay_batch_failed", "error", err)
			}
		}
	}
}

// Flush publishes one batch of due records and returns how many were
// published. It stops at the first publish failure so order is kept.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	if n, err := r.store.CountPendingOutbox(ctx); err == nil {
		outboxPending.Set(float64(n))
	}
	if r.leader != nil && !r.leader() {
		return 0, nil
	}

	records, err := r.store.PendingOutbox(ctx, time.Now().Add(-r.grace), RelayBatchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, rec := range records {
		if err := r.pub.Publish(ctx, rec.Topic, rec.Event); err != nil {
			eventsPublishedTotal.WithLabelValues(rec.Topic, "failed").Inc()
			if merr := r.store.MarkFailed(ctx, rec.Event.EventID, err); merr != nil {
				slog.Error("outbox_mark_failed_error", "event_id", rec.Event.EventID, "error", merr)
			}
			slog.Warn("outbox_relay_publish_failed", "event_id", rec.Event.EventID, "topic", rec.Topic, "attempts", rec.Attempts+1, "error", err)
			return published, nil
		}
		eventsPublishedTotal.WithLabelValues(rec.Topic, "ok").Inc()
		if err := r.store.MarkPublished(ctx, rec.Event.EventID); err != nil {
			return published, err
		}
		published++
		slog.Info("outbox_relay_published", "event_id", rec.Event.EventID, "topic", rec.Topic)
	}
	return published, nil
}
