// Package bus defines the event bus linkd services couple through, plus an
// in-process implementation.
//
// Delivery is at-least-once. A handler error causes redelivery after a
// backoff, and a message is only acknowledged once its handler returns nil or
// it has been written to a dead-letter sink.
// Messages of one (topic, group) are handled one at a time in publish order,
// so per-key order holds for a single group.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/rmax-ai/linkd/pkg/backoff"
	"github.com/rmax-ai/linkd/pkg/errs"
	"github.com/rmax-ai/linkd/pkg/store"
)

// Handler processes one delivery. Returning an error requests redelivery.
type Handler func(ctx context.Context, evt *store.Event) error

// Publisher appends an event to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, evt *store.Event) error
}

// Subscriber delivers a topic to a consumer group. Subscribe blocks until ctx
// is done.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, group string, h Handler) error
}

// Bus is both sides.
type Bus interface {
	Publisher
	Subscriber
}

// DefaultStallAfter is the attempt count after which a failing delivery is
// reported as stalled. Transient failures are retried past it.
const DefaultStallAfter = 10

// DeadLetterSink keeps messages that can never be handled.
type DeadLetterSink interface {
	AppendDeadLetter(ctx context.Context, topic, group string, evt *store.Event, cause error) error
}

// Options tunes redelivery.
type Options struct {
	StallAfter int
	Backoff    backoff.Strategy
	// DeadLetter receives permanently failing messages. Each transport
	// supplies its own default.
	DeadLetter DeadLetterSink
}

func (o Options) withDefaults() Options {
	if o.StallAfter <= 0 {
		o.StallAfter = DefaultStallAfter
	}
	if o.Backoff == nil {
		o.Backoff = &backoff.Exponential{
			Base:   100 * time.Millisecond,
			Max:    10 * time.Second,
			Factor: 2.0,
			Jitter: 0.2,
		}
	}
	return o
}

// Permanent reports whether a handler error will repeat on every
// redelivery: malformed payloads and requests without a valid identity.
func Permanent(err error) bool {
	switch errs.KindOf(err) {
	case errs.KindBadRequest, errs.KindUnauthenticated:
		return true
	}
	return false
}

// Dispatch runs h against evt until it succeeds, fails permanently, or ctx
// ends. A permanent failure is handed to the dead-letter sink; transient ones
// are retried with capped backoff for as long as it takes. It returns nil when
// the message should be acknowledged and ctx.Err() when it should stay
// unacked.
func Dispatch(ctx context.Context, opts Options, topic, group string, evt *store.Event, h Handler) error {
	opts = opts.withDefaults()
	log := loggerFor(topic, group, evt)

	for attempt := 0; ; attempt++ {
		err := h(ctx, evt)
		if err == nil {
			deliveriesTotal.WithLabelValues(topic, group, "ok").Inc()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if Permanent(err) {
			derr := deadLetter(ctx, opts.DeadLetter, topic, group, evt, err)
			if derr == nil {
				log.Error("bus_message_dead_lettered", "attempts", attempt+1, "error", err)
				return nil
			}
			log.Error("bus_dead_letter_failed", "error", derr, "cause", err)
		} else {
			deliveriesTotal.WithLabelValues(topic, group, "retry").Inc()
			if attempt+1 == opts.StallAfter {
				deliveriesTotal.WithLabelValues(topic, group, "stalled").Inc()
				log.Error("bus_delivery_stalled", "attempts", attempt+1, "error", err)
			} else {
				log.Warn("bus_handler_failed", "attempt", attempt+1, "error", err)
			}
		}
		if err := backoff.Sleep(ctx, opts.Backoff, attempt); err != nil {
			return err
		}
	}
}

func deadLetter(ctx context.Context, sink DeadLetterSink, topic, group string, evt *store.Event, cause error) error {
	if sink == nil {
		return errors.New("no dead-letter sink configured")
	}
	if err := sink.AppendDeadLetter(ctx, topic, group, evt, cause); err != nil {
		return err
	}
	deliveriesTotal.WithLabelValues(topic, group, "dead_letter").Inc()
	deadLettersTotal.WithLabelValues(topic, group).Inc()
	return nil
}
