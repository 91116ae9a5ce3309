// Package engine implements the connection lifecycle state machine and the
// outbox relay that guarantees its events reach the bus.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rmax-ai/linkd/pkg/backoff"
	"github.com/rmax-ai/linkd/pkg/bus"
	"github.com/rmax-ai/linkd/pkg/errs"
	"github.com/rmax-ai/linkd/pkg/graph"
	"github.com/rmax-ai/linkd/pkg/store"
)

// ServiceName is stamped as the source of every lifecycle event.
const ServiceName = "connections"

const (
	DefaultTxTimeout      = 2 * time.Second
	DefaultTxRetries      = 3
	DefaultPublishTimeout = time.Second
)

// Config bounds graph transactions and event publication.
type Config struct {
	TxTimeout      time.Duration
	TxRetries      int
	PublishTimeout time.Duration
	Backoff        backoff.Strategy
}

func (c Config) withDefaults() Config {
	if c.TxTimeout <= 0 {
		c.TxTimeout = DefaultTxTimeout
	}
	if c.TxRetries < 0 {
		c.TxRetries = 0
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	if c.Backoff == nil {
		c.Backoff = backoff.Default()
	}
	return c
}

// Budget is the longest one lifecycle call can spend: every transaction
// attempt, the backoff between them, and the inline publish.
func (c Config) Budget() time.Duration {
	c = c.withDefaults()
	d := time.Duration(c.TxRetries+1)*c.TxTimeout + c.PublishTimeout
	if b, ok := c.Backoff.(interface{ Ceiling(int) time.Duration }); ok {
		for i := 0; i < c.TxRetries; i++ {
			d += b.Ceiling(i)
		}
	}
	return d
}

// Engine validates and applies lifecycle transitions. Every transition runs
// as one graph transaction that also records its event in the outbox; the
// event is published after commit.
type Engine struct {
	store *store.Store
	pub   bus.Publisher
	cfg   Config
}

// New creates an engine over s publishing to pub. cfg.TxRetries is taken as
// given, so pass DefaultTxRetries explicitly when unsure.
func New(s *store.Store, pub bus.Publisher, cfg Config) *Engine {
	return &Engine{store: s, pub: pub, cfg: cfg.withDefaults()}
}

// Store exposes the graph store for read-side callers.
func (e *Engine) Store() *store.Store { return e.store }

func requireActor(op string, actorID int64) error {
	if actorID <= 0 {
		return errs.E(errs.KindUnauthenticated, op, "no authenticated user")
	}
	return nil
}

func requireTarget(op string, userID int64) error {
	if userID <= 0 {
		return errs.E(errs.KindBadRequest, op, "invalid user id")
	}
	return nil
}

// SendRequest moves the pair (actor, target) from NONE to REQUESTED(actor).
func (e *Engine) SendRequest(ctx context.Context, actorID, targetID int64) error {
	const op = "engine.SendRequest"
	if err := requireActor(op, actorID); err != nil {
		return err
	}
	if err := requireTarget(op, targetID); err != nil {
		return err
	}
	if actorID == targetID {
		return e.reject(op, errs.E(errs.KindBadRequest, op, "Cannot send connection request to yourself"))
	}

	return e.transition(ctx, op, func(g *store.Graph) (*store.Event, error) {
		for _, id := range []int64{actorID, targetID} {
			p, err := g.FindPerson(ctx, id)
			if err != nil {
				return nil, err
			}
			if p == nil {
				return nil, errs.E(errs.KindNotFound, op, "User not found")
			}
		}

		rel, err := graph.Resolve(ctx, g, actorID, targetID)
		if err != nil {
			return nil, err
		}
		switch rel.State {
		case graph.StateRequested:
			return nil, errs.E(errs.KindBadRequest, op, "Connection request already exists")
		case graph.StateConnected:
			return nil, errs.E(errs.KindBadRequest, op, "Users are already connected")
		}

		if err := g.CreateRequest(ctx, actorID, targetID); err != nil {
			if errs.Is(err, errs.KindConflict) {
				return nil, errs.E(errs.KindBadRequest, op, "Connection request already exists")
			}
			return nil, err
		}
		return store.NewEvent(store.EventTypeConnectionRequested, ServiceName,
			store.PairKey(actorID, targetID), store.ConnectionPayload{SenderID: actorID, ReceiverID: targetID})
	})
}

// AcceptRequest converts senderID's pending request to actor into a
// connection.
func (e *Engine) AcceptRequest(ctx context.Context, actorID, senderID int64) error {
	const op = "engine.AcceptRequest"
	if err := requireActor(op, actorID); err != nil {
		return err
	}
	if err := requireTarget(op, senderID); err != nil {
		return err
	}

	return e.transition(ctx, op, func(g *store.Graph) (*store.Event, error) {
		exists, err := g.RequestExists(ctx, senderID, actorID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, errs.E(errs.KindNotFound, op, "Connection request does not exist")
		}
		connected, err := g.Connected(ctx, senderID, actorID)
		if err != nil {
			return nil, err
		}
		if connected {
			return nil, errs.E(errs.KindBadRequest, op, "Users are already connected")
		}

		if err := g.AcceptRequest(ctx, senderID, actorID); err != nil {
			return nil, err
		}
		return store.NewEvent(store.EventTypeConnectionAccepted, ServiceName,
			store.PairKey(senderID, actorID), store.ConnectionPayload{SenderID: senderID, ReceiverID: actorID})
	})
}

// RejectRequest deletes senderID's pending request to actor. No event is
// emitted.
func (e *Engine) RejectRequest(ctx context.Context, actorID, senderID int64) error {
	const op = "engine.RejectRequest"
	if err := requireActor(op, actorID); err != nil {
		return err
	}
	if err := requireTarget(op, senderID); err != nil {
		return err
	}

	return e.transition(ctx, op, func(g *store.Graph) (*store.Event, error) {
		if err := g.RejectRequest(ctx, senderID, actorID); err != nil {
			if errs.Is(err, errs.KindNotFound) {
				return nil, errs.E(errs.KindNotFound, op, "Connection request does not exist")
			}
			return nil, err
		}
		return nil, nil
	})
}

// RemoveConnection returns a connected pair to NONE. No event is emitted.
func (e *Engine) RemoveConnection(ctx context.Context, actorID, otherID int64) error {
	const op = "engine.RemoveConnection"
	if err := requireActor(op, actorID); err != nil {
		return err
	}
	if err := requireTarget(op, otherID); err != nil {
		return err
	}
	if actorID == otherID {
		return e.reject(op, errs.E(errs.KindBadRequest, op, "Cannot remove connection with yourself"))
	}

	return e.transition(ctx, op, func(g *store.Graph) (*store.Event, error) {
		if err := g.RemoveConnection(ctx, actorID, otherID); err != nil {
			if errs.Is(err, errs.KindNotFound) {
				return nil, errs.E(errs.KindNotFound, op, "Connection does not exist")
			}
			return nil, err
		}
		return nil, nil
	})
}

func (e *Engine) reject(op string, err error) error {
	transitionsTotal.WithLabelValues(op, outcomeOf(err)).Inc()
	return err
}

// transition runs fn in a bounded graph transaction, retrying timeouts with
// backoff. The event fn returns is written to the outbox in the same
// transaction and published once the transaction commits.
func (e *Engine) transition(ctx context.Context, op string, fn func(g *store.Graph) (*store.Event, error)) error {
	var evt *store.Event
	var topic string

	var err error
	for attempt := 0; attempt <= e.cfg.TxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("graph_tx_retry", "op", op, "attempt", attempt, "error", err)
			if serr := backoff.Sleep(ctx, e.cfg.Backoff, attempt-1); serr != nil {
				break
			}
		}
		evt, topic, err = e.runTx(ctx, fn)
		if err == nil || !errs.IsRetryable(err) {
			break
		}
	}
	if err != nil {
		if errs.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) {
			err = errs.Wrap(errs.KindTimeout, op, err)
		}
		return e.reject(op, err)
	}

	if evt == nil {
		transitionsTotal.WithLabelValues(op, "ok").Inc()
		return nil
	}
	if err := e.publish(ctx, topic, evt); err != nil {
		slog.Warn("outbox_publish_deferred", "op", op, "event_id", evt.EventID, "topic", topic, "error", err)
		return e.reject(op, errs.Wrap(errs.KindPartialFailure, op, err))
	}
	transitionsTotal.WithLabelValues(op, "ok").Inc()
	slog.Info("lifecycle_event_published", "op", op, "event_id", evt.EventID, "topic", topic, "key", evt.Key)
	return nil
}

func (e *Engine) runTx(ctx context.Context, fn func(g *store.Graph) (*store.Event, error)) (*store.Event, string, error) {
	txCtx, cancel := context.WithTimeout(ctx, e.cfg.TxTimeout)
	defer cancel()

	var evt *store.Event
	var topic string
	err := e.store.InTx(txCtx, func(g *store.Graph) error {
		var err error
		evt, err = fn(g)
		if err != nil || evt == nil {
			return err
		}
		topic, err = store.TopicFor(evt.EventType)
		if err != nil {
			return err
		}
		return g.EnqueueOutbox(txCtx, topic, evt)
	})
	if err != nil {
		return nil, "", err
	}
	return evt, topic, nil
}

// publish sends a committed outbox record and marks it. A failure leaves the
// record for the relay.
func (e *Engine) publish(ctx context.Context, topic string, evt *store.Event) error {
	pubCtx, cancel := context.WithTimeout(ctx, e.cfg.PublishTimeout)
	defer cancel()

	if err := e.pub.Publish(pubCtx, topic, evt); err != nil {
		eventsPublishedTotal.WithLabelValues(topic, "failed").Inc()
		if merr := e.store.MarkFailed(context.WithoutCancel(ctx), evt.EventID, err); merr != nil {
			slog.Error("outbox_mark_failed_error", "event_id", evt.EventID, "error", merr)
		}
		return err
	}
	eventsPublishedTotal.WithLabelValues(topic, "ok").Inc()

	if err := e.store.MarkPublished(context.WithoutCancel(ctx), evt.EventID); err != nil {
		// The relay will publish it again; consumers dedup by event id.
		slog.Error("outbox_mark_published_error", "event_id", evt.EventID, "error", err)
	}
	return nil
}

// FirstDegreeConnections lists the actor's connections.
func (e *Engine) FirstDegreeConnections(ctx context.Context, actorID int64) ([]graph.Person, error) {
	if err := requireActor("engine.FirstDegreeConnections", actorID); err != nil {
		return nil, err
	}
	return e.store.FirstDegreeConnections(ctx, actorID)
}

// PendingReceived lists persons with a pending request to the actor.
func (e *Engine) PendingReceived(ctx context.Context, actorID int64) ([]graph.Person, error) {
	if err := requireActor("engine.PendingReceived", actorID); err != nil {
		return nil, err
	}
	return e.store.PendingReceived(ctx, actorID)
}

// PendingSent lists persons the actor has a pending request to.
func (e *Engine) PendingSent(ctx context.Context, actorID int64) ([]graph.Person, error) {
	if err := requireActor("engine.PendingSent", actorID); err != nil {
		return nil, err
	}
	return e.store.PendingSent(ctx, actorID)
}

// Suggestions lists persons the actor has no relation with. limit <= 0 means
// no limit.
func (e *Engine) Suggestions(ctx context.Context, actorID int64, limit int) ([]graph.Person, error) {
	if err := requireActor("engine.Suggestions", actorID); err != nil {
		return nil, err
	}
	return e.store.Suggestions(ctx, actorID, limit)
}

// Relation reports the lifecycle state between the actor and otherID.
func (e *Engine) Relation(ctx context.Context, actorID, otherID int64) (graph.Relation, error) {
	if err := requireActor("engine.Relation", actorID); err != nil {
		return graph.Relation{}, err
	}
	return graph.Resolve(ctx, e.store, actorID, otherID)
}

// Neighborhood returns the actor's ego graph.
func (e *Engine) Neighborhood(ctx context.Context, actorID int64) (*graph.Neighborhood, error) {
	if err := requireActor("engine.Neighborhood", actorID); err != nil {
		return nil, err
	}
	return graph.BuildNeighborhood(ctx, e.store, actorID)
}
