package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rmax-ai/linkd/pkg/errs"
	"github.com/rmax-ai/linkd/pkg/store"
)

// ConsumerGroup is the bus group the person projection reads under.
const ConsumerGroup = "graph-person-projection"

// PersonStore is the part of the graph store the projection writes through.
type PersonStore interface {
	FindPerson(ctx context.Context, userID int64) (*Person, error)
	CreatePerson(ctx context.Context, userID int64, name string) error
}

// PersonProjection materializes one Person per UserCreated fact. Handling the
// same fact any number of times leaves exactly one Person.
type PersonProjection struct {
	store PersonStore
}

// NewPersonProjection creates a projection writing to s.
func NewPersonProjection(s PersonStore) *PersonProjection {
	return &PersonProjection{store: s}
}

// Handle applies one delivery. A non-nil error asks the bus to redeliver.
func (p *PersonProjection) Handle(ctx context.Context, evt *store.Event) error {
	if evt.EventType != store.EventTypeUserCreated {
		slog.Debug("person_projection_ignored", "event_id", evt.EventID, "event_type", evt.EventType)
		return nil
	}

	var payload store.UserCreatedPayload
	if err := evt.DecodePayload(&payload); err != nil {
		return err
	}
	if payload.UserID == 0 {
		return errs.E(errs.KindBadRequest, "graph.PersonProjection", fmt.Sprintf("user_created event %s has no user_id", evt.EventID))
	}

	existing, err := p.store.FindPerson(ctx, payload.UserID)
	if err != nil {
		return err
	}
	if existing != nil {
		slog.Info("person_projection_skip_existing", "user_id", payload.UserID, "event_id", evt.EventID)
		return nil
	}

	if err := p.store.CreatePerson(ctx, payload.UserID, payload.Name); err != nil {
		if errs.Is(err, errs.KindConflict) {
			// Lost a race against a concurrent redelivery of the same fact.
			slog.Info("person_projection_conflict_ignored", "user_id", payload.UserID, "event_id", evt.EventID)
			return nil
		}
		return err
	}

	slog.Info("person_created", "user_id", payload.UserID, "event_id", evt.EventID)
	return nil
}
