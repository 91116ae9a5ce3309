// Package notify materializes notification records from lifecycle and content
// events and serves them back to their recipients.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rmax-ai/linkd/pkg/errs"
	"github.com/rmax-ai/linkd/pkg/store"
)

// ConsumerGroup is the bus group the notification projection reads under.
const ConsumerGroup = "notification-projection"

// Topics lists every topic the projection consumes.
func Topics() []string {
	return []string{
		store.TopicConnectionRequested,
		store.TopicConnectionAccepted,
		store.TopicPostCreated,
		store.TopicPostLiked,
	}
}

// ConnectionsLookup resolves first-degree connections. The graph store
// satisfies it in-process; the HTTP client satisfies it across services.
type ConnectionsLookup interface {
	FirstDegreeConnections(ctx context.Context, userID int64) ([]store.Person, error)
}

// Store is the notification store.
type Store interface {
	AppendNotification(ctx context.Context, n *store.Notification) (bool, error)
	ListNotifications(ctx context.Context, userID int64, limit int) ([]store.Notification, error)
}

// Consumer is the notification projection. Each notification is keyed by
// (event id, recipient), so redelivering an event adds nothing.
type Consumer struct {
	notes Store
	conns ConnectionsLookup
}

func NewConsumer(notes Store, conns ConnectionsLookup) *Consumer {
	return &Consumer{notes: notes, conns: conns}
}

// Handle applies one delivery. A non-nil error asks the bus to redeliver; the
// recipients already written are skipped on the next attempt.
func (c *Consumer) Handle(ctx context.Context, evt *store.Event) error {
	switch evt.EventType {
	case store.EventTypeConnectionRequested:
		var p store.ConnectionPayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		return c.append(ctx, evt, p.ReceiverID, requestReceivedMessage(p.SenderID))

	case store.EventTypeConnectionAccepted:
		var p store.ConnectionPayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		return c.append(ctx, evt, p.SenderID, requestAcceptedMessage(p.ReceiverID))

	case store.EventTypePostCreated:
		var p store.PostCreatedPayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		slog.Info("post_created_received", "post_id", p.PostID, "creator_id", p.CreatorID, "event_id", evt.EventID)
		return c.fanOut(ctx, evt, p.CreatorID, postCreatedMessage(p.CreatorID))

	case store.EventTypePostLiked:
		var p store.PostLikedPayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		slog.Info("post_liked_received", "post_id", p.PostID, "liked_by_user_id", p.LikedByUserID, "event_id", evt.EventID)
		return c.fanOut(ctx, evt, p.CreatorID, postLikedMessage(p.LikedByUserID, p.PostID))
	}

	slog.Debug("notification_projection_ignored", "event_id", evt.EventID, "event_type", evt.EventType)
	return nil
}

func (c *Consumer) fanOut(ctx context.Context, evt *store.Event, creatorID int64, message string) error {
	connections, err := c.conns.FirstDegreeConnections(ctx, creatorID)
	if err != nil {
		return fmt.Errorf("lookup connections of %d: %w", creatorID, err)
	}
	for _, p := range connections {
		if err := c.append(ctx, evt, p.UserID, message); err != nil {
			return err
		}
	}
	return nil
}

func (c *Consumer) append(ctx context.Context, evt *store.Event, userID int64, message string) error {
	if userID <= 0 {
		return errs.E(errs.KindBadRequest, "notify.Consumer", fmt.Sprintf("event %s has no recipient", evt.EventID))
	}
	n := &store.Notification{UserID: userID, Message: message, EventID: evt.EventID}
	inserted, err := c.notes.AppendNotification(ctx, n)
	if err != nil {
		return err
	}
	if !inserted {
		slog.Info("notification_duplicate_skipped", "user_id", userID, "event_id", evt.EventID)
		return nil
	}
	slog.Info("notification_sent", "user_id", userID, "notification_id", n.ID, "event_id", evt.EventID)
	return nil
}

// List returns the actor's most recent notifications, newest first.
func List(ctx context.Context, notes Store, actorID int64) ([]store.Notification, error) {
	if actorID <= 0 {
		return nil, errs.E(errs.KindUnauthenticated, "notify.List", "no authenticated user")
	}
	return notes.ListNotifications(ctx, actorID, store.NotificationLimit)
}
