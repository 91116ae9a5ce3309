package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rmax-ai/linkd/pkg/errs"
)

// EventType represents the kind of event.
type EventType string

const (
	EventTypeUserCreated         EventType = "user_created"
	EventTypeConnectionRequested EventType = "connection_requested"
	EventTypeConnectionAccepted  EventType = "connection_accepted"
	EventTypePostCreated         EventType = "post_created"
	EventTypePostLiked           EventType = "post_liked"
)

// Topics carrying each event type on the bus.
const (
	TopicUserCreated         = "user-created-topic"
	TopicConnectionRequested = "send-connection-request-topic"
	TopicConnectionAccepted  = "accept-connection-request-topic"
	TopicPostCreated         = "post-created-topic"
	TopicPostLiked           = "post-liked-topic"
)

// SchemaVersion is stamped on every event written by this build.
const SchemaVersion = 1

// TopicFor returns the bus topic for an event type.
func TopicFor(t EventType) (string, error) {
	switch t {
	case EventTypeUserCreated:
		return TopicUserCreated, nil
	case EventTypeConnectionRequested:
		return TopicConnectionRequested, nil
	case EventTypeConnectionAccepted:
		return TopicConnectionAccepted, nil
	case EventTypePostCreated:
		return TopicPostCreated, nil
	case EventTypePostLiked:
		return TopicPostLiked, nil
	default:
		return "", fmt.Errorf("no topic for event type %q", t)
	}
}

// EventID is a unique identifier for an event. Consumers use it as the dedup key.
type EventID string

// Event represents the canonical envelope for all system events.
type Event struct {
	EventID       EventID          `json:"event_id"`
	EventType     EventType        `json:"event_type"`
	SchemaVersion int              `json:"schema_version"`
	TsEvent       time.Time        `json:"ts_event"`
	Source        EventSource      `json:"source"`
	Key           string           `json:"key"` // Partition key, see PairKey
	Correlation   EventCorrelation `json:"correlation"`
	Payload       json.RawMessage  `json:"payload"`
}

// EventSource describes the origin of the event.
type EventSource struct {
	Service  string `json:"service"` // identity, connections, posts
	WriterID string `json:"writer_id"`
}

// EventCorrelation groups events logically.
type EventCorrelation struct {
	CorrelationID string `json:"correlation_id"`
	CausationID   string `json:"causation_id"`
}

// UserCreatedPayload is emitted once per new account by the identity service.
type UserCreatedPayload struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// ConnectionPayload is carried by connection_requested and connection_accepted.
// SenderID is always the original requester.
type ConnectionPayload struct {
	SenderID   int64 `json:"sender_id"`
	ReceiverID int64 `json:"receiver_id"`
}

// PostCreatedPayload is emitted by the posts service.
type PostCreatedPayload struct {
	CreatorID int64 `json:"creator_id"`
	PostID    int64 `json:"post_id"`
}

// PostLikedPayload is emitted by the posts service.
type PostLikedPayload struct {
	CreatorID     int64 `json:"creator_id"`
	LikedByUserID int64 `json:"liked_by_user_id"`
	PostID        int64 `json:"post_id"`
}

// PairKey is the partition key for events about an ordered (sender, receiver) pair.
func PairKey(senderID, receiverID int64) string {
	return fmt.Sprintf("%d:%d", senderID, receiverID)
}

// DecodePayload unmarshals the event payload into v.
func (e *Event) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return errs.Wrap(errs.KindBadRequest, "store.DecodePayload",
			fmt.Errorf("decode %s payload of event %s: %w", e.EventType, e.EventID, err))
	}
	return nil
}

// Person is the graph-side representation of one identity.
type Person struct {
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is an append-only record shown to one recipient.
type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Message   string    `json:"message"`
	EventID   EventID   `json:"event_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationLimit caps how many notifications a listing returns.
const NotificationLimit = 20

// OutboxRecord is a lifecycle event committed alongside its graph mutation.
type OutboxRecord struct {
	ID          int64
	Topic       string
	Event       *Event
	CreatedAt   time.Time
	PublishedAt *time.Time
	Attempts    int
	LastError   string
}

// DeadLetter is a message a consumer group could never handle.
type DeadLetter struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"topic"`
	Group     string    `json:"group"`
	Event     *Event    `json:"event"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
}

// Lease represents a distributed lock or leadership claim.
type Lease struct {
	Name      string    `json:"name"`
	HolderID  string    `json:"holder_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Version   int64     `json:"version"` // For CAS (Compare-And-Swap) logic
	Epoch     int64     `json:"epoch"`   // Monotonically increasing election term
}

// LeaseStore defines the interface for acquiring and renewing leases.
type LeaseStore interface {
	// Acquire tries to acquire the lease. Returns true if successful.
	// If the lease is already held by holderID, it renews it.
	Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error)

	// Renew updates the expiry of an existing lease held by holderID.
	// Returns error if the lease is lost or stolen.
	Renew(ctx context.Context, name, holderID string, ttl time.Duration) error

	// Release releases the lease if held by holderID.
	Release(ctx context.Context, name, holderID string) error

	// Get returns the current lease state.
	Get(ctx context.Context, name string) (*Lease, error)
}
