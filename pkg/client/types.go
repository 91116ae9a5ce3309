package client

import "time"

// Person is a member of the social graph.
type Person struct {
	// UserID is the identity's external user id.
	UserID int64 `json:"user_id"`
	// Name is the display name.
	Name string `json:"name"`
	// CreatedAt is when the graph first saw the identity.
	CreatedAt time.Time `json:"created_at"`
}

// Notification is one entry of a user's notification feed.
type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Message   string    `json:"message"`
	EventID   string    `json:"event_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Result is the outcome of a lifecycle operation.
type Result struct {
	// Success is true once the state change is committed.
	Success bool `json:"success"`
	// EventsPending is true when the change is committed but its event is
	// still queued for publication.
	EventsPending bool `json:"events_pending,omitempty"`
}

// Relation is the lifecycle state between the caller and another user.
type Relation struct {
	// State is "NONE", "REQUESTED" or "CONNECTED".
	State string `json:"state"`
	// SenderID is the requester when State is "REQUESTED".
	SenderID int64 `json:"sender_id,omitempty"`
}

// Status represents the health check response.
type Status struct {
	Status   string   `json:"status"`
	Services []string `json:"services"`
	Leader   *bool    `json:"leader,omitempty"`
	Epoch    int64    `json:"epoch,omitempty"`
}

// EventReceipt acknowledges an ingested event.
type EventReceipt struct {
	EventID string `json:"event_id"`
	Topic   string `json:"topic"`
}

// UserCreated is reported by the identity service.
type UserCreated struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// PostCreated is reported by the posts service.
type PostCreated struct {
	CreatorID int64 `json:"creator_id"`
	PostID    int64 `json:"post_id"`
}

// PostLiked is reported by the posts service.
type PostLiked struct {
	CreatorID     int64 `json:"creator_id"`
	LikedByUserID int64 `json:"liked_by_user_id"`
	PostID        int64 `json:"post_id"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// Edge is one relationship in a Neighborhood.
type Edge struct {
	FromID int64  `json:"from_id"`
	ToID   int64  `json:"to_id"`
	Type   string `json:"type"` // REQUESTED_TO or CONNECTED_TO
}

// Neighborhood is the ego graph of one user.
type Neighborhood struct {
	UserID int64             `json:"user_id"`
	Nodes  map[int64]*Person `json:"nodes"`
	Edges  []*Edge           `json:"edges"`
}
