// Package graph holds the social graph vocabulary and the projection that
// materializes Person nodes from identity events.
package graph

import (
	"context"

	"github.com/rmax-ai/linkd/pkg/store"
)

// Person is a graph node for one identity.
type Person = store.Person

// EdgeType represents the relationship between two persons.
type EdgeType string

const (
	EdgeRequestedTo EdgeType = "REQUESTED_TO" // sender -> receiver, directed
	EdgeConnectedTo EdgeType = "CONNECTED_TO" // undirected
)

// RelationState is the lifecycle state of an unordered pair.
type RelationState string

const (
	StateNone      RelationState = "NONE"
	StateRequested RelationState = "REQUESTED"
	StateConnected RelationState = "CONNECTED"
)

// Relation is the state of a pair as seen from one side. SenderID is set only
// when State is StateRequested.
type Relation struct {
	State    RelationState `json:"state"`
	SenderID int64         `json:"sender_id,omitempty"`
}

// Reader is the read surface of the graph store used to resolve relations.
// Both *store.Store and *store.Graph satisfy it.
type Reader interface {
	RequestExists(ctx context.Context, senderID, receiverID int64) (bool, error)
	Connected(ctx context.Context, userA, userB int64) (bool, error)
}

// Resolve returns the state of the pair (a, b).
func Resolve(ctx context.Context, r Reader, a, b int64) (Relation, error) {
	connected, err := r.Connected(ctx, a, b)
	if err != nil {
		return Relation{}, err
	}
	if connected {
		return Relation{State: StateConnected}, nil
	}
	for _, pair := range [][2]int64{{a, b}, {b, a}} {
		ok, err := r.RequestExists(ctx, pair[0], pair[1])
		if err != nil {
			return Relation{}, err
		}
		if ok {
			return Relation{State: StateRequested, SenderID: pair[0]}, nil
		}
	}
	return Relation{State: StateNone}, nil
}

// Edge represents one relationship in a neighborhood snapshot.
type Edge struct {
	FromID int64    `json:"from_id"`
	ToID   int64    `json:"to_id"`
	Type   EdgeType `json:"type"`
}

// Neighborhood is the ego graph of one person: every person directly related
// to it and the edges that relate them.
type Neighborhood struct {
	UserID int64             `json:"user_id"`
	Nodes  map[int64]*Person `json:"nodes"`
	Edges  []*Edge           `json:"edges"`
}

// NewNeighborhood creates an empty snapshot centered on userID.
func NewNeighborhood(userID int64) *Neighborhood {
	return &Neighborhood{
		UserID: userID,
		Nodes:  make(map[int64]*Person),
		Edges:  make([]*Edge, 0),
	}
}

// AddNode adds a person to the snapshot.
func (n *Neighborhood) AddNode(p Person) {
	n.Nodes[p.UserID] = &p
}

// AddEdge adds an edge to the snapshot.
func (n *Neighborhood) AddEdge(e *Edge) {
	n.Edges = append(n.Edges, e)
}

// ListReader is the listing surface of the graph store.
type ListReader interface {
	FirstDegreeConnections(ctx context.Context, userID int64) ([]Person, error)
	PendingReceived(ctx context.Context, userID int64) ([]Person, error)
	PendingSent(ctx context.Context, userID int64) ([]Person, error)
}

// BuildNeighborhood assembles the ego graph of userID from r.
func BuildNeighborhood(ctx context.Context, r ListReader, userID int64) (*Neighborhood, error) {
	n := NewNeighborhood(userID)

	connections, err := r.FirstDegreeConnections(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, p := range connections {
		n.AddNode(p)
		n.AddEdge(&Edge{FromID: userID, ToID: p.UserID, Type: EdgeConnectedTo})
	}

	received, err := r.PendingReceived(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, p := range received {
		n.AddNode(p)
		n.AddEdge(&Edge{FromID: p.UserID, ToID: userID, Type: EdgeRequestedTo})
	}

	sent, err := r.PendingSent(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, p := range sent {
		n.AddNode(p)
		n.AddEdge(&Edge{FromID: userID, ToID: p.UserID, Type: EdgeRequestedTo})
	}

	return n, nil
}
