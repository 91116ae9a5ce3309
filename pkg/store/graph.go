package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rmax-ai/linkd/pkg/errs"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Graph is the query/mutation surface over persons and their edges.
// Inside Store.InTx it is bound to the transaction; the Store methods of the
// same name run each call on its own.
//
// Mutations perform no lifecycle validation. Uniqueness and self-reference
// are enforced by the schema and surface as Conflict and BadRequest.
type Graph struct {
	q querier
}

func orderedPair(a, b int64) (int64, int64) {
	if a < b {
		return a, b
	}
	return b, a
}

// FindPerson returns the person for userID, or nil if none exists.
func (g *Graph) FindPerson(ctx context.Context, userID int64) (*Person, error) {
	var p Person
	var created int64
	err := g.q.QueryRowContext(ctx, `
		SELECT user_id, name, created_at FROM persons WHERE user_id = ?
	`, userID).Scan(&p.UserID, &p.Name, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify("store.find_person", err)
	}
	p.CreatedAt = fromNanos(created)
	return &p, nil
}

// CreatePerson inserts a person. An existing person yields Conflict.
func (g *Graph) CreatePerson(ctx context.Context, userID int64, name string) error {
	_, err := g.q.ExecContext(ctx, `
		INSERT INTO persons (user_id, name, created_at) VALUES (?, ?, ?)
	`, userID, name, toNanos(time.Now()))
	return classify("store.create_person", err)
}

// FirstDegreeConnections returns every person joined to userID by a connection edge.
func (g *Graph) FirstDegreeConnections(ctx context.Context, userID int64) ([]Person, error) {
	return g.listPersons(ctx, "store.first_degree", `
		SELECT p.user_id, p.name, p.created_at FROM connection_edges c
		JOIN persons p ON p.user_id = CASE WHEN c.user_lo = ?1 THEN c.user_hi ELSE c.user_lo END
		WHERE c.user_lo = ?1 OR c.user_hi = ?1
		ORDER BY p.user_id
	`, userID)
}

// RequestExists reports whether senderID has a pending request to receiverID.
func (g *Graph) RequestExists(ctx context.Context, senderID, receiverID int64) (bool, error) {
	return g.exists(ctx, "store.request_exists", `
		SELECT EXISTS (SELECT 1 FROM request_edges WHERE sender_id = ? AND receiver_id = ?)
	`, senderID, receiverID)
}

// Connected reports whether the two users share a connection edge, in either direction.
func (g *Graph) Connected(ctx context.Context, userA, userB int64) (bool, error) {
	lo, hi := orderedPair(userA, userB)
	return g.exists(ctx, "store.connected", `
		SELECT EXISTS (SELECT 1 FROM connection_edges WHERE user_lo = ? AND user_hi = ?)
	`, lo, hi)
}

// CreateRequest inserts a request edge. A duplicate yields Conflict; a missing
// person yields NotFound.
func (g *Graph) CreateRequest(ctx context.Context, senderID, receiverID int64) error {
	_, err := g.q.ExecContext(ctx, `
		INSERT INTO request_edges (sender_id, receiver_id, created_at) VALUES (?, ?, ?)
	`, senderID, receiverID, toNanos(time.Now()))
	return classify("store.create_request", err)
}

// AcceptRequest replaces the request edge with a connection edge. It fails
// NotFound when the request is gone by the time the delete runs.
func (g *Graph) AcceptRequest(ctx context.Context, senderID, receiverID int64) error {
	res, err := g.q.ExecContext(ctx, `
		DELETE FROM request_edges WHERE sender_id = ? AND receiver_id = ?
	`, senderID, receiverID)
	if err != nil {
		return classify("store.accept_request", err)
	}
	if err := requireRow(res, "store.accept_request", "no pending connection request"); err != nil {
		return err
	}

	lo, hi := orderedPair(senderID, receiverID)
	_, err = g.q.ExecContext(ctx, `
		INSERT INTO connection_edges (user_lo, user_hi, created_at) VALUES (?, ?, ?)
	`, lo, hi, toNanos(time.Now()))
	return classify("store.accept_request", err)
}

// RejectRequest deletes the request edge. An absent request yields NotFound.
func (g *Graph) RejectRequest(ctx context.Context, senderID, receiverID int64) error {
	res, err := g.q.ExecContext(ctx, `
		DELETE FROM request_edges WHERE sender_id = ? AND receiver_id = ?
	`, senderID, receiverID)
	if err != nil {
		return classify("store.reject_request", err)
	}
	return requireRow(res, "store.reject_request", "no pending connection request")
}

// RemoveConnection deletes the connection edge. An absent connection yields NotFound.
func (g *Graph) RemoveConnection(ctx context.Context, userA, userB int64) error {
	lo, hi := orderedPair(userA, userB)
	res, err := g.q.ExecContext(ctx, `
		DELETE FROM connection_edges WHERE user_lo = ? AND user_hi = ?
	`, lo, hi)
	if err != nil {
		return classify("store.remove_connection", err)
	}
	return requireRow(res, "store.remove_connection", "not connected")
}

// PendingReceived lists the senders of requests addressed to userID.
func (g *Graph) PendingReceived(ctx context.Context, userID int64) ([]Person, error) {
	return g.listPersons(ctx, "store.pending_received", `
		SELECT p.user_id, p.name, p.created_at FROM request_edges r
		JOIN persons p ON p.user_id = r.sender_id
		WHERE r.receiver_id = ?
		ORDER BY r.created_at, p.user_id
	`, userID)
}

// PendingSent lists the receivers of requests sent by userID.
func (g *Graph) PendingSent(ctx context.Context, userID int64) ([]Person, error) {
	return g.listPersons(ctx, "store.pending_sent", `
		SELECT p.user_id, p.name, p.created_at FROM request_edges r
		JOIN persons p ON p.user_id = r.receiver_id
		WHERE r.sender_id = ?
		ORDER BY r.created_at, p.user_id
	`, userID)
}

// Suggestions lists persons other than userID that are neither connected to
// it nor party to a pending request with it in either direction. A limit of
// zero or less means no limit. Results are ordered by user id.
func (g *Graph) Suggestions(ctx context.Context, userID int64, limit int) ([]Person, error) {
	if limit <= 0 {
		limit = -1
	}
	return g.listPersons(ctx, "store.suggestions", `
		SELECT p.user_id, p.name, p.created_at FROM persons p
		WHERE p.user_id <> ?1
		AND EXISTS (SELECT 1 FROM persons me WHERE me.user_id = ?1)
		AND NOT EXISTS (
			SELECT 1 FROM connection_edges c
			WHERE (c.user_lo = ?1 AND c.user_hi = p.user_id)
			   OR (c.user_hi = ?1 AND c.user_lo = p.user_id)
		)
		AND NOT EXISTS (
			SELECT 1 FROM request_edges r
			WHERE (r.sender_id = ?1 AND r.receiver_id = p.user_id)
			   OR (r.receiver_id = ?1 AND r.sender_id = p.user_id)
		)
		ORDER BY p.user_id
		LIMIT ?2
	`, userID, limit)
}

func (g *Graph) exists(ctx context.Context, op, query string, args ...any) (bool, error) {
	var found bool
	if err := g.q.QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
		return false, classify(op, err)
	}
	return found, nil
}

func (g *Graph) listPersons(ctx context.Context, op, query string, args ...any) ([]Person, error) {
	rows, err := g.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	persons := []Person{}
	for rows.Next() {
		var p Person
		var created int64
		if err := rows.Scan(&p.UserID, &p.Name, &created); err != nil {
			return nil, classify(op, err)
		}
		p.CreatedAt = fromNanos(created)
		persons = append(persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return persons, nil
}

func requireRow(res sql.Result, op, msg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return errs.E(errs.KindNotFound, op, msg)
	}
	return nil
}

// Store-level graph operations. Reads run against the pool; each mutation
// runs in its own transaction.

func (s *Store) reader() *Graph { return &Graph{q: s.db} }

func (s *Store) FindPerson(ctx context.Context, userID int64) (*Person, error) {
	return s.reader().FindPerson(ctx, userID)
}

func (s *Store) CreatePerson(ctx context.Context, userID int64, name string) error {
	return s.InTx(ctx, func(g *Graph) error { return g.CreatePerson(ctx, userID, name) })
}

func (s *Store) FirstDegreeConnections(ctx context.Context, userID int64) ([]Person, error) {
	return s.reader().FirstDegreeConnections(ctx, userID)
}

func (s *Store) RequestExists(ctx context.Context, senderID, receiverID int64) (bool, error) {
	return s.reader().RequestExists(ctx, senderID, receiverID)
}

func (s *Store) Connected(ctx context.Context, userA, userB int64) (bool, error) {
	return s.reader().Connected(ctx, userA, userB)
}

func (s *Store) CreateRequest(ctx context.Context, senderID, receiverID int64) error {
	return s.InTx(ctx, func(g *Graph) error { return g.CreateRequest(ctx, senderID, receiverID) })
}

func (s *Store) AcceptRequest(ctx context.Context, senderID, receiverID int64) error {
	return s.InTx(ctx, func(g *Graph) error { return g.AcceptRequest(ctx, senderID, receiverID) })
}

func (s *Store) RejectRequest(ctx context.Context, senderID, receiverID int64) error {
	return s.InTx(ctx, func(g *Graph) error { return g.RejectRequest(ctx, senderID, receiverID) })
}

func (s *Store) RemoveConnection(ctx context.Context, userA, userB int64) error {
	return s.InTx(ctx, func(g *Graph) error { return g.RemoveConnection(ctx, userA, userB) })
}

func (s *Store) PendingReceived(ctx context.Context, userID int64) ([]Person, error) {
	return s.reader().PendingReceived(ctx, userID)
}

func (s *Store) PendingSent(ctx context.Context, userID int64) ([]Person, error) {
	return s.reader().PendingSent(ctx, userID)
}

func (s *Store) Suggestions(ctx context.Context, userID int64, limit int) ([]Person, error) {
	return s.reader().Suggestions(ctx, userID, limit)
}
