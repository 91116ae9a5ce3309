package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EnqueueOutbox records evt for publication on topic. Called inside the
// transaction that performs the mutation the event describes.
func (g *Graph) EnqueueOutbox(ctx context.Context, topic string, evt *Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal outbox event: %w", err)
	}
	_, err = g.q.ExecContext(ctx, `
		INSERT INTO outbox (event_id, topic, event, created_at) VALUES (?, ?, ?, ?)
	`, string(evt.EventID), topic, string(data), toNanos(time.Now()))
	return classify("store.enqueue_outbox", err)
}

// PendingOutbox returns unpublished records created before olderThan, oldest first.
func (s *Store) PendingOutbox(ctx context.Context, olderThan time.Time, limit int) ([]*OutboxRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, event, created_at, attempts, last_error
		FROM outbox
		WHERE published_at IS NULL AND created_at < ?
		ORDER BY id ASC
		LIMIT ?
	`, toNanos(olderThan), limit)
	if err != nil {
		return nil, classify("store.pending_outbox", err)
	}
	defer rows.Close()

	var records []*OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		var raw string
		var created int64
		if err := rows.Scan(&rec.ID, &rec.Topic, &raw, &created, &rec.Attempts, &rec.LastError); err != nil {
			return nil, classify("store.pending_outbox", err)
		}
		var evt Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			return nil, fmt.Errorf("decode outbox record %d: %w", rec.ID, err)
		}
		rec.Event = &evt
		rec.CreatedAt = fromNanos(created)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("store.pending_outbox", err)
	}
	return records, nil
}

// MarkPublished stamps the record for eventID as published. Marking an
// already published record keeps the first timestamp.
func (s *Store) MarkPublished(ctx context.Context, eventID EventID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET published_at = ?, attempts = attempts + 1
		WHERE event_id = ? AND published_at IS NULL
	`, toNanos(time.Now()), string(eventID))
	return classify("store.mark_published", err)
}

// MarkFailed records a failed publication attempt.
func (s *Store) MarkFailed(ctx context.Context, eventID EventID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET attempts = attempts + 1, last_error = ?
		WHERE event_id = ? AND published_at IS NULL
	`, msg, string(eventID))
	return classify("store.mark_failed", err)
}

// CountPendingOutbox returns the number of unpublished records.
func (s *Store) CountPendingOutbox(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, classify("store.count_outbox", err)
	}
	return n, nil
}

// GetOutbox returns the record for eventID, or nil if none exists.
func (s *Store) GetOutbox(ctx context.Context, eventID EventID) (*OutboxRecord, error) {
	var rec OutboxRecord
	var raw string
	var created int64
	var published sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, topic, event, created_at, published_at, attempts, last_error
		FROM outbox WHERE event_id = ?
	`, string(eventID)).Scan(&rec.ID, &rec.Topic, &raw, &created, &published, &rec.Attempts, &rec.LastError)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, classify("store.get_outbox", err)
	}
	var evt Event
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		return nil, fmt.Errorf("decode outbox record %d: %w", rec.ID, err)
	}
	rec.Event = &evt
	rec.CreatedAt = fromNanos(created)
	if published.Valid {
		t := fromNanos(published.Int64)
		rec.PublishedAt = &t
	}
	return &rec, nil
}
