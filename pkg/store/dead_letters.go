package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AppendDeadLetter keeps evt for later inspection. A repeated dead-lettering
// of the same event by the same group is a no-op.
func (s *Store) AppendDeadLetter(ctx context.Context, topic, group string, evt *Event, cause error) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (event_id, topic, consumer_group, event, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id, consumer_group) DO NOTHING
	`, string(evt.EventID), topic, group, string(data), cause.Error(), toNanos(time.Now()))
	return classify("store.append_dead_letter", err)
}

// ListDeadLetters returns dead letters oldest first.
func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, consumer_group, event, error, created_at
		FROM dead_letters ORDER BY id LIMIT ?
	`, limit)
	if err != nil {
		return nil, classify("store.list_dead_letters", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var d DeadLetter
		var raw string
		var created int64
		if err := rows.Scan(&d.ID, &d.Topic, &d.Group, &raw, &d.Error, &created); err != nil {
			return nil, classify("store.list_dead_letters", err)
		}
		var evt Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			return nil, fmt.Errorf("decode dead letter %d: %w", d.ID, err)
		}
		d.Event = &evt
		d.CreatedAt = fromNanos(created)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("store.list_dead_letters", err)
	}
	return out, nil
}
