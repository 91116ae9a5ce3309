package store

import (
	"context"
	"time"
)

// AppendNotification inserts n unless a notification for the same
// (event_id, user_id) already exists. It reports whether a row was written
// and fills in n.ID and n.CreatedAt when it was.
func (s *Store) AppendNotification(ctx context.Context, n *Notification) (bool, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, message, event_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(event_id, user_id) DO NOTHING
	`, n.UserID, n.Message, string(n.EventID), toNanos(n.CreatedAt))
	if err != nil {
		return false, classify("store.append_notification", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, classify("store.append_notification", err)
	}
	if rows == 0 {
		return false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return true, classify("store.append_notification", err)
	}
	n.ID = id
	return true, nil
}

// ListNotifications returns the most recent notifications for userID, newest
// first. The limit is capped at NotificationLimit.
func (s *Store) ListNotifications(ctx context.Context, userID int64, limit int) ([]Notification, error) {
	if limit <= 0 || limit > NotificationLimit {
		limit = NotificationLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, message, event_id, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, classify("store.list_notifications", err)
	}
	defer rows.Close()

	notifications := []Notification{}
	for rows.Next() {
		var n Notification
		var eventID string
		var created int64
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &eventID, &created); err != nil {
			return nil, classify("store.list_notifications", err)
		}
		n.EventID = EventID(eventID)
		n.CreatedAt = fromNanos(created)
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("store.list_notifications", err)
	}
	return notifications, nil
}
