package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rmax-ai/linkd/pkg/errs"
)

// ErrLeaseLost is returned by Renew when holderID no longer owns the lease.
var ErrLeaseLost = errs.E(errs.KindConflict, "store.Renew", "lease lost or stolen")

// Acquire claims name for holderID until now+ttl. It succeeds when the lease
// is free, expired, or already held by holderID; a change of holder bumps the
// epoch.
func (s *Store) Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO leases (name, holder_id, expires_at, version, epoch)
		VALUES (?, ?, ?, 1, 1)
		ON CONFLICT (name) DO UPDATE SET
			epoch = CASE WHEN holder_id = excluded.holder_id THEN epoch ELSE epoch + 1 END,
			holder_id = excluded.holder_id,
			expires_at = excluded.expires_at,
			version = version + 1
		WHERE holder_id = excluded.holder_id OR expires_at < ?
	`, name, holderID, toNanos(now.Add(ttl)), toNanos(now))
	if err != nil {
		return false, classify("store.Acquire", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("store.Acquire", err)
	}
	return n > 0, nil
}

// Renew extends a lease holderID still owns.
func (s *Store) Renew(ctx context.Context, name, holderID string, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leases SET expires_at = ?, version = version + 1 WHERE name = ? AND holder_id = ?`,
		toNanos(time.Now().Add(ttl)), name, holderID)
	if err != nil {
		return classify("store.Renew", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("store.Renew", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Release drops the lease. It is a no-op for anyone but the holder.
func (s *Store) Release(ctx context.Context, name, holderID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE name = ? AND holder_id = ?`, name, holderID); err != nil {
		return classify("store.Release", err)
	}
	return nil
}

// Get returns the lease row, or nil when nobody has claimed name.
func (s *Store) Get(ctx context.Context, name string) (*Lease, error) {
	var l Lease
	var expires int64
	err := s.db.QueryRowContext(ctx,
		`SELECT name, holder_id, expires_at, version, epoch FROM leases WHERE name = ?`, name,
	).Scan(&l.Name, &l.HolderID, &expires, &l.Version, &l.Epoch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("store.Get", err)
	}
	l.ExpiresAt = fromNanos(expires)
	return &l, nil
}
