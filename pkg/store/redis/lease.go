package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rmax-ai/linkd/pkg/store"
)

// LeaseStore implements store.LeaseStore on plain Redis keys. The holder lives
// at linkd:lease:<name> with a TTL; the election term lives at
// linkd:lease:<name>:epoch and only grows.
type LeaseStore struct {
	client *redis.Client
}

var _ store.LeaseStore = (*LeaseStore)(nil)

func NewLeaseStore(client *redis.Client) *LeaseStore {
	return &LeaseStore{client: client}
}

func (s *LeaseStore) makeKey(name string) string {
	return fmt.Sprintf("linkd:lease:%s", name)
}

func (s *LeaseStore) epochKey(name string) string {
	return s.makeKey(name) + ":epoch"
}

// acquireScript sets the holder if the key is free and bumps the epoch in the
// same step. Returns 1 on a fresh acquisition, 2 if already held by ARGV[1],
// 0 if held by someone else.
var acquireScript = redis.NewScript(`
	local cur = redis.call("GET", KEYS[1])
	if not cur then
		redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
		redis.call("INCR", KEYS[2])
		return 1
	end
	if cur == ARGV[1] then
		redis.call("PEXPIRE", KEYS[1], ARGV[2])
		return 2
	end
	return 0
`)

var renewScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

func (s *LeaseStore) Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	// PEXPIRE takes milliseconds
	ttlMs := int64(ttl / time.Millisecond)

	res, err := acquireScript.Run(ctx, s.client, []string{s.makeKey(name), s.epochKey(name)}, holderID, ttlMs).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return res > 0, nil
}

func (s *LeaseStore) Renew(ctx context.Context, name, holderID string, ttl time.Duration) error {
	ttlMs := int64(ttl / time.Millisecond)

	res, err := renewScript.Run(ctx, s.client, []string{s.makeKey(name)}, holderID, ttlMs).Int64()
	if err != nil {
		return fmt.Errorf("failed to execute renew script: %w", err)
	}
	if res == 1 {
		return nil
	}
	return store.ErrLeaseLost
}

// Release is a no-op when holderID no longer holds the lease.
func (s *LeaseStore) Release(ctx context.Context, name, holderID string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.makeKey(name)}, holderID).Err(); err != nil {
		return fmt.Errorf("failed to execute release script: %w", err)
	}
	return nil
}

func (s *LeaseStore) Get(ctx context.Context, name string) (*store.Lease, error) {
	key := s.makeKey(name)

	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // No lease held
		}
		return nil, fmt.Errorf("failed to get lease: %w", err)
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get lease ttl: %w", err)
	}

	var epoch int64
	raw, err := s.client.Get(ctx, s.epochKey(name)).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return nil, fmt.Errorf("failed to get lease epoch: %w", err)
	default:
		epoch, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt lease epoch %q: %w", raw, err)
		}
	}

	return &store.Lease{
		Name:      name,
		HolderID:  val,
		ExpiresAt: time.Now().Add(ttl),
		Epoch:     epoch,
	}, nil
}
