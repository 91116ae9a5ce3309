package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/linkd/pkg/backoff"
	"github.com/rmax-ai/linkd/pkg/bus"
	"github.com/rmax-ai/linkd/pkg/errs"
	"github.com/rmax-ai/linkd/pkg/store"
)

func setupBus(t *testing.T, consumerID string) (*Bus, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	b := New(client, consumerID, bus.Options{
		StallAfter: 3,
		Backoff:    &backoff.Exponential{Base: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2},
	})
	b.block = 50 * time.Millisecond
	return b, client
}

func requestEvent(t *testing.T, sender, receiver int64) *store.Event {
	t.Helper()
	evt, err := store.NewEvent(store.EventTypeConnectionRequested, "connections",
		store.PairKey(sender, receiver), store.ConnectionPayload{SenderID: sender, ReceiverID: receiver})
	require.NoError(t, err)
	return evt
}

type collector struct {
	mu  sync.Mutex
	ids []store.EventID
}

func (c *collector) handle(_ context.Context, evt *store.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, evt.EventID)
	return nil
}

func (c *collector) seen() []store.EventID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]store.EventID(nil), c.ids...)
}

func TestBus_PublishSubscribeAck(t *testing.T) {
	b, _ := setupBus(t, "node1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var want []store.EventID
	for i := int64(1); i <= 3; i++ {
		evt := requestEvent(t, i, i+10)
		want = append(want, evt.EventID)
		require.NoError(t, b.Publish(ctx, store.TopicConnectionRequested, evt))
	}

	c := &collector{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, b.Subscribe(ctx, store.TopicConnectionRequested, "notifications", c.handle))
	}()

	require.Eventually(t, func() bool { return len(c.seen()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, c.seen())

	n, err := b.Pending(ctx, store.TopicConnectionRequested, "notifications")
	require.NoError(t, err)
	assert.Zero(t, n)

	cancel()
	<-done
}

func TestBus_ResumesOwnPendingEntries(t *testing.T) {
	b, client := setupBus(t, "node1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := streamKey(store.TopicConnectionAccepted)
	require.NoError(t, b.ensureGroup(ctx, stream, "notifications"))

	evt := requestEvent(t, 1, 2)
	require.NoError(t, b.Publish(ctx, store.TopicConnectionAccepted, evt))

	// A previous run of node1 read the entry and died before acking it.
	_, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    "notifications",
		Consumer: "notifications-node1",
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	require.NoError(t, err)

	n, err := b.Pending(ctx, store.TopicConnectionAccepted, "notifications")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	c := &collector{}
	go b.Subscribe(ctx, store.TopicConnectionAccepted, "notifications", c.handle)

	require.Eventually(t, func() bool { return len(c.seen()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, evt.EventID, c.seen()[0])
	require.Eventually(t, func() bool {
		n, _ := b.Pending(ctx, store.TopicConnectionAccepted, "notifications")
		return n == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBus_TransientFailuresStayPending(t *testing.T) {
	b, client := setupBus(t, "node1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.Publish(ctx, store.TopicUserCreated, requestEvent(t, 1, 2)))

	var mu sync.Mutex
	attempts := 0
	go b.Subscribe(ctx, store.TopicUserCreated, "graph", func(context.Context, *store.Event) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return errors.New("database is locked")
	})

	// Well past the stall threshold the entry is still owed to the group.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 6
	}, 2*time.Second, 10*time.Millisecond)
	n, err := b.Pending(ctx, store.TopicUserCreated, "graph")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	dlq, err := client.XLen(ctx, DeadLetterStream(store.TopicUserCreated)).Result()
	require.NoError(t, err)
	assert.Zero(t, dlq)
}

func TestBus_PermanentFailureGoesToDeadLetterStream(t *testing.T) {
	b, client := setupBus(t, "node1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	evt := requestEvent(t, 1, 2)
	require.NoError(t, b.Publish(ctx, store.TopicConnectionRequested, evt))

	go b.Subscribe(ctx, store.TopicConnectionRequested, "notifications", func(context.Context, *store.Event) error {
		return errs.E(errs.KindBadRequest, "test", "event has no recipient")
	})

	require.Eventually(t, func() bool {
		n, _ := b.Pending(ctx, store.TopicConnectionRequested, "notifications")
		return n == 0
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := client.XRange(ctx, DeadLetterStream(store.TopicConnectionRequested), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "notifications", entries[0].Values[fieldGroup])
	assert.Contains(t, entries[0].Values[fieldError], "event has no recipient")
	kept, err := decode(entries[0])
	require.NoError(t, err)
	assert.Equal(t, evt.EventID, kept.EventID)
}

func TestBus_UndecodableEntryGoesToDeadLetterStream(t *testing.T) {
	b, client := setupBus(t, "node1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := streamKey(store.TopicPostLiked)
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{fieldKey: "5", fieldData: "{not json"},
	}).Err())
	good := requestEvent(t, 3, 4)
	require.NoError(t, b.Publish(ctx, store.TopicPostLiked, good))

	c := &collector{}
	go b.Subscribe(ctx, store.TopicPostLiked, "notifications", c.handle)

	require.Eventually(t, func() bool { return len(c.seen()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, good.EventID, c.seen()[0])

	entries, err := client.XRange(ctx, DeadLetterStream(store.TopicPostLiked), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "{not json", entries[0].Values[fieldData])
	assert.Equal(t, "notifications", entries[0].Values[fieldGroup])
}
