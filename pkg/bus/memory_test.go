package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/linkd/pkg/backoff"
	"github.com/rmax-ai/linkd/pkg/errs"
	"github.com/rmax-ai/linkd/pkg/store"
)

func fastOptions(stallAfter int) Options {
	return Options{
		StallAfter: stallAfter,
		Backoff:    &backoff.Exponential{Base: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2},
	}
}

func newEvent(t *testing.T, sender, receiver int64) *store.Event {
	t.Helper()
	evt, err := store.NewEvent(store.EventTypeConnectionRequested, "connections",
		store.PairKey(sender, receiver), store.ConnectionPayload{SenderID: sender, ReceiverID: receiver})
	require.NoError(t, err)
	return evt
}

type recorder struct {
	mu   sync.Mutex
	seen []store.EventID
}

func (r *recorder) handle(_ context.Context, evt *store.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, evt.EventID)
	return nil
}

func (r *recorder) ids() []store.EventID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.EventID(nil), r.seen...)
}

func TestMemoryBus_LateGroupReplaysInOrder(t *testing.T) {
	b := NewMemoryBus(fastOptions(3))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var want []store.EventID
	for i := int64(1); i <= 5; i++ {
		evt := newEvent(t, i, i+1)
		want = append(want, evt.EventID)
		require.NoError(t, b.Publish(ctx, store.TopicConnectionRequested, evt))
	}

	rec := &recorder{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Subscribe(ctx, store.TopicConnectionRequested, "notifications", rec.handle)
	}()

	require.Eventually(t, func() bool { return len(rec.ids()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, rec.ids())
	assert.Equal(t, 0, b.Lag(store.TopicConnectionRequested, "notifications"))

	cancel()
	<-done
}

func TestMemoryBus_GroupsAreIndependent(t *testing.T) {
	b := NewMemoryBus(fastOptions(3))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, c := &recorder{}, &recorder{}
	go b.Subscribe(ctx, store.TopicUserCreated, "a", a.handle)
	go b.Subscribe(ctx, store.TopicUserCreated, "c", c.handle)

	require.NoError(t, b.Publish(ctx, store.TopicUserCreated, newEvent(t, 1, 2)))
	require.NoError(t, b.Publish(ctx, store.TopicPostLiked, newEvent(t, 3, 4)))

	require.Eventually(t, func() bool { return len(a.ids()) == 1 && len(c.ids()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, b.Lag(store.TopicPostLiked, "a"))
}

func TestMemoryBus_RedeliversUntilSuccess(t *testing.T) {
	b := NewMemoryBus(fastOptions(5))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	attempts := 0
	handled := make(chan struct{})
	go b.Subscribe(ctx, store.TopicConnectionAccepted, "g", func(context.Context, *store.Event) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		close(handled)
		return nil
	})

	require.NoError(t, b.Publish(ctx, store.TopicConnectionAccepted, newEvent(t, 1, 2)))

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("handler never succeeded")
	}
	require.Eventually(t, func() bool { return b.Lag(store.TopicConnectionAccepted, "g") == 0 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
}

func TestMemoryBus_DeadLettersPermanentFailure(t *testing.T) {
	b := NewMemoryBus(fastOptions(2))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poison := newEvent(t, 1, 2)
	next := newEvent(t, 3, 4)

	rec := &recorder{}
	go b.Subscribe(ctx, store.TopicConnectionRequested, "g", func(ctx context.Context, evt *store.Event) error {
		if evt.EventID == poison.EventID {
			return errs.E(errs.KindBadRequest, "test", "cannot decode")
		}
		return rec.handle(ctx, evt)
	})

	require.NoError(t, b.Publish(ctx, store.TopicConnectionRequested, poison))
	require.NoError(t, b.Publish(ctx, store.TopicConnectionRequested, next))

	require.Eventually(t, func() bool { return len(rec.ids()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []store.EventID{next.EventID}, rec.ids())

	dead := b.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, poison.EventID, dead[0].Event.EventID)
	assert.Equal(t, "g", dead[0].Group)
	assert.Equal(t, store.TopicConnectionRequested, dead[0].Topic)
	assert.Contains(t, dead[0].Error, "cannot decode")
}

func TestMemoryBus_RetriesTransientPastStall(t *testing.T) {
	b := NewMemoryBus(fastOptions(2))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	attempts := 0
	go b.Subscribe(ctx, store.TopicPostCreated, "g", func(context.Context, *store.Event) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts <= 6 {
			return errs.E(errs.KindTimeout, "test", "connections service unavailable")
		}
		return nil
	})

	require.NoError(t, b.Publish(ctx, store.TopicPostCreated, newEvent(t, 1, 2)))

	require.Eventually(t, func() bool { return b.Lag(store.TopicPostCreated, "g") == 0 }, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 7, attempts)
	mu.Unlock()
	assert.Empty(t, b.DeadLetters())
}

// flakySink fails its first writes.
type flakySink struct {
	mu    sync.Mutex
	fails int
	kept  []store.EventID
}

func (s *flakySink) AppendDeadLetter(_ context.Context, _, _ string, evt *store.Event, _ error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return errors.New("sink down")
	}
	s.kept = append(s.kept, evt.EventID)
	return nil
}

func (s *flakySink) ids() []store.EventID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.EventID(nil), s.kept...)
}

func TestMemoryBus_HoldsMessageUntilDeadLetterWritten(t *testing.T) {
	sink := &flakySink{fails: 2}
	opts := fastOptions(10)
	opts.DeadLetter = sink
	b := NewMemoryBus(opts)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	evt := newEvent(t, 1, 2)
	go b.Subscribe(ctx, store.TopicConnectionAccepted, "g", func(context.Context, *store.Event) error {
		return errs.E(errs.KindBadRequest, "test", "missing receiver")
	})
	require.NoError(t, b.Publish(ctx, store.TopicConnectionAccepted, evt))

	require.Eventually(t, func() bool { return len(sink.ids()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, evt.EventID, sink.ids()[0])
	require.Eventually(t, func() bool { return b.Lag(store.TopicConnectionAccepted, "g") == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, b.DeadLetters(), "a configured sink replaces the in-memory one")
}

func TestPermanent(t *testing.T) {
	assert.True(t, Permanent(errs.E(errs.KindBadRequest, "op", "bad")))
	assert.True(t, Permanent(errs.E(errs.KindUnauthenticated, "op", "who")))
	assert.False(t, Permanent(errs.E(errs.KindTimeout, "op", "slow")))
	assert.False(t, Permanent(errors.New("connection refused")))
}

func TestMemoryBus_UnackedOnCancel(t *testing.T) {
	b := NewMemoryBus(fastOptions(100))
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Subscribe(ctx, store.TopicUserCreated, "g", func(context.Context, *store.Event) error {
			select {
			case started <- struct{}{}:
			default:
			}
			return errors.New("down")
		})
	}()

	require.NoError(t, b.Publish(context.Background(), store.TopicUserCreated, newEvent(t, 1, 2)))
	<-started
	cancel()
	<-done

	assert.Equal(t, 1, b.Lag(store.TopicUserCreated, "g"), "message must stay pending for the next subscriber")
}
