package bus

import (
	"context"
	"sync"
	"time"

	"github.com/rmax-ai/linkd/pkg/store"
)

type groupKey struct {
	topic string
	group string
}

type groupState struct {
	offset int
	busy   bool
}

// MemoryBus keeps every topic's log in memory for the life of the process.
// A group joining late starts from the oldest message. Without a configured
// sink, dead letters are kept in memory as well.
type MemoryBus struct {
	opts Options

	mu     sync.Mutex
	logs   map[string][]*store.Event
	groups map[groupKey]*groupState
	dead   []store.DeadLetter
	wake   chan struct{}
}

var _ Bus = (*MemoryBus)(nil)

func NewMemoryBus(opts Options) *MemoryBus {
	b := &MemoryBus{
		opts:   opts.withDefaults(),
		logs:   make(map[string][]*store.Event),
		groups: make(map[groupKey]*groupState),
		wake:   make(chan struct{}),
	}
	if b.opts.DeadLetter == nil {
		b.opts.DeadLetter = b
	}
	return b
}

// AppendDeadLetter records a message in memory.
func (b *MemoryBus) AppendDeadLetter(_ context.Context, topic, group string, evt *store.Event, cause error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dead = append(b.dead, store.DeadLetter{
		ID:        int64(len(b.dead) + 1),
		Topic:     topic,
		Group:     group,
		Event:     evt,
		Error:     cause.Error(),
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// DeadLetters returns the messages dead-lettered in memory.
func (b *MemoryBus) DeadLetters() []store.DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]store.DeadLetter(nil), b.dead...)
}

// broadcast wakes every waiting subscriber. Callers hold mu.
func (b *MemoryBus) broadcast() {
	close(b.wake)
	b.wake = make(chan struct{})
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, evt *store.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.logs[topic] = append(b.logs[topic], evt)
	b.broadcast()
	b.mu.Unlock()
	return nil
}

// claim returns the group's next message and marks the group busy, or a
// channel to wait on when there is nothing to do.
func (b *MemoryBus) claim(k groupKey) (*store.Event, int, <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.groups[k]
	if !ok {
		st = &groupState{}
		b.groups[k] = st
	}
	log := b.logs[k.topic]
	if st.busy || st.offset >= len(log) {
		return nil, 0, b.wake
	}
	st.busy = true
	return log[st.offset], st.offset, nil
}

// settle releases the group and advances past offset when acked.
func (b *MemoryBus) settle(k groupKey, offset int, acked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.groups[k]
	st.busy = false
	if acked && st.offset == offset {
		st.offset++
	}
	b.broadcast()
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic, group string, h Handler) error {
	k := groupKey{topic: topic, group: group}
	for {
		evt, offset, wait := b.claim(k)
		if evt == nil {
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil
			}
		}

		err := Dispatch(ctx, b.opts, topic, group, evt, h)
		b.settle(k, offset, err == nil)
		if err != nil {
			return nil
		}
	}
}

// Lag reports how many messages of topic the group has not acknowledged.
func (b *MemoryBus) Lag(topic, group string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.logs[topic])
	if st, ok := b.groups[groupKey{topic: topic, group: group}]; ok {
		n -= st.offset
	}
	return n
}
