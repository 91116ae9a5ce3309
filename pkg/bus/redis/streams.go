// Package redis implements the event bus on Redis Streams. Each topic is one
// stream; each consumer group is a Redis consumer group reading it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rmax-ai/linkd/pkg/bus"
	"github.com/rmax-ai/linkd/pkg/store"
)

const (
	// DefaultMaxLen is the approximate retention per stream.
	DefaultMaxLen = 100000
	// DefaultBlock bounds one XREADGROUP wait so shutdown is observed.
	DefaultBlock = 2 * time.Second

	readBatch = 16
	fieldKey   = "key"
	fieldData  = "event"
	fieldGroup = "group"
	fieldError = "error"

	deadLetterSuffix = ".dlq"
)

// Bus is a bus.Bus backed by Redis Streams.
type Bus struct {
	client     *redis.Client
	opts       bus.Options
	consumerID string
	maxLen     int64
	block      time.Duration
}

var _ bus.Bus = (*Bus)(nil)

// New returns a bus whose consumers are named after consumerID. A process
// restarting with the same consumerID picks up the entries it left pending;
// an empty consumerID gets a random one. Unless opts names a sink, dead
// letters go to the stream of "<topic>.dlq".
func New(client *redis.Client, consumerID string, opts bus.Options) *Bus {
	if consumerID == "" {
		consumerID = uuid.NewString()
	}
	b := &Bus{
		client:     client,
		opts:       opts,
		consumerID: consumerID,
		maxLen:     DefaultMaxLen,
		block:      DefaultBlock,
	}
	if b.opts.DeadLetter == nil {
		b.opts.DeadLetter = b
	}
	return b
}

func streamKey(topic string) string {
	return fmt.Sprintf("linkd:stream:%s", topic)
}

// DeadLetterStream is the stream key holding topic's dead letters.
func DeadLetterStream(topic string) string {
	return streamKey(topic + deadLetterSuffix)
}

// AppendDeadLetter adds evt to the topic's dead-letter stream.
func (b *Bus) AppendDeadLetter(ctx context.Context, topic, group string, evt *store.Event, cause error) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.EventID, err)
	}
	return b.addDeadLetter(ctx, topic, map[string]any{
		fieldKey: evt.Key, fieldData: data, fieldGroup: group, fieldError: cause.Error(),
	})
}

func (b *Bus) addDeadLetter(ctx context.Context, topic string, values map[string]any) error {
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStream(topic),
		MaxLen: b.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s%s: %w", topic, deadLetterSuffix, err)
	}
	return nil
}

func (b *Bus) Publish(ctx context.Context, topic string, evt *store.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.EventID, err)
	}
	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(topic),
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{fieldKey: evt.Key, fieldData: data},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) ensureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// Subscribe first drains entries this group left unacknowledged, then reads new
// ones. It returns nil when ctx ends.
func (b *Bus) Subscribe(ctx context.Context, topic, group string, h bus.Handler) error {
	stream := streamKey(topic)
	if err := b.ensureGroup(ctx, stream, group); err != nil {
		return err
	}
	consumer := group + "-" + b.consumerID
	log := slog.With("topic", topic, "group", group, "consumer", consumer)
	log.Info("bus_subscribed")

	// "0" replays the group's pending list; ">" asks for new entries.
	cursor := "0"
	for {
		if ctx.Err() != nil {
			return nil
		}
		block := time.Duration(-1) // no BLOCK while draining pending entries
		if cursor == ">" {
			block = b.block
		}
		res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, cursor},
			Count:    readBatch,
			Block:    block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Error("bus_read_failed", "error", err)
			if err := sleepCtx(ctx, time.Second); err != nil {
				return nil
			}
			continue
		}

		var msgs []redis.XMessage
		for _, s := range res {
			msgs = append(msgs, s.Messages...)
		}
		if cursor == "0" && len(msgs) == 0 {
			cursor = ">"
			continue
		}

		for _, msg := range msgs {
			if err := b.deliver(ctx, topic, group, stream, msg, h); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				// The entry stays pending; replay the pending list after a pause.
				log.Error("bus_delivery_failed", "stream_id", msg.ID, "error", err)
				if err := sleepCtx(ctx, time.Second); err != nil {
					return nil
				}
				cursor = "0"
				break
			}
		}
	}
}

// deliver returns non-nil only when the message must stay pending.
func (b *Bus) deliver(ctx context.Context, topic, group, stream string, msg redis.XMessage, h bus.Handler) error {
	evt, err := decode(msg)
	if err != nil {
		// Trimmed or malformed entries can never succeed.
		slog.Error("bus_message_undecodable", "topic", topic, "group", group, "stream_id", msg.ID, "error", err)
		values := make(map[string]any, len(msg.Values)+2)
		for k, v := range msg.Values {
			values[k] = v
		}
		values[fieldGroup] = group
		values[fieldError] = err.Error()
		if err := b.addDeadLetter(ctx, topic, values); err != nil {
			return err
		}
		return b.ack(ctx, stream, group, msg.ID)
	}
	if err := bus.Dispatch(ctx, b.opts, topic, group, evt, h); err != nil {
		return err
	}
	return b.ack(ctx, stream, group, msg.ID)
}

func (b *Bus) ack(ctx context.Context, stream, group, id string) error {
	if err := b.client.XAck(ctx, stream, group, id).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", id, err)
	}
	return nil
}

func decode(msg redis.XMessage) (*store.Event, error) {
	raw, ok := msg.Values[fieldData]
	if !ok {
		return nil, fmt.Errorf("entry %s has no %q field", msg.ID, fieldData)
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("entry %s: unexpected %T", msg.ID, raw)
	}
	var evt store.Event
	if err := json.Unmarshal([]byte(s), &evt); err != nil {
		return nil, fmt.Errorf("entry %s: %w", msg.ID, err)
	}
	return &evt, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports how many entries group has read but not acknowledged.
func (b *Bus) Pending(ctx context.Context, topic, group string) (int64, error) {
	res, err := b.client.XPending(ctx, streamKey(topic), group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending %s: %w", topic, err)
	}
	return res.Count, nil
}
