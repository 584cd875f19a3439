package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hatcher/agentcore/pkg/logs"
	"github.com/hatcher/agentcore/pkg/redisx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisTail keeps channel history in redis so replay survives restarts and
// is shared between processes. The sequence counter lives in its own key.
// Every appended entry is also published on the channel's live topic, which
// is how buses in other processes learn about it.
type RedisTail[T any] struct {
	client redisx.Redis
	codec  Codec[T]
	prefix string
	size   int
	ttl    time.Duration
}

type RedisTailOptions struct {
	// Prefix namespaces the keys, e.g. "agentcore:events".
	Prefix string
	Size   int
	// TTL expires idle channel logs; zero keeps them forever.
	TTL time.Duration
}

func NewRedisTail[T any](client redisx.Redis, codec Codec[T], opts RedisTailOptions) *RedisTail[T] {
	if opts.Prefix == "" {
		opts.Prefix = "events"
	}
	if opts.Size <= 0 {
		opts.Size = defaultReplaySize
	}
	return &RedisTail[T]{client: client, codec: codec, prefix: opts.Prefix, size: opts.Size, ttl: opts.TTL}
}

type redisEntry struct {
	Channel string          `json:"channel"`
	Seq     uint64          `json:"seq"`
	Time    int64           `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

func (t *RedisTail[T]) listKey(channel string) string {
	return t.prefix + ":" + channel
}

func (t *RedisTail[T]) seqKey(channel string) string {
	return t.prefix + ":" + channel + ":seq"
}

func (t *RedisTail[T]) liveTopic(channel string) string {
	return t.prefix + ":live:" + channel
}

func (t *RedisTail[T]) Append(ctx context.Context, channel string, payload T, at time.Time) (Event[T], error) {
	data, err := t.codec.Encode(payload)
	if err != nil {
		return Event[T]{}, errors.WithMessage(err, "encode payload")
	}
	seq, err := t.client.Incr(ctx, t.seqKey(channel)).Uint64()
	if err != nil {
		return Event[T]{}, errors.WithMessagef(err, "incr seq of %s", channel)
	}
	ev := Event[T]{Channel: channel, Seq: seq, Time: at.UnixMilli(), Payload: payload}
	entry, err := json.Marshal(redisEntry{Channel: channel, Seq: seq, Time: ev.Time, Payload: data})
	if err != nil {
		return Event[T]{}, errors.WithMessage(err, "encode entry")
	}
	key := t.listKey(channel)
	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, entry)
		pipe.LTrim(ctx, key, int64(-t.size), -1)
		if t.ttl > 0 {
			pipe.Expire(ctx, key, t.ttl)
			pipe.Expire(ctx, t.seqKey(channel), t.ttl)
		}
		pipe.Publish(ctx, t.liveTopic(channel), entry)
		return nil
	})
	if err != nil {
		return Event[T]{}, errors.WithMessagef(err, "append to %s", key)
	}
	return ev, nil
}

func (t *RedisTail[T]) Last(ctx context.Context, channel string, n int) ([]Event[T], error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := t.client.LRange(ctx, t.listKey(channel), int64(-n), -1).Result()
	if err != nil {
		return nil, errors.WithMessagef(err, "read %s", t.listKey(channel))
	}
	events := make([]Event[T], 0, len(raw))
	for _, r := range raw {
		ev, err := t.decode(r)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (t *RedisTail[T]) decode(raw string) (Event[T], error) {
	var entry redisEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return Event[T]{}, errors.WithMessage(err, "decode entry")
	}
	payload, err := t.codec.Decode(entry.Payload)
	if err != nil {
		return Event[T]{}, errors.WithMessage(err, "decode payload")
	}
	return Event[T]{Channel: entry.Channel, Seq: entry.Seq, Time: entry.Time, Payload: payload}, nil
}

// Listen subscribes to the live topics of every channel under the prefix
// and returns once the subscription is confirmed.
func (t *RedisTail[T]) Listen(ctx context.Context, deliver func(Event[T])) error {
	return redisx.Listen(ctx, t.client, t.liveTopic("*"), func(topic, payload string) {
		ev, err := t.decode(payload)
		if err != nil {
			logs.CtxWarnf(ctx, "dropping live entry from %s: %v", topic, err)
			return
		}
		deliver(ev)
	})
}

// Drop leaves redis untouched: other processes may still serve the channel
// and the TTL reclaims idle logs.
func (t *RedisTail[T]) Drop(context.Context, string) error {
	return nil
}
