package redisx

import (
	"context"

	"github.com/hatcher/agentcore/pkg/safego"
	"github.com/pkg/errors"
)

// Listen 按 pattern 订阅，订阅确认后返回；消息在后台交给 handle，ctx 结束时退订
func Listen(ctx context.Context, client Redis, pattern string, handle func(channel, payload string)) error {
	ps := client.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return errors.WithMessagef(err, "failed to subscribe %s", pattern)
	}
	msgs := ps.Channel()
	safego.Go(ctx, func() {
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				handle(msg.Channel, msg.Payload)
			}
		}
	})
	return nil
}

// Broadcaster 在固定频道上做跨进程广播
type Broadcaster struct {
	client  Redis
	channel string
}

func NewBroadcaster(client Redis, channel string) *Broadcaster {
	return &Broadcaster{client: client, channel: channel}
}

func (b *Broadcaster) Publish(ctx context.Context, msg string) error {
	if err := b.client.Publish(ctx, b.channel, msg).Err(); err != nil {
		return errors.WithMessagef(err, "failed to publish to %s", b.channel)
	}
	return nil
}

// Listen 订阅确认后返回，之后每条消息回调 handle
func (b *Broadcaster) Listen(ctx context.Context, handle func(msg string)) error {
	return Listen(ctx, b.client, b.channel, func(_, payload string) { handle(payload) })
}
