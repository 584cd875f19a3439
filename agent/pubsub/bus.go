package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/hatcher/agentcore/pkg/logs"
)

const bufferSize = 256

// Tail stores the bounded history of every channel and assigns sequence
// numbers.
type Tail[T any] interface {
	Append(ctx context.Context, channel string, payload T, at time.Time) (Event[T], error)
	Last(ctx context.Context, channel string, n int) ([]Event[T], error)
	Drop(ctx context.Context, channel string) error
}

// Relay delivers events that other processes appended to a shared tail.
type Relay[T any] interface {
	// Listen returns once the relay is receiving. deliver is called until
	// ctx ends.
	Listen(ctx context.Context, deliver func(Event[T])) error
}

type channel[T any] struct {
	mu         sync.Mutex
	subs       map[*Subscription[T]]struct{}
	lastActive time.Time
	lastSeq    uint64
	evicted    bool
}

// Bus is a per-channel append-only log with live fan-out.
type Bus[T any] struct {
	tail       Tail[T]
	bufferSize int

	mu       sync.Mutex
	channels map[string]*channel[T]
	done     chan struct{}
}

func NewBus[T any](tail Tail[T]) *Bus[T] {
	return NewBusWithOptions(tail, bufferSize)
}

func NewBusWithOptions[T any](tail Tail[T], subscriberBuffer int) *Bus[T] {
	if subscriberBuffer <= 0 {
		subscriberBuffer = bufferSize
	}
	return &Bus[T]{
		tail:       tail,
		bufferSize: subscriberBuffer,
		channels:   make(map[string]*channel[T]),
		done:       make(chan struct{}),
	}
}

func (b *Bus[T]) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// lockChannel returns the named channel locked by the caller.
func (b *Bus[T]) lockChannel(name string) *channel[T] {
	for {
		b.mu.Lock()
		c, ok := b.channels[name]
		if !ok {
			c = &channel[T]{subs: make(map[*Subscription[T]]struct{}), lastActive: time.Now()}
			b.channels[name] = c
		}
		b.mu.Unlock()

		c.mu.Lock()
		if !c.evicted {
			return c
		}
		c.mu.Unlock()
	}
}

// Publish appends payload to the channel and delivers it to live
// subscribers. Storage failures are logged and the zero event is returned.
func (b *Bus[T]) Publish(ctx context.Context, name string, payload T) Event[T] {
	if b.closed() {
		return Event[T]{}
	}
	c := b.lockChannel(name)
	defer c.mu.Unlock()

	ev, err := b.tail.Append(ctx, name, payload, time.Now())
	if err != nil {
		logs.CtxErrorf(ctx, "publish to channel %s failed: %v", name, err)
		return Event[T]{}
	}
	c.lastActive = time.Now()
	b.fanout(ctx, c, ev)
	return ev
}

// fanout must be called with the channel lock held.
func (b *Bus[T]) fanout(ctx context.Context, c *channel[T], ev Event[T]) {
	if ev.Seq > c.lastSeq {
		c.lastSeq = ev.Seq
	}
	for sub := range c.subs {
		select {
		case sub.ch <- ev:
		default:
			logs.CtxWarnf(ctx, "closing slow subscriber on channel %s at seq %d", ev.Channel, ev.Seq)
			delete(c.subs, sub)
			sub.close(ErrSlowSubscriber)
		}
	}
}

// Attach feeds events from r to local subscribers until ctx ends or the bus
// shuts down.
func (b *Bus[T]) Attach(ctx context.Context, r Relay[T]) error {
	ctx, cancel := context.WithCancel(ctx)
	if err := r.Listen(ctx, func(ev Event[T]) { b.deliver(ctx, ev) }); err != nil {
		cancel()
		return err
	}
	go func() {
		select {
		case <-b.done:
		case <-ctx.Done():
		}
		cancel()
	}()
	return nil
}

// deliver hands a relayed event to the channel's subscribers. lastSeq is the
// highest sequence already handed out by a local publish or a replay; the
// relay echoes those back and they are skipped.
func (b *Bus[T]) deliver(ctx context.Context, ev Event[T]) {
	if b.closed() {
		return
	}
	b.mu.Lock()
	c, ok := b.channels[ev.Channel]
	b.mu.Unlock()
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evicted || ev.Seq <= c.lastSeq {
		return
	}
	c.lastActive = time.Now()
	b.fanout(ctx, c, ev)
}

// SubscribeWithReplay first yields the last n events of the channel, then
// every event published afterwards. The replay snapshot and the registration
// happen under the channel lock, so nothing is missed or repeated.
func (b *Bus[T]) SubscribeWithReplay(ctx context.Context, name string, n int) *Subscription[T] {
	if b.closed() {
		sub := &Subscription[T]{ch: make(chan Event[T]), done: make(chan struct{})}
		sub.close(nil)
		return sub
	}
	c := b.lockChannel(name)
	var replay []Event[T]
	if n > 0 {
		var err error
		replay, err = b.tail.Last(ctx, name, n)
		if err != nil {
			logs.CtxErrorf(ctx, "replay of channel %s failed: %v", name, err)
			replay = nil
		}
	}
	sub := &Subscription[T]{
		ch:      make(chan Event[T], b.bufferSize+len(replay)),
		bus:     b,
		channel: c,
		done:    make(chan struct{}),
	}
	for _, ev := range replay {
		sub.ch <- ev
		if ev.Seq > c.lastSeq {
			c.lastSeq = ev.Seq
		}
	}
	c.subs[sub] = struct{}{}
	c.lastActive = time.Now()
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub
}

// Subscribe is SubscribeWithReplay without history.
func (b *Bus[T]) Subscribe(ctx context.Context, name string) *Subscription[T] {
	return b.SubscribeWithReplay(ctx, name, 0)
}

func (b *Bus[T]) SubscriberCount(name string) int {
	b.mu.Lock()
	c, ok := b.channels[name]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Evict forgets channels that have had no subscriber and no publish for
// idleFor and drops their tail.
func (b *Bus[T]) Evict(ctx context.Context, idleFor time.Duration) int {
	cutoff := time.Now().Add(-idleFor)
	b.mu.Lock()
	var idle []string
	for name, c := range b.channels {
		c.mu.Lock()
		if len(c.subs) == 0 && c.lastActive.Before(cutoff) {
			c.evicted = true
			delete(b.channels, name)
			idle = append(idle, name)
		}
		c.mu.Unlock()
	}
	b.mu.Unlock()

	for _, name := range idle {
		if err := b.tail.Drop(ctx, name); err != nil {
			logs.CtxWarnf(ctx, "drop tail of channel %s failed: %v", name, err)
		}
	}
	return len(idle)
}

func (b *Bus[T]) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.done:
		return
	default:
		close(b.done)
	}
	for name, c := range b.channels {
		c.mu.Lock()
		for sub := range c.subs {
			delete(c.subs, sub)
			sub.close(nil)
		}
		c.evicted = true
		c.mu.Unlock()
		delete(b.channels, name)
	}
}

type Subscription[T any] struct {
	ch      chan Event[T]
	bus     *Bus[T]
	channel *channel[T]
	done    chan struct{}

	once sync.Once
	err  error
}

// C yields replayed then live events and is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan Event[T] {
	return s.ch
}

// Err reports why the subscription ended: nil while it is live or after a
// regular Close, ErrSlowSubscriber when the bus dropped it.
func (s *Subscription[T]) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Subscription[T]) Close() {
	if s.channel == nil {
		return
	}
	s.channel.mu.Lock()
	defer s.channel.mu.Unlock()
	if _, ok := s.channel.subs[s]; ok {
		delete(s.channel.subs, s)
		s.close(nil)
	}
}

// close must be called with the channel lock held (or before registration).
func (s *Subscription[T]) close(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.ch)
		close(s.done)
	})
}
