package pubsub

import (
	"context"
	"sync"
	"time"
)

const defaultReplaySize = 512

// MemoryTail keeps the last size events of every channel in process memory.
type MemoryTail[T any] struct {
	mu    sync.Mutex
	size  int
	rings map[string][]Event[T]
	// seqs survive Drop so a re-created channel never reuses a number.
	seqs map[string]uint64
}

func NewMemoryTail[T any](size int) *MemoryTail[T] {
	if size <= 0 {
		size = defaultReplaySize
	}
	return &MemoryTail[T]{
		size:  size,
		rings: make(map[string][]Event[T]),
		seqs:  make(map[string]uint64),
	}
}

func (t *MemoryTail[T]) Append(_ context.Context, channel string, payload T, at time.Time) (Event[T], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seqs[channel]++
	ev := Event[T]{Channel: channel, Seq: t.seqs[channel], Time: at.UnixMilli(), Payload: payload}
	ring := append(t.rings[channel], ev)
	if len(ring) > t.size {
		ring = append(ring[:0:0], ring[len(ring)-t.size:]...)
	}
	t.rings[channel] = ring
	return ev, nil
}

func (t *MemoryTail[T]) Last(_ context.Context, channel string, n int) ([]Event[T], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ring := t.rings[channel]
	if n <= 0 || len(ring) == 0 {
		return nil, nil
	}
	if n > len(ring) {
		n = len(ring)
	}
	return append([]Event[T](nil), ring[len(ring)-n:]...), nil
}

func (t *MemoryTail[T]) Drop(_ context.Context, channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rings, channel)
	return nil
}
