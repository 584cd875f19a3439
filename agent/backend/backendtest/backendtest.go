// Package backendtest provides scripted backends for tests.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hatcher/agentcore/agent/backend"
	"github.com/hatcher/agentcore/agent/message"
)

// Script is the output of one Stream call.
type Script struct {
	Chunks []backend.Chunk
	// StreamErr is returned by Stream itself instead of a channel.
	StreamErr error
	// Hold, when set, blocks before the chunk at HoldAt until closed or ctx ends.
	Hold   <-chan struct{}
	HoldAt int
}

// Finished builds a chunk sequence ending with a successful finish.
func Finished(reason string, usage message.Usage, chunks ...backend.Chunk) []backend.Chunk {
	return append(chunks, backend.Finish{Usage: &usage, FinishReason: reason})
}

type Backend struct {
	info backend.ModelInfo

	mu       sync.Mutex
	scripts  []Script
	requests []backend.Request
}

func New(info backend.ModelInfo, scripts ...Script) *Backend {
	return &Backend{info: info, scripts: scripts}
}

func (b *Backend) Info() backend.ModelInfo { return b.info }

func (b *Backend) Push(scripts ...Script) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts = append(b.scripts, scripts...)
}

// Requests returns every request received so far.
func (b *Backend) Requests() []backend.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.Request(nil), b.requests...)
}

func (b *Backend) Stream(ctx context.Context, req backend.Request) (<-chan backend.Chunk, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	if len(b.scripts) == 0 {
		b.mu.Unlock()
		return nil, errors.New("backendtest: no script left")
	}
	script := b.scripts[0]
	b.scripts = b.scripts[1:]
	b.mu.Unlock()

	if script.StreamErr != nil {
		return nil, script.StreamErr
	}
	out := make(chan backend.Chunk)
	go func() {
		defer close(out)
		for i, c := range script.Chunks {
			if script.Hold != nil && i == script.HoldAt {
				select {
				case <-script.Hold:
				case <-ctx.Done():
					out <- backend.Error{Err: ctx.Err()}
					return
				}
			}
			select {
			case out <- c:
			case <-ctx.Done():
				out <- backend.Error{Err: ctx.Err()}
				return
			}
		}
	}()
	return out, nil
}

// Resumable is a Backend with server-side session state.
type Resumable struct {
	*Backend

	mu      sync.Mutex
	resumed []string
}

func NewResumable(info backend.ModelInfo, scripts ...Script) *Resumable {
	return &Resumable{Backend: New(info, scripts...)}
}

func (r *Resumable) Resume(_ context.Context, remoteID string, skip int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumed = append(r.resumed, fmt.Sprintf("%s@%d", remoteID, skip))
	return remoteID, nil
}

// Resumed lists "remoteID@skip" for every Resume call.
func (r *Resumable) Resumed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.resumed...)
}

// Titler generates titles from a fixed delta list.
type Titler struct {
	Deltas []string
	Err    error
}

func (t Titler) GenerateTitle(_ context.Context, _ string, onDelta func(string)) (string, error) {
	if t.Err != nil {
		return "", t.Err
	}
	for _, d := range t.Deltas {
		onDelta(d)
	}
	return strings.TrimSpace(strings.Join(t.Deltas, "")), nil
}
