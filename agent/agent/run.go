package agent

import (
	"context"
	"sync"

	"github.com/hatcher/agentcore/agent/event"
)

// Run is the handle of one in-flight turn.
type Run struct {
	sessionID string
	cancel    context.CancelFunc

	mu        sync.Mutex
	messageID string
	events    []event.Event
	notify    chan struct{}
	finished  bool
	result    Result
	done      chan struct{}
}

func newRun(sessionID string, cancel context.CancelFunc) *Run {
	return &Run{
		sessionID: sessionID,
		cancel:    cancel,
		notify:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (r *Run) SessionID() string { return r.sessionID }

// MessageID is the assistant message of the turn, empty until it is created.
func (r *Run) MessageID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messageID
}

func (r *Run) setMessageID(id string) {
	r.mu.Lock()
	r.messageID = id
	r.mu.Unlock()
}

// Cancel aborts the turn. Calling it more than once has no further effect.
func (r *Run) Cancel() { r.cancel() }

func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) Wait() Result {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Events replays the run from its first event and follows it until the run
// is terminal or ctx ends. Each call gets an independent sequence.
func (r *Run) Events(ctx context.Context) <-chan event.Event {
	out := make(chan event.Event)
	go func() {
		defer close(out)
		for i := 0; ; {
			r.mu.Lock()
			if i < len(r.events) {
				ev := r.events[i]
				r.mu.Unlock()
				select {
				case out <- ev:
					i++
				case <-ctx.Done():
					return
				}
				continue
			}
			finished, wait := r.finished, r.notify
			r.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (r *Run) append(ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	r.events = append(r.events, ev)
	close(r.notify)
	r.notify = make(chan struct{})
}

func (r *Run) finish(res Result) {
	r.mu.Lock()
	r.result = res
	r.finished = true
	close(r.notify)
	r.mu.Unlock()
	close(r.done)
}
