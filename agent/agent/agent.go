// Package agent drives assistant turns: it runs the step loop against a
// model backend, turns streamed output into ordered parts, persists every
// step and publishes each transition on the session event channel.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hatcher/agentcore/agent/csync"
	"github.com/hatcher/agentcore/agent/fingerprint"
	"github.com/hatcher/agentcore/agent/session"
	"github.com/hatcher/agentcore/pkg/logs"
	"github.com/hatcher/agentcore/pkg/redisx"
	"github.com/hatcher/agentcore/pkg/safego"
)

type Orchestrator struct {
	opts           Options
	tracker        *fingerprint.Tracker
	activeRequests *csync.Map[string, context.CancelFunc]
	now            func() time.Time
}

func New(opts Options) *Orchestrator {
	opts.Config.Prepare()
	tracker := opts.Tracker
	if tracker == nil {
		tracker = fingerprint.NewTracker()
	}
	return &Orchestrator{
		opts:           opts,
		tracker:        tracker,
		activeRequests: csync.NewMap[string, context.CancelFunc](),
		now:            time.Now,
	}
}

// RunTurn starts a turn and returns its handle. Cancelling ctx or calling
// Run.Cancel aborts the turn. Validation and backend failures are reported
// through the run events, not the returned error.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) (*Run, error) {
	if req.Content != nil && req.Content.empty() {
		return nil, ErrEmptyPrompt
	}
	sessionID := req.Session.ID
	if sessionID == "" {
		if req.Content == nil {
			return nil, ErrEmptyPrompt
		}
		sessionID = uuid.New().String()
	} else if _, err := o.opts.Sessions.Get(ctx, sessionID); err != nil {
		if session.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionMissing, sessionID)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if !o.activeRequests.SetIfAbsent(sessionID, cancel) {
		cancel()
		return nil, ErrSessionBusy
	}
	release := func() {}
	if o.opts.Locker != nil {
		unlock, err := o.opts.Locker.Lock(ctx, sessionID)
		if err != nil {
			o.activeRequests.Del(sessionID)
			cancel()
			if errors.Is(err, redisx.ErrLockNotAcquired) {
				return nil, ErrSessionBusy
			}
			return nil, fmt.Errorf("failed to lock session: %w", err)
		}
		release = unlock
	}

	run := newRun(sessionID, cancel)
	runCtx = logs.WithSessionID(runCtx, sessionID)
	t := &turn{
		o:         o,
		run:       run,
		req:       req,
		sessionID: sessionID,
		abortCtx:  runCtx,
		ctx:       context.WithoutCancel(runCtx),
	}
	safego.Go(runCtx, func() {
		var res Result
		// The session is released before the run reports done, so a caller
		// that waited on it can start the next turn right away.
		defer func() {
			cancel()
			release()
			o.activeRequests.Del(sessionID)
			run.finish(res)
		}()
		res = t.execute()
	})
	return run, nil
}

// Cancel aborts the session's turn. A turn running in another process is
// reached through the abort relay.
func (o *Orchestrator) Cancel(sessionID string) {
	if o.cancelLocal(sessionID) || o.opts.Aborts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	if err := o.opts.Aborts.Publish(ctx, sessionID); err != nil {
		logs.Errorf("failed to forward abort, session_id: %s, error: %v", sessionID, err)
	}
}

func (o *Orchestrator) cancelLocal(sessionID string) bool {
	// The entry stays until the turn goroutine settles so IsSessionBusy
	// keeps reporting true while the partial step is persisted.
	cancel, ok := o.activeRequests.Get(sessionID)
	if !ok || cancel == nil {
		return false
	}
	logs.Infof("Request cancellation initiated，session_id：%s", sessionID)
	cancel()
	return true
}

// ListenAborts cancels local turns named on the abort relay until ctx ends.
func (o *Orchestrator) ListenAborts(ctx context.Context) error {
	if o.opts.Aborts == nil {
		return nil
	}
	return o.opts.Aborts.Listen(ctx, func(sessionID string) {
		o.cancelLocal(sessionID)
	})
}

func (o *Orchestrator) CancelAll() {
	if !o.IsBusy() {
		return
	}
	for sessionID := range o.activeRequests.Seq2() {
		o.cancelLocal(sessionID)
	}

	timeout := time.After(5 * time.Second)
	for o.IsBusy() {
		select {
		case <-timeout:
			return
		default:
			time.Sleep(200 * time.Millisecond)
		}
	}
}

func (o *Orchestrator) IsBusy() bool {
	return o.activeRequests.Len() > 0
}

// IsSessionBusy reports a turn running here or, with a Locker, in any
// process. A failed lock lookup counts as busy.
func (o *Orchestrator) IsSessionBusy(sessionID string) bool {
	if _, busy := o.activeRequests.Get(sessionID); busy {
		return true
	}
	if o.opts.Locker == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	held, err := o.opts.Locker.Held(ctx, sessionID)
	if err != nil {
		logs.Warnf("failed to check session lock, session_id: %s, error: %v", sessionID, err)
		return true
	}
	return held
}
