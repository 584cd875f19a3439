// Package fingerprint decides whether a stateful backend session can be
// resumed by comparing cheap digests of the history it already processed.
package fingerprint

import (
	"sync"

	"github.com/hatcher/agentcore/agent/message"
)

const textPrefixLen = 100

// Fingerprint is role + ":" + the first 100 characters of the message text.
func Fingerprint(msg message.Message) string {
	text := []rune(msg.Text())
	if len(text) > textPrefixLen {
		text = text[:textPrefixLen]
	}
	return string(msg.Role) + ":" + string(text)
}

func Of(msgs []message.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = Fingerprint(m)
	}
	return out
}

// DetectInconsistency reports a rewind (fewer messages than processed) or an
// edit inside the already processed prefix.
func DetectInconsistency(current []message.Message, lastProcessedCount int, lastFingerprints []string) bool {
	if len(current) < lastProcessedCount {
		return true
	}
	n := min(lastProcessedCount, len(lastFingerprints), len(current))
	for i := 0; i < n; i++ {
		if Fingerprint(current[i]) != lastFingerprints[i] {
			return true
		}
	}
	return false
}

type record struct {
	remoteID     string
	processed    int
	fingerprints []string
}

// Plan is the resume decision for one backend call.
type Plan struct {
	// RemoteSessionID is empty when a fresh remote session has to be started.
	RemoteSessionID string
	// Skip is how many leading messages the remote session already holds.
	Skip         int
	Inconsistent bool
}

// Tracker keeps, per session, what the remote backend session has seen.
type Tracker struct {
	mu      sync.Mutex
	records map[string]record
}

func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]record)}
}

func (t *Tracker) Plan(sessionID string, history []message.Message) Plan {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[sessionID]
	if !ok || rec.remoteID == "" {
		return Plan{}
	}
	if DetectInconsistency(history, rec.processed, rec.fingerprints) {
		delete(t.records, sessionID)
		return Plan{Inconsistent: true}
	}
	return Plan{RemoteSessionID: rec.remoteID, Skip: rec.processed}
}

// Commit records that the remote session now holds history.
func (t *Tracker) Commit(sessionID, remoteID string, history []message.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if remoteID == "" {
		delete(t.records, sessionID)
		return
	}
	t.records[sessionID] = record{
		remoteID:     remoteID,
		processed:    len(history),
		fingerprints: Of(history),
	}
}

func (t *Tracker) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, sessionID)
}
