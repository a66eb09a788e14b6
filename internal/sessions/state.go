// Package sessions owns live conversation state: one State per session id,
// created lazily through a race-free Registry, serialized per session, and
// backed by a durable store.
package sessions

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/osahq/osa/internal/providers"
	"github.com/osahq/osa/internal/signal"
)

// Status is the agent-loop phase of a session.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusThinking Status = "thinking"
	StatusToolUse  Status = "tool_use"
)

// State is the live record for one session. Access to mutable fields goes
// through methods; the run lock serializes message processing FIFO.
type State struct {
	ID      string
	UserID  string
	Channel string

	mu            sync.RWMutex
	messages      []providers.Message
	iteration     int
	status        Status
	currentSignal *signal.Signal
	inputTokens   int64
	outputTokens  int64
	model         string
	provider      string
	created       time.Time
	updated       time.Time

	cancelled atomic.Bool
	runMu     sync.Mutex
}

// NewState builds a fresh idle session record. Most callers go through
// Registry.Ensure instead of constructing states directly.
func NewState(id, channel string) *State {
	now := time.Now()
	return &State{
		ID:      id,
		Channel: channel,
		status:  StatusIdle,
		created: now,
		updated: now,
	}
}

func newState(id string) *State { return NewState(id, "") }

// LockRun acquires the per-session run lock. Concurrent process_message
// calls for the same session queue FIFO on this mutex.
func (s *State) LockRun()   { s.runMu.Lock() }
func (s *State) UnlockRun() { s.runMu.Unlock() }

// Cancel flips the cooperative cancellation flag. The agent loop checks it
// before each provider call and each tool dispatch.
func (s *State) Cancel()         { s.cancelled.Store(true) }
func (s *State) Cancelled() bool { return s.cancelled.Load() }
func (s *State) ResetCancel()    { s.cancelled.Store(false) }

// Append adds a message to the in-memory history.
func (s *State) Append(msg providers.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.updated = time.Now()
	s.mu.Unlock()
}

// Messages returns a copy of the history.
func (s *State) Messages() []providers.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]providers.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// SetMessages replaces the history (restore from store, compaction).
func (s *State) SetMessages(msgs []providers.Message) {
	s.mu.Lock()
	s.messages = msgs
	s.updated = time.Now()
	s.mu.Unlock()
}

// MessageCount returns the history length.
func (s *State) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// SetStatus transitions the loop state machine.
func (s *State) SetStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Status returns the current loop phase.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetIteration records the loop iteration for diagnostics.
func (s *State) SetIteration(n int) {
	s.mu.Lock()
	s.iteration = n
	s.mu.Unlock()
}

// SetSignal stores the classification of the latest user message.
func (s *State) SetSignal(sig *signal.Signal) {
	s.mu.Lock()
	s.currentSignal = sig
	s.mu.Unlock()
}

// Signal returns the current signal (nil before the first message).
func (s *State) Signal() *signal.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSignal
}

// AccumulateTokens adds a provider call's usage to the session totals.
func (s *State) AccumulateTokens(input, output int64) {
	s.mu.Lock()
	s.inputTokens += input
	s.outputTokens += output
	s.mu.Unlock()
}

// TokenTotals returns accumulated (input, output) token counts.
func (s *State) TokenTotals() (int64, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inputTokens, s.outputTokens
}

// SetModelInfo pins the session to a provider/model pair. Empty values
// clear the pin and restore tier-based routing.
func (s *State) SetModelInfo(provider, model string) {
	s.mu.Lock()
	s.provider = provider
	s.model = model
	s.mu.Unlock()
}

// ModelInfo returns the pinned (provider, model), both "" when unset.
func (s *State) ModelInfo() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider, s.model
}
