// Package progress keeps per-session activity counters derived from the
// event bus. It is purely reactive: nothing in the hot path writes to it
// directly, it only observes.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/osahq/osa/internal/bus"
	"github.com/osahq/osa/pkg/protocol"
)

// Snapshot is the read-only activity view for one session.
type Snapshot struct {
	SessionID      string   `json:"session_id"`
	ElapsedMS      int64    `json:"elapsed_ms"`
	ToolCount      int      `json:"tool_count"`
	InputTokens    int      `json:"input_tokens"`
	OutputTokens   int      `json:"output_tokens"`
	CurrentAction  string   `json:"current_action,omitempty"`
	AgentSummaries []string `json:"agent_summaries,omitempty"`
}

type sessionStats struct {
	started       time.Time
	toolCount     int
	inputTokens   int
	outputTokens  int
	currentAction string
	agents        []string
}

// Tracker aggregates bus events into per-session snapshots.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*sessionStats
	subs     []bus.Subscription
	events   *bus.Bus
}

// NewTracker creates a tracker and subscribes it to the bus. Handlers
// run async; snapshots are eventually consistent with the stream.
func NewTracker(events *bus.Bus) *Tracker {
	t := &Tracker{
		sessions: make(map[string]*sessionStats),
		events:   events,
	}
	t.subs = append(t.subs,
		events.Subscribe(protocol.TopicToolCall, t.onToolCall, bus.Async),
		events.Subscribe(protocol.TopicLLMResponse, t.onLLMResponse, bus.Async),
		events.Subscribe(protocol.TopicSystemEvent, t.onSystemEvent, bus.Async),
		events.Subscribe(protocol.TopicAgentResponse, t.onAgentResponse, bus.Async),
	)
	return t
}

// Close detaches the tracker from the bus.
func (t *Tracker) Close() {
	for _, sub := range t.subs {
		t.events.Unsubscribe(sub)
	}
}

// Snapshot returns the session's current counters. Unknown sessions get
// a zero snapshot rather than an error; a session with no activity is a
// session with nothing to report.
func (t *Tracker) Snapshot(sessionID string) Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.sessions[sessionID]
	if !ok {
		return Snapshot{SessionID: sessionID}
	}
	out := Snapshot{
		SessionID:     sessionID,
		ElapsedMS:     time.Since(s.started).Milliseconds(),
		ToolCount:     s.toolCount,
		InputTokens:   s.inputTokens,
		OutputTokens:  s.outputTokens,
		CurrentAction: s.currentAction,
	}
	out.AgentSummaries = append(out.AgentSummaries, s.agents...)
	return out
}

func (t *Tracker) stats(sessionID string) *sessionStats {
	if s, ok := t.sessions[sessionID]; ok {
		return s
	}
	s := &sessionStats{started: time.Now()}
	t.sessions[sessionID] = s
	return s
}

func (t *Tracker) onToolCall(_ string, payload any) {
	p, ok := payload.(protocol.ToolCallPayload)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats(p.SessionID)
	switch p.Phase {
	case protocol.PhaseStart:
		s.currentAction = "tool: " + p.Name
	case protocol.PhaseEnd:
		s.toolCount++
		s.currentAction = "thinking"
	}
}

func (t *Tracker) onLLMResponse(_ string, payload any) {
	p, ok := payload.(protocol.LLMResponsePayload)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats(p.SessionID)
	s.inputTokens += p.InputTokens
	s.outputTokens += p.OutputTokens
}

func (t *Tracker) onAgentResponse(_ string, payload any) {
	p, ok := payload.(protocol.AgentResponsePayload)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats(p.SessionID).currentAction = ""
}

func (t *Tracker) onSystemEvent(_ string, payload any) {
	p, ok := payload.(protocol.SystemEventPayload)
	if !ok {
		return
	}
	sessionID, _ := p.Fields["session_id"].(string)
	if sessionID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats(sessionID)

	switch p.Event {
	case protocol.SysAgentStarted:
		agent, _ := p.Fields["agent"].(string)
		role, _ := p.Fields["role"].(string)
		s.currentAction = fmt.Sprintf("agent %s (%s) working", agent, role)
	case protocol.SysAgentCompleted:
		agent, _ := p.Fields["agent"].(string)
		s.agents = append(s.agents, agent+": completed")
	case protocol.SysAgentFailed:
		agent, _ := p.Fields["agent"].(string)
		errMsg, _ := p.Fields["error"].(string)
		s.agents = append(s.agents, agent+": failed ("+errMsg+")")
	case protocol.SysTaskCompleted, protocol.SysTaskFailed:
		s.currentAction = ""
	case protocol.SysContextCompacted:
		s.currentAction = "compacting context"
	}
}
