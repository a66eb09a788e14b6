package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/osahq/osa/internal/bus"
	"github.com/osahq/osa/pkg/protocol"
)

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	assert.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func TestTrackerCountsToolsAndTokens(t *testing.T) {
	events := bus.New(2)
	defer events.Close()
	tr := NewTracker(events)
	defer tr.Close()

	events.Emit(protocol.TopicToolCall, protocol.ToolCallPayload{SessionID: "s1", Name: "shell", Phase: protocol.PhaseStart})
	events.Emit(protocol.TopicToolCall, protocol.ToolCallPayload{SessionID: "s1", Name: "shell", Phase: protocol.PhaseEnd, Success: true})
	events.Emit(protocol.TopicLLMResponse, protocol.LLMResponsePayload{SessionID: "s1", InputTokens: 120, OutputTokens: 40})
	events.Emit(protocol.TopicLLMResponse, protocol.LLMResponsePayload{SessionID: "s1", InputTokens: 80, OutputTokens: 10})

	eventually(t, func() bool {
		snap := tr.Snapshot("s1")
		return snap.ToolCount == 1 && snap.InputTokens == 200 && snap.OutputTokens == 50
	})
}

func TestTrackerCurrentActionFollowsToolPhases(t *testing.T) {
	events := bus.New(2)
	defer events.Close()
	tr := NewTracker(events)
	defer tr.Close()

	events.Emit(protocol.TopicToolCall, protocol.ToolCallPayload{SessionID: "s1", Name: "web_fetch", Phase: protocol.PhaseStart})
	eventually(t, func() bool { return tr.Snapshot("s1").CurrentAction == "tool: web_fetch" })

	events.Emit(protocol.TopicAgentResponse, protocol.AgentResponsePayload{SessionID: "s1", Response: "done"})
	eventually(t, func() bool { return tr.Snapshot("s1").CurrentAction == "" })
}

func TestTrackerAgentSummaries(t *testing.T) {
	events := bus.New(2)
	defer events.Close()
	tr := NewTracker(events)
	defer tr.Close()

	events.Emit(protocol.TopicSystemEvent, protocol.SystemEventPayload{
		Event:  protocol.SysAgentCompleted,
		Fields: map[string]any{"session_id": "s1", "agent": "api"},
	})
	events.Emit(protocol.TopicSystemEvent, protocol.SystemEventPayload{
		Event:  protocol.SysAgentFailed,
		Fields: map[string]any{"session_id": "s1", "agent": "ui", "error": "boom"},
	})

	eventually(t, func() bool {
		snap := tr.Snapshot("s1")
		return len(snap.AgentSummaries) == 2
	})
	snap := tr.Snapshot("s1")
	assert.Contains(t, snap.AgentSummaries, "api: completed")
	assert.Contains(t, snap.AgentSummaries, "ui: failed (boom)")
}

func TestTrackerSessionsIsolated(t *testing.T) {
	events := bus.New(2)
	defer events.Close()
	tr := NewTracker(events)
	defer tr.Close()

	events.Emit(protocol.TopicLLMResponse, protocol.LLMResponsePayload{SessionID: "a", InputTokens: 10})
	eventually(t, func() bool { return tr.Snapshot("a").InputTokens == 10 })
	assert.Zero(t, tr.Snapshot("b").InputTokens)
}

func TestSnapshotUnknownSessionIsZero(t *testing.T) {
	events := bus.New(2)
	defer events.Close()
	tr := NewTracker(events)
	defer tr.Close()

	snap := tr.Snapshot("ghost")
	assert.Equal(t, "ghost", snap.SessionID)
	assert.Zero(t, snap.ToolCount)
	assert.Zero(t, snap.ElapsedMS)
}
