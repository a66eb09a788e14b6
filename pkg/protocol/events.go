package protocol

// Bus topic names. Every publisher and subscriber goes through these
// constants; topics are opaque tokens with no wildcard matching.
const (
	// TopicAgentResponse carries the final assistant text for a session.
	TopicAgentResponse = "agent_response"

	// TopicToolCall carries tool execution phases (start/end).
	TopicToolCall = "tool_call"

	// TopicLLMRequest and TopicLLMResponse bracket every provider call.
	TopicLLMRequest  = "llm_request"
	TopicLLMResponse = "llm_response"

	// TopicSystemEvent is the structured firehose: every orchestrator,
	// swarm, and context-pressure event is mirrored here.
	TopicSystemEvent = "system_event"
)

// System event tags (the "event" field of a TopicSystemEvent payload).
const (
	SysSignalLowWeight  = "signal_low_weight"
	SysContextPressure  = "context_pressure"
	SysContextCompacted = "context_compacted"

	SysTaskStarted    = "orchestrator_task_started"
	SysTaskAppraised  = "orchestrator_task_appraised"
	SysTaskCompleted  = "orchestrator_task_completed"
	SysTaskFailed     = "orchestrator_task_failed"
	SysAgentsSpawning = "orchestrator_agents_spawning"
	SysWaveStarted    = "orchestrator_wave_started"
	SysAgentStarted   = "orchestrator_agent_started"
	SysAgentProgress  = "orchestrator_agent_progress"
	SysAgentCompleted = "orchestrator_agent_completed"
	SysAgentFailed    = "orchestrator_agent_failed"
)

// Tool call phases.
const (
	PhaseStart = "start"
	PhaseEnd   = "end"
)

// AgentResponsePayload is published on TopicAgentResponse.
type AgentResponsePayload struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
	Signal    any    `json:"signal,omitempty"`
}

// ToolCallPayload is published on TopicToolCall at both phases.
type ToolCallPayload struct {
	SessionID  string `json:"session_id,omitempty"`
	Name       string `json:"name"`
	Phase      string `json:"phase"` // PhaseStart or PhaseEnd
	ArgsHint   string `json:"args_hint,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"` // end only
	Success    bool   `json:"success,omitempty"`     // end only
}

// LLMRequestPayload is published on TopicLLMRequest before a provider call.
type LLMRequestPayload struct {
	SessionID string `json:"session_id"`
	Iteration int    `json:"iteration"`
}

// LLMResponsePayload is published on TopicLLMResponse after a provider call.
type LLMResponsePayload struct {
	SessionID    string `json:"session_id"`
	DurationMS   int64  `json:"duration_ms"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// SystemEventPayload is the structured firehose envelope.
type SystemEventPayload struct {
	Event  string         `json:"event"`
	Fields map[string]any `json:"fields,omitempty"`
}
