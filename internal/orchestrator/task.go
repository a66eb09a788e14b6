package orchestrator

import (
	"sync"
	"time"
)

// TaskStatus is the lifecycle of an orchestrated task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// AgentStatus is the lifecycle of one sub-agent.
type AgentStatus string

const (
	AgentPending   AgentStatus = "pending"
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
)

// Appraisal is the optional pre-execution estimate.
type Appraisal struct {
	EstimatedCost  float64 `json:"estimated_cost_usd"`
	EstimatedHours float64 `json:"estimated_hours"`
}

// AgentState tracks one sub-agent within a task.
type AgentState struct {
	Name     string      `json:"name"`
	Role     Role        `json:"role"`
	Status   AgentStatus `json:"status"`
	Result   string      `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
	ToolUses int         `json:"tool_uses"`
	Tokens   int         `json:"tokens_used"`
}

// Task is the mutable state of one orchestrated run.
type Task struct {
	mu sync.RWMutex

	ID        string
	SessionID string
	Message   string
	Status    TaskStatus
	Subtasks  []SubTask
	Agents    map[string]*AgentState
	Appraisal *Appraisal
	Result    string
	Err       string
	Created   time.Time
	Finished  time.Time

	cancel func()
}

// TaskSnapshot is the read-only view Progress and list_tasks return.
type TaskSnapshot struct {
	ID        string        `json:"task_id"`
	SessionID string        `json:"session_id"`
	Status    TaskStatus    `json:"status"`
	Agents    []AgentState  `json:"agents"`
	Appraisal *Appraisal    `json:"appraisal,omitempty"`
	Result    string        `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	Created   time.Time     `json:"created_at"`
	Elapsed   time.Duration `json:"elapsed_ms"`
}

func (t *Task) snapshot() TaskSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	agents := make([]AgentState, 0, len(t.Subtasks))
	for _, st := range t.Subtasks {
		if a, ok := t.Agents[st.Name]; ok {
			agents = append(agents, *a)
		}
	}

	elapsed := time.Since(t.Created)
	if !t.Finished.IsZero() {
		elapsed = t.Finished.Sub(t.Created)
	}
	return TaskSnapshot{
		ID:        t.ID,
		SessionID: t.SessionID,
		Status:    t.Status,
		Agents:    agents,
		Appraisal: t.Appraisal,
		Result:    t.Result,
		Error:     t.Err,
		Created:   t.Created,
		Elapsed:   elapsed,
	}
}

func (t *Task) setStatus(s TaskStatus) {
	t.mu.Lock()
	t.Status = s
	if s == TaskCompleted || s == TaskFailed || s == TaskCancelled {
		t.Finished = time.Now()
	}
	t.mu.Unlock()
}

func (t *Task) setResult(result string) {
	t.mu.Lock()
	t.Result = result
	t.mu.Unlock()
}

func (t *Task) setError(msg string) {
	t.mu.Lock()
	t.Err = msg
	t.mu.Unlock()
}

func (t *Task) agent(name string) *AgentState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Agents[name]
}

func (t *Task) updateAgent(name string, fn func(*AgentState)) {
	t.mu.Lock()
	if a, ok := t.Agents[name]; ok {
		fn(a)
	}
	t.mu.Unlock()
}
