// Package orchestrator decomposes complex requests into role-specific
// sub-agents, runs them in dependency-ordered waves, and synthesizes one
// unified answer.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/osahq/osa/internal/bus"
	"github.com/osahq/osa/internal/config"
	"github.com/osahq/osa/internal/providers"
	"github.com/osahq/osa/internal/tools"
	"github.com/osahq/osa/pkg/protocol"
)

// ErrNotFound is returned by Progress for unknown task ids.
var ErrNotFound = errors.New("task not found")

const subAgentMaxIterations = 10

// LLM is the chat surface sub-agents and synthesis call.
type LLM interface {
	Chat(ctx context.Context, msgs []providers.Message, tools []providers.ToolDefinition, opts providers.ChatOpts) (*providers.ChatResponse, error)
}

// Orchestrator runs multi-agent tasks.
type Orchestrator struct {
	llm    LLM
	tools  *tools.Registry
	events *bus.Bus
	cfg    config.OrchConfig
	log    *slog.Logger

	appraise bool

	mu    sync.RWMutex
	tasks map[string]*Task
}

func New(llm LLM, registry *tools.Registry, events *bus.Bus, cfg config.OrchConfig, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		llm:    llm,
		tools:  registry,
		events: events,
		cfg:    cfg,
		log:    log,
		tasks:  make(map[string]*Task),
	}
}

// EnableAppraisal turns on the pre-execution cost estimate.
func (o *Orchestrator) EnableAppraisal() { o.appraise = true }

// Execute starts asynchronous execution of a decomposed task and returns
// its id immediately. The subtasks come from a prior Analyze call.
func (o *Orchestrator) Execute(ctx context.Context, sessionID, message string, subtasks []SubTask) string {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.TaskTimeout())

	task := &Task{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Message:   message,
		Status:    TaskPending,
		Subtasks:  subtasks,
		Agents:    make(map[string]*AgentState, len(subtasks)),
		Created:   time.Now(),
		cancel:    cancel,
	}
	for _, st := range subtasks {
		task.Agents[st.Name] = &AgentState{Name: st.Name, Role: st.Role, Status: AgentPending}
	}

	o.mu.Lock()
	o.tasks[task.ID] = task
	o.mu.Unlock()

	go o.run(runCtx, task)
	return task.ID
}

// ExecuteSync runs the task to completion and returns the final snapshot.
// The HTTP gateway's blocking mode uses this.
func (o *Orchestrator) ExecuteSync(ctx context.Context, sessionID, message string, subtasks []SubTask) TaskSnapshot {
	id := o.Execute(ctx, sessionID, message, subtasks)
	for {
		snap, err := o.Progress(id)
		if err != nil {
			return TaskSnapshot{ID: id, Status: TaskFailed, Error: err.Error()}
		}
		switch snap.Status {
		case TaskCompleted, TaskFailed, TaskCancelled:
			return snap
		}
		select {
		case <-ctx.Done():
			o.CancelTask(id)
			snap, _ = o.Progress(id)
			return snap
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Progress returns a snapshot of the task's state.
func (o *Orchestrator) Progress(taskID string) (TaskSnapshot, error) {
	o.mu.RLock()
	task, ok := o.tasks[taskID]
	o.mu.RUnlock()
	if !ok {
		return TaskSnapshot{}, ErrNotFound
	}
	return task.snapshot(), nil
}

// ListTasks returns summaries of all known tasks, newest first.
func (o *Orchestrator) ListTasks() []TaskSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]TaskSnapshot, 0, len(o.tasks))
	for _, t := range o.tasks {
		out = append(out, t.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out
}

// CancelTask cancels a running task: current sub-agents stop at their
// next checkpoint, later waves never start, recorded results survive.
func (o *Orchestrator) CancelTask(taskID string) bool {
	o.mu.RLock()
	task, ok := o.tasks[taskID]
	o.mu.RUnlock()
	if !ok {
		return false
	}
	task.cancel()
	return true
}

func (o *Orchestrator) run(ctx context.Context, task *Task) {
	defer task.cancel()

	task.setStatus(TaskRunning)
	o.emit(task, protocol.SysTaskStarted, map[string]any{
		"agent_count": len(task.Subtasks),
	})

	agents := make([]map[string]any, 0, len(task.Subtasks))
	for _, st := range task.Subtasks {
		agents = append(agents, map[string]any{"name": st.Name, "role": string(st.Role)})
	}
	o.emit(task, protocol.SysAgentsSpawning, map[string]any{
		"agent_count": len(task.Subtasks),
		"agents":      agents,
	})

	if o.appraise {
		o.appraiseTask(ctx, task)
	}

	results := make(map[string]string, len(task.Subtasks))
	for i, wave := range waves(task.Subtasks, o.log) {
		if ctx.Err() != nil {
			break
		}
		o.emit(task, protocol.SysWaveStarted, map[string]any{
			"wave":      i + 1,
			"wave_size": len(wave),
		})
		o.runWave(ctx, task, wave, results)
	}

	if ctx.Err() != nil && len(results) < len(task.Subtasks) {
		o.finishCancelled(ctx, task, results)
		return
	}

	final := o.synthesize(ctx, task, results)
	task.setResult(final)
	task.setStatus(TaskCompleted)
	o.emit(task, protocol.SysTaskCompleted, map[string]any{
		"agent_count": len(task.Subtasks),
	})
}

func (o *Orchestrator) finishCancelled(ctx context.Context, task *Task, results map[string]string) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		task.setError("task timed out")
		task.setStatus(TaskFailed)
		o.emit(task, protocol.SysTaskFailed, map[string]any{"reason": "timeout"})
		return
	}
	task.setError("task cancelled")
	task.setStatus(TaskCancelled)
	o.emit(task, protocol.SysTaskFailed, map[string]any{"reason": "cancelled"})
}

// runWave spawns one worker per subtask and joins them all before
// returning. A failed worker records its error and the wave continues.
func (o *Orchestrator) runWave(ctx context.Context, task *Task, wave []SubTask, results map[string]string) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, st := range wave {
		wg.Add(1)
		// Dependencies resolve to earlier waves, so their results are
		// final here. Snapshot before spawning: siblings write the
		// shared map concurrently.
		deps := snapshotResults(results, st.DependsOn)
		go func(st SubTask, deps map[string]string) {
			defer wg.Done()
			output, err := o.runAgent(ctx, task, st, deps)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[st.Name] = fmt.Sprintf("[%s failed: %v]", st.Name, err)
				task.updateAgent(st.Name, func(a *AgentState) {
					a.Status = AgentFailed
					a.Error = err.Error()
				})
				o.emit(task, protocol.SysAgentFailed, map[string]any{
					"agent": st.Name, "role": string(st.Role), "error": err.Error(),
				})
				return
			}
			results[st.Name] = output
			task.updateAgent(st.Name, func(a *AgentState) {
				a.Status = AgentCompleted
				a.Result = output
			})
			o.emit(task, protocol.SysAgentCompleted, map[string]any{
				"agent": st.Name, "role": string(st.Role),
			})
		}(st, deps)
	}
	wg.Wait()
}

func snapshotResults(results map[string]string, deps []string) map[string]string {
	out := make(map[string]string, len(deps))
	for _, dep := range deps {
		if v, ok := results[dep]; ok {
			out[dep] = v
		}
	}
	return out
}

// runAgent is the miniature agent loop one sub-agent runs: role prompt,
// dependency results as prior context, a filtered tool set, and a bounded
// number of provider calls. Tools execute through the registry's direct
// path; the serialized path could be held by the parent loop's own tool
// call, which is what started this task.
func (o *Orchestrator) runAgent(ctx context.Context, task *Task, st SubTask, deps map[string]string) (string, error) {
	task.updateAgent(st.Name, func(a *AgentState) { a.Status = AgentRunning })
	o.emit(task, protocol.SysAgentStarted, map[string]any{
		"agent": st.Name, "role": string(st.Role),
	})

	var system strings.Builder
	system.WriteString(PromptFor(st.Role))
	system.WriteString("\n\nYou are working on one piece of a larger task. Complete your piece and report the result; do not attempt the rest.")
	if len(deps) > 0 {
		system.WriteString("\n\nResults from work you depend on:\n")
		for name, result := range deps {
			fmt.Fprintf(&system, "\n--- %s ---\n%s\n", name, result)
		}
	}

	msgs := []providers.Message{
		{Role: "system", Content: system.String()},
		{Role: "user", Content: fmt.Sprintf("Overall goal: %s\n\nYour subtask: %s", task.Message, st.Description)},
	}

	var defs []providers.ToolDefinition
	if o.tools != nil {
		if len(st.ToolsNeeded) > 0 {
			defs = o.tools.DefsFor(st.ToolsNeeded)
		} else {
			defs = o.tools.Defs()
		}
	}

	opts := providers.ChatOpts{
		Tier:        TierFor(st.Role),
		Temperature: 0.3,
	}

	for i := 0; i < subAgentMaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		resp, err := o.llm.Chat(ctx, msgs, defs, opts)
		if err != nil {
			return "", err
		}
		if resp.Usage != nil {
			used := resp.Usage.TotalTokens
			task.updateAgent(st.Name, func(a *AgentState) {
				a.Tokens += used
			})
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		msgs = append(msgs, providers.Message{
			Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			result := o.tools.ExecuteDirect(ctx, call.Name, call.Arguments)
			task.updateAgent(st.Name, func(a *AgentState) { a.ToolUses++ })
			o.emit(task, protocol.SysAgentProgress, map[string]any{
				"agent":          st.Name,
				"tool_uses":      task.agent(st.Name).ToolUses,
				"tokens_used":    task.agent(st.Name).Tokens,
				"current_action": call.Name,
			})
			msgs = append(msgs, providers.Message{
				Role: "tool", Content: result.ForLLM, ToolCallID: call.ID,
			})
		}
	}
	return "", fmt.Errorf("sub-agent %s exceeded %d iterations", st.Name, subAgentMaxIterations)
}

const synthesizePrompt = `You are the lead agent. Below are the outputs of your specialist
team, labeled by subtask. Produce one unified response to the original
request. Integrate, deduplicate, and resolve conflicts; note any piece
that failed.`

// synthesize merges sub-task outputs into one response, falling back to
// labeled concatenation when the provider call fails.
func (o *Orchestrator) synthesize(ctx context.Context, task *Task, results map[string]string) string {
	var b strings.Builder
	for _, st := range task.Subtasks {
		if r, ok := results[st.Name]; ok {
			fmt.Fprintf(&b, "### %s (%s)\n%s\n\n", st.Name, st.Role, r)
		}
	}

	resp, err := o.llm.Chat(ctx, []providers.Message{
		{Role: "system", Content: synthesizePrompt},
		{Role: "user", Content: fmt.Sprintf("Original request: %s\n\n%s", task.Message, b.String())},
	}, nil, providers.ChatOpts{Tier: config.TierElite, Temperature: 0.3})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		o.log.Warn("synthesis failed, concatenating results", "task", task.ID, "error", err)
		return strings.TrimSpace(b.String())
	}
	return resp.Content
}

const appraisePrompt = `Estimate the effort for the decomposed task below. Respond with JSON
only: {"estimated_cost_usd": <number>, "estimated_hours": <number>}`

// appraiseTask computes the optional pre-wave estimate. Failure is
// logged and ignored.
func (o *Orchestrator) appraiseTask(ctx context.Context, task *Task) {
	var b strings.Builder
	for _, st := range task.Subtasks {
		fmt.Fprintf(&b, "- %s (%s): %s\n", st.Name, st.Role, st.Description)
	}

	resp, err := o.llm.Chat(ctx, []providers.Message{
		{Role: "system", Content: appraisePrompt},
		{Role: "user", Content: b.String()},
	}, nil, providers.ChatOpts{Tier: config.TierUtility, MaxTokens: 200, Temperature: 0})
	if err != nil {
		o.log.Debug("appraisal failed", "task", task.ID, "error", err)
		return
	}

	raw := firstJSONObject(resp.Content)
	var appraisal Appraisal
	if raw == "" || json.Unmarshal([]byte(raw), &appraisal) != nil {
		o.log.Debug("appraisal unparseable", "task", task.ID)
		return
	}

	task.mu.Lock()
	task.Appraisal = &appraisal
	task.mu.Unlock()
	o.emit(task, protocol.SysTaskAppraised, map[string]any{
		"estimated_cost_usd": appraisal.EstimatedCost,
		"estimated_hours":    appraisal.EstimatedHours,
	})
}

func (o *Orchestrator) emit(task *Task, event string, fields map[string]any) {
	if o.events == nil {
		return
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["task_id"] = task.ID
	fields["session_id"] = task.SessionID
	o.events.Emit(protocol.TopicSystemEvent, protocol.SystemEventPayload{
		Event:  event,
		Fields: fields,
	})
}
