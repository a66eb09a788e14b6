// Package agent runs the think → act → observe loop for one message:
// classify, assemble context, call the model, dispatch tool calls, and
// repeat until the model answers or the iteration cap trips.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/osahq/osa/internal/bus"
	"github.com/osahq/osa/internal/compaction"
	"github.com/osahq/osa/internal/config"
	"github.com/osahq/osa/internal/contextkit"
	"github.com/osahq/osa/internal/hooks"
	"github.com/osahq/osa/internal/orchestrator"
	"github.com/osahq/osa/internal/providers"
	"github.com/osahq/osa/internal/sessions"
	"github.com/osahq/osa/internal/signal"
	"github.com/osahq/osa/internal/skills"
	"github.com/osahq/osa/internal/tools"
	"github.com/osahq/osa/internal/tracing"
	"github.com/osahq/osa/pkg/protocol"
)

const (
	defaultMaxMessageChars = 32000
	overflowRetries        = 3

	// delegationWeight gates task decomposition: only heavyweight
	// action-taking requests are worth an Analyze call.
	delegationWeight = 0.7

	capMessage = "I've reached my reasoning limit for this request. " +
		"Try breaking it into smaller steps, or ask me to continue from here."
)

// ErrCancelled reports a run stopped by Cancel. No assistant message is
// recorded for a cancelled run; channels render their own indicator.
var ErrCancelled = errors.New("run cancelled")

// LLM is the chat surface the loop calls; *providers.Registry satisfies it.
type LLM interface {
	Chat(ctx context.Context, msgs []providers.Message, tools []providers.ToolDefinition, opts providers.ChatOpts) (*providers.ChatResponse, error)
}

// Delegator decomposes a request into role-specific subtasks and runs
// them to completion; *orchestrator.Orchestrator satisfies it.
type Delegator interface {
	Analyze(ctx context.Context, message string) []orchestrator.SubTask
	ExecuteSync(ctx context.Context, sessionID, message string, subtasks []orchestrator.SubTask) orchestrator.TaskSnapshot
}

// Request is one inbound message for the loop.
type Request struct {
	SessionID string
	Channel   string
	UserID    string
	Text      string
	// PlanApproved resumes a run that previously returned a plan outcome.
	PlanApproved bool
}

// OutcomeKind discriminates loop results.
type OutcomeKind string

const (
	OutcomeOK    OutcomeKind = "ok"
	OutcomePlan  OutcomeKind = "plan"
	OutcomeError OutcomeKind = "error"
)

// Outcome is the loop's result for one message.
type Outcome struct {
	Kind       OutcomeKind
	Content    string
	Plan       string
	Silent     bool
	Signal     *signal.Signal
	Iterations int
	Err        error
}

// Loop wires the per-message pipeline together.
type Loop struct {
	llm        LLM
	classifier *signal.Classifier
	filter     *signal.Filter
	sessions   *sessions.Registry
	assembler  *contextkit.Assembler
	compactor  *compaction.Compactor
	pipeline   *hooks.Pipeline
	tools      *tools.Registry
	skills     *skills.Loader
	events     *bus.Bus
	guard      *InputGuard
	orch       Delegator

	agentCfg config.AgentConfig
	hooksCfg config.HooksConfig
	log      *slog.Logger
}

// Config collects the loop's dependencies.
type Config struct {
	LLM        LLM
	Classifier *signal.Classifier
	Filter     *signal.Filter
	Sessions   *sessions.Registry
	Assembler  *contextkit.Assembler
	Compactor  *compaction.Compactor
	Hooks      *hooks.Pipeline
	Tools      *tools.Registry
	Skills     *skills.Loader
	Events     *bus.Bus
	// Orchestrator, when set, receives requests the complexity check
	// deems multi-domain.
	Orchestrator Delegator
	Agent        config.AgentConfig
	HooksCfg   config.HooksConfig
	Logger     *slog.Logger
}

func New(cfg Config) *Loop {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	guard := (*InputGuard)(nil)
	if cfg.HooksCfg.InjectionAction != GuardOff {
		guard = NewInputGuard()
	}
	return &Loop{
		llm:        cfg.LLM,
		classifier: cfg.Classifier,
		filter:     cfg.Filter,
		sessions:   cfg.Sessions,
		assembler:  cfg.Assembler,
		compactor:  cfg.Compactor,
		pipeline:   cfg.Hooks,
		tools:      cfg.Tools,
		skills:     cfg.Skills,
		events:     cfg.Events,
		guard:      guard,
		orch:       cfg.Orchestrator,
		agentCfg:   cfg.Agent,
		hooksCfg:   cfg.HooksCfg,
		log:        log,
	}
}

// Cancel flags the session's current run for cooperative cancellation.
// The run observes the flag at its next checkpoint.
func (l *Loop) Cancel(sessionID string) bool {
	st, ok := l.sessions.Get(sessionID)
	if !ok {
		return false
	}
	st.Cancel()
	return true
}

// ProcessMessage runs one message through the full pipeline. Concurrent
// calls for the same session queue FIFO; calls for different sessions
// run in parallel.
func (l *Loop) ProcessMessage(ctx context.Context, req Request) Outcome {
	st := l.sessions.Ensure(req.SessionID)
	st.Channel = req.Channel
	if req.UserID != "" {
		st.UserID = req.UserID
	}

	st.LockRun()
	defer st.UnlockRun()
	st.ResetCancel()
	st.SetStatus(sessions.StatusThinking)
	defer st.SetStatus(sessions.StatusIdle)

	ctx, span := tracing.StartMessageSpan(ctx, req.Channel, st.ID)
	defer span.End()

	text := hooks.SanitizeText(req.Text)
	if limit := l.maxMessageChars(); len(text) > limit {
		text = text[:limit] + "\n[...message truncated...]"
	}

	if out, blocked := l.guardCheck(st, &text); blocked {
		return out
	}

	sig := l.classify(ctx, st, text, req.Channel)

	// The plan gate runs before anything is persisted: a rejected plan
	// leaves no trace in the session log, and the approved resubmission
	// records the message and runs it.
	if !req.PlanApproved && hooks.PlanRequired(sig, l.hooksCfg.PlanGateWeight) {
		if out, proposed := l.proposePlan(ctx, st, sig, text); proposed {
			return out
		}
	}

	l.sessions.Persist(st, providers.Message{Role: "user", Content: text})

	if l.compactor != nil {
		if _, err := l.compactor.Check(ctx, st); err != nil {
			l.log.Warn("compaction check failed", "session", st.ID, "error", err)
		}
	}

	if out, delegated := l.delegate(ctx, st, sig, text); delegated {
		return out
	}

	return l.iterate(ctx, st, sig)
}

func (l *Loop) maxMessageChars() int {
	if l.agentCfg.MaxMessageChars > 0 {
		return l.agentCfg.MaxMessageChars
	}
	return defaultMaxMessageChars
}

func (l *Loop) guardCheck(st *sessions.State, text *string) (Outcome, bool) {
	if l.guard == nil {
		return Outcome{}, false
	}
	findings := l.guard.Scan(*text)
	if len(findings) == 0 {
		return Outcome{}, false
	}

	action := l.hooksCfg.InjectionAction
	if action == "" {
		action = GuardWarn
	}
	l.log.Warn("injection heuristics matched",
		"session", st.ID, "findings", len(findings), "action", action)

	switch action {
	case GuardBlock:
		return Outcome{
			Kind:    OutcomeError,
			Content: "This message was not processed: it matched prompt-injection heuristics.",
			Err:     errors.New("message blocked by input guard"),
		}, true
	case GuardWarn:
		*text = Annotate(*text, findings)
	}
	return Outcome{}, false
}

func (l *Loop) classify(ctx context.Context, st *sessions.State, text, channel string) *signal.Signal {
	if l.classifier == nil {
		return nil
	}
	sig := l.classifier.Classify(ctx, text, channel)
	st.SetSignal(&sig)

	if l.filter != nil {
		verdict := l.filter.Filter(ctx, text, sig)
		if verdict.Kind == signal.VerdictNoise {
			l.emitSystem(st.ID, protocol.SysSignalLowWeight, map[string]any{
				"reason": verdict.Reason,
				"weight": sig.Weight,
			})
		}
	}
	return &sig
}

// proposePlan asks the model for a short execution plan instead of
// acting. The caller resubmits with PlanApproved to run it; until then
// nothing is persisted, so a discarded plan never reaches the log.
func (l *Loop) proposePlan(ctx context.Context, st *sessions.State, sig *signal.Signal, text string) (Outcome, bool) {
	resp, err := l.llm.Chat(ctx, []providers.Message{
		{Role: "system", Content: "Write a short numbered plan for the request. Steps only, no execution, no preamble."},
		{Role: "user", Content: text},
	}, nil, providers.ChatOpts{Tier: config.TierSpecialist, MaxTokens: 600, Temperature: 0.2})
	if err != nil {
		// The gate should not make heavyweight work impossible.
		l.log.Warn("plan generation failed, proceeding without gate", "session", st.ID, "error", err)
		return Outcome{}, false
	}

	return Outcome{Kind: OutcomePlan, Plan: strings.TrimSpace(resp.Content), Signal: sig}, true
}

// delegate hands multi-domain requests to the orchestrator. Analyze is
// the complexity check: anything it deems simple, and anything below
// the weight gate, runs through the normal loop instead. The synthesis
// flows back into the session like any assistant turn.
func (l *Loop) delegate(ctx context.Context, st *sessions.State, sig *signal.Signal, text string) (Outcome, bool) {
	if l.orch == nil || sig == nil || sig.Weight < delegationWeight || !actionMode(sig.Mode) {
		return Outcome{}, false
	}
	subtasks := l.orch.Analyze(ctx, text)
	if len(subtasks) < 2 {
		return Outcome{}, false
	}
	l.log.Info("delegating to sub-agents", "session", st.ID, "subtasks", len(subtasks))

	// Cancel propagates through the task's context; sub-agents stop at
	// their next checkpoint.
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case <-time.After(100 * time.Millisecond):
				if st.Cancelled() {
					stop()
					return
				}
			}
		}
	}()

	snap := l.orch.ExecuteSync(runCtx, st.ID, text, subtasks)
	switch {
	case st.Cancelled() || snap.Status == orchestrator.TaskCancelled:
		return l.cancelled(st, sig, 1), true
	case snap.Status == orchestrator.TaskCompleted:
		return l.finish(ctx, st, sig, snap.Result, 1), true
	default:
		return Outcome{Kind: OutcomeError, Signal: sig, Iterations: 1,
			Content: "The delegated task failed. Please try again.",
			Err:     fmt.Errorf("delegated task %s: %s", snap.ID, snap.Error)}, true
	}
}

func actionMode(m signal.Mode) bool {
	switch m {
	case signal.ModeBuild, signal.ModeExecute, signal.ModeMaintain, signal.ModeAnalyze:
		return true
	}
	return false
}

func (l *Loop) iterate(ctx context.Context, st *sessions.State, sig *signal.Signal) Outcome {
	toolDefs := l.toolDefs(st)

	// Partial progress the model narrated alongside tool calls; the cap
	// path returns it instead of the canned limit message.
	var lastContent string

	for i := 1; i <= l.maxIterations(); i++ {
		st.SetIteration(i)

		if st.Cancelled() {
			return l.cancelled(st, sig, i)
		}

		resp, err := l.callModel(ctx, st, sig, toolDefs, i)
		if err != nil {
			return Outcome{Kind: OutcomeError, Signal: sig, Iterations: i,
				Content: "Something went wrong talking to the model. Please try again.",
				Err:     err}
		}
		if st.Cancelled() {
			// Discard the in-flight response; nothing from this call
			// reaches the session log.
			return l.cancelled(st, sig, i)
		}

		if len(resp.ToolCalls) == 0 {
			return l.finish(ctx, st, sig, resp.Content, i)
		}
		if strings.TrimSpace(resp.Content) != "" {
			lastContent = resp.Content
		}

		assistant := providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		l.sessions.Persist(st, assistant)

		for ci, call := range resp.ToolCalls {
			if st.Cancelled() {
				l.skipToolCalls(st, resp.ToolCalls[ci:])
				return l.cancelled(st, sig, i)
			}
			result := l.dispatchTool(ctx, st, call)
			l.sessions.Persist(st, providers.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				ToolCallID: call.ID,
			})
		}
	}

	l.log.Warn("iteration cap reached", "session", st.ID, "cap", l.maxIterations())
	content := strings.TrimSpace(lastContent)
	if content == "" {
		content = capMessage
		l.sessions.Persist(st, providers.Message{Role: "assistant", Content: capMessage})
	}
	l.emitResponse(st, content)
	return Outcome{Kind: OutcomeOK, Content: content, Signal: sig, Iterations: l.maxIterations()}
}

func (l *Loop) maxIterations() int {
	if l.agentCfg.MaxIterations > 0 {
		return l.agentCfg.MaxIterations
	}
	return 30
}

// cancelled builds the error outcome for a cancelled run. Nothing is
// persisted here: the session log keeps only what completed before the
// flag was observed.
func (l *Loop) cancelled(st *sessions.State, sig *signal.Signal, i int) Outcome {
	l.log.Info("run cancelled", "session", st.ID, "iteration", i)
	return Outcome{Kind: OutcomeError, Signal: sig, Iterations: i, Err: ErrCancelled}
}

// skipToolCalls records a stub result for tool calls a cancellation
// left unexecuted. The assistant turn carrying the calls is already in
// the log, so every tool_call id still pairs with a tool message.
func (l *Loop) skipToolCalls(st *sessions.State, calls []providers.ToolCall) {
	for _, call := range calls {
		l.sessions.Persist(st, providers.Message{
			Role:       "tool",
			Content:    "not executed: run cancelled",
			ToolCallID: call.ID,
		})
	}
}

// callModel performs one provider call, compacting and retrying on
// context overflow.
func (l *Loop) callModel(ctx context.Context, st *sessions.State, sig *signal.Signal, toolDefs []providers.ToolDefinition, iteration int) (*providers.ChatResponse, error) {
	opts := providers.ChatOpts{
		Tier:        tierFor(sig),
		MaxTokens:   l.agentCfg.MaxTokens,
		Temperature: l.agentCfg.Temperature,
	}
	// A session-level override (set by /model) pins provider and model.
	opts.ProviderID, opts.Model = st.ModelInfo()

	var lastErr error
	for attempt := 0; attempt < overflowRetries; attempt++ {
		msgs := l.assembler.Build(st, sig)

		l.emit(protocol.TopicLLMRequest, protocol.LLMRequestPayload{
			SessionID: st.ID,
			Iteration: iteration,
		})

		start := time.Now()
		resp, err := l.llm.Chat(ctx, msgs, toolDefs, opts)
		if err == nil {
			var in, out int
			if resp.Usage != nil {
				in, out = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
			}
			st.AccumulateTokens(int64(in), int64(out))
			l.emit(protocol.TopicLLMResponse, protocol.LLMResponsePayload{
				SessionID:    st.ID,
				DurationMS:   time.Since(start).Milliseconds(),
				InputTokens:  in,
				OutputTokens: out,
			})
			return resp, nil
		}

		lastErr = err
		if !errors.Is(err, providers.ErrContextOverflow) || l.compactor == nil {
			return nil, err
		}
		l.log.Warn("context overflow, compacting and retrying",
			"session", st.ID, "attempt", attempt+1)
		if cerr := l.compactor.Compact(ctx, st, 0.5); cerr != nil {
			return nil, fmt.Errorf("compacting after overflow: %w", cerr)
		}
	}
	return nil, fmt.Errorf("context overflow persisted after %d compactions: %w", overflowRetries, lastErr)
}

// dispatchTool runs one tool call through the hook pipeline and the
// registry. A blocked or failed call still yields text for the model.
func (l *Loop) dispatchTool(ctx context.Context, st *sessions.State, call providers.ToolCall) *tools.Result {
	payload := hooks.ToolPayload{
		SessionID: st.ID,
		Tool:      call.Name,
		Args:      call.Arguments,
	}

	st.SetStatus(sessions.StatusToolUse)
	defer st.SetStatus(sessions.StatusThinking)

	l.emit(protocol.TopicToolCall, protocol.ToolCallPayload{
		SessionID: st.ID,
		Name:      call.Name,
		Phase:     protocol.PhaseStart,
		ArgsHint:  argsHint(call.Arguments),
	})

	var result *tools.Result
	start := time.Now()

	out, err := l.pipeline.Run(ctx, hooks.EventPreToolUse, payload)
	if reason, blocked := hooks.IsBlocked(err); blocked {
		result = tools.ErrorResult(fmt.Sprintf("tool call blocked: %s", reason))
	} else {
		if tp, ok := out.(hooks.ToolPayload); ok {
			payload = tp
		}
		result = l.tools.Execute(ctx, payload.Tool, payload.Args)
	}

	duration := time.Since(start)
	l.emit(protocol.TopicToolCall, protocol.ToolCallPayload{
		SessionID:  st.ID,
		Name:       call.Name,
		Phase:      protocol.PhaseEnd,
		DurationMS: duration.Milliseconds(),
		Success:    !result.IsError,
	})

	payload.Output = result.ForLLM
	payload.IsError = result.IsError
	payload.Duration = duration
	l.pipeline.Dispatch(context.WithoutCancel(ctx), hooks.EventPostToolUse, payload)

	return result
}

func (l *Loop) finish(ctx context.Context, st *sessions.State, sig *signal.Signal, content string, iterations int) Outcome {
	content = SanitizeAssistantContent(content)
	silent := IsSilentReply(content)

	if !silent {
		out, err := l.pipeline.Run(ctx, hooks.EventPreResponse, hooks.ResponsePayload{
			SessionID: st.ID,
			Content:   content,
		})
		if reason, blocked := hooks.IsBlocked(err); blocked {
			l.log.Warn("response blocked", "session", st.ID, "reason", reason)
			content = "I drafted a response but it was withheld by policy."
		} else if rp, ok := out.(hooks.ResponsePayload); ok {
			content = rp.Content
		}
	}

	// Silent replies are saved for continuity but never delivered.
	l.sessions.Persist(st, providers.Message{Role: "assistant", Content: content})
	if !silent {
		l.emitResponse(st, content)
	}

	return Outcome{
		Kind:       OutcomeOK,
		Content:    content,
		Silent:     silent,
		Signal:     sig,
		Iterations: iterations,
	}
}

// toolDefs narrows the offered tools when a skill matched the latest
// user message and declares a tool list.
func (l *Loop) toolDefs(st *sessions.State) []providers.ToolDefinition {
	if l.tools == nil {
		return nil
	}
	if l.skills != nil {
		if text := latestUserText(st); text != "" {
			var names []string
			seen := map[string]bool{}
			for _, sk := range l.skills.Match(text) {
				for _, name := range sk.Tools {
					if !seen[name] {
						seen[name] = true
						names = append(names, name)
					}
				}
			}
			if len(names) > 0 {
				return l.tools.DefsFor(names)
			}
		}
	}
	return l.tools.Defs()
}

func latestUserText(st *sessions.State) string {
	msgs := st.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}

// tierFor maps signal weight to a model tier: heavyweight work gets the
// strongest model, trivial messages the cheapest.
func tierFor(sig *signal.Signal) config.Tier {
	if sig == nil {
		return config.TierSpecialist
	}
	switch {
	case sig.Weight >= 0.8:
		return config.TierElite
	case sig.Weight < 0.4:
		return config.TierUtility
	default:
		return config.TierSpecialist
	}
}

func argsHint(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	const limit = 120
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}

func (l *Loop) emit(topic string, payload any) {
	if l.events != nil {
		l.events.Emit(topic, payload)
	}
}

func (l *Loop) emitResponse(st *sessions.State, content string) {
	l.emit(protocol.TopicAgentResponse, protocol.AgentResponsePayload{
		SessionID: st.ID,
		Response:  content,
		Signal:    st.Signal(),
	})
}

func (l *Loop) emitSystem(sessionID, event string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["session_id"] = sessionID
	l.emit(protocol.TopicSystemEvent, protocol.SystemEventPayload{Event: event, Fields: fields})
}
