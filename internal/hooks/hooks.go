// Package hooks runs registered extension points around tool calls and
// responses. Pre-hooks run synchronously and may rewrite or block the
// payload; post-hooks run fire-and-forget.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Event names the pipeline extension points.
type Event string

const (
	EventPreToolUse  Event = "pre_tool_use"
	EventPostToolUse Event = "post_tool_use"
	EventPreResponse Event = "pre_response"
	EventSessionEnd  Event = "session_end"
)

// Action is a hook's verdict on its payload.
type Action int

const (
	// ActionOk passes the (possibly rewritten) payload to the next hook.
	ActionOk Action = iota
	// ActionBlock aborts the pipeline; the caller must not proceed.
	ActionBlock
	// ActionSkip leaves the payload untouched and continues.
	ActionSkip
)

// Result is what a handler returns.
type Result struct {
	Action  Action
	Payload any
	Reason  string
}

func Ok(payload any) Result    { return Result{Action: ActionOk, Payload: payload} }
func Block(reason string) Result { return Result{Action: ActionBlock, Reason: reason} }
func Skip() Result             { return Result{Action: ActionSkip} }

// Handler inspects a payload and returns a verdict. Handlers must not
// retain the payload past the call.
type Handler func(ctx context.Context, payload any) Result

// Hook is a named handler bound to one event. Lower priority runs first.
type Hook struct {
	Name     string
	Event    Event
	Priority int
	Fn       Handler
}

// BlockedError carries the blocking hook's name and reason.
type BlockedError struct {
	Hook   string
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked by hook %q: %s", e.Hook, e.Reason)
}

// IsBlocked reports whether err came from a blocking hook, returning the
// reason when it did.
func IsBlocked(err error) (string, bool) {
	var be *BlockedError
	if errors.As(err, &be) {
		return be.Reason, true
	}
	return "", false
}

// ToolPayload flows through pre_tool_use and post_tool_use.
type ToolPayload struct {
	SessionID string
	Tool      string
	Args      map[string]any
	Output    string
	IsError   bool
	Duration  time.Duration
}

// ResponsePayload flows through pre_response.
type ResponsePayload struct {
	SessionID string
	Content   string
}

// SessionEndPayload flows through session_end.
type SessionEndPayload struct {
	SessionID string
	Messages  int
}

// Pipeline holds hooks per event and runs them priority-ordered.
type Pipeline struct {
	mu    sync.RWMutex
	hooks map[Event][]Hook
	log   *slog.Logger
}

func NewPipeline(log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		hooks: make(map[Event][]Hook),
		log:   log,
	}
}

// Register adds a hook. Re-registering the same name on the same event
// replaces the earlier entry.
func (p *Pipeline) Register(h Hook) {
	if h.Fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.hooks[h.Event]
	for i, existing := range list {
		if existing.Name == h.Name {
			list[i] = h
			sortHooks(list)
			p.hooks[h.Event] = list
			return
		}
	}
	list = append(list, h)
	sortHooks(list)
	p.hooks[h.Event] = list
}

func sortHooks(list []Hook) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
}

// Run executes the event's hooks in priority order, threading the payload
// through ok-rewrites. A block aborts with *BlockedError; the caller gets
// the payload as of the last successful hook.
func (p *Pipeline) Run(ctx context.Context, event Event, payload any) (any, error) {
	p.mu.RLock()
	list := make([]Hook, len(p.hooks[event]))
	copy(list, p.hooks[event])
	p.mu.RUnlock()

	for _, h := range list {
		res := p.invoke(ctx, h, payload)
		switch res.Action {
		case ActionBlock:
			return payload, &BlockedError{Hook: h.Name, Reason: res.Reason}
		case ActionOk:
			if res.Payload != nil {
				payload = res.Payload
			}
		case ActionSkip:
			// untouched
		}
	}
	return payload, nil
}

// Dispatch runs the event's hooks asynchronously. Blocks are logged and
// otherwise ignored; post-hooks cannot veto work that already happened.
func (p *Pipeline) Dispatch(ctx context.Context, event Event, payload any) {
	go func() {
		if _, err := p.Run(ctx, event, payload); err != nil {
			p.log.Warn("async hook blocked", "event", string(event), "error", err)
		}
	}()
}

func (p *Pipeline) invoke(ctx context.Context, h Hook, payload any) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("hook panicked", "hook", h.Name, "panic", r)
			res = Skip()
		}
	}()
	return h.Fn(ctx, payload)
}
