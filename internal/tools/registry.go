package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/osahq/osa/internal/providers"
	"github.com/osahq/osa/internal/tracing"
)

// Registry holds the available tools. Execute serializes tool runs so
// tools that touch shared state (files, shell working dir) never
// interleave; ExecuteDirect bypasses that lock for callers that manage
// their own isolation, such as orchestrated sub-agents.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string

	execMu sync.Mutex
	log    *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		tools: make(map[string]Tool),
		log:   log,
	}
}

// Register adds a tool. Registering the same name again replaces the
// earlier tool and keeps its position.
func (r *Registry) Register(t Tool) {
	if t == nil || t.Name() == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tools in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Schema returns the named tool's parameter schema. Satisfies the hook
// pipeline's integrity-check catalog.
func (r *Registry) Schema(name string) (map[string]any, bool) {
	t, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	return t.Parameters(), true
}

// Defs renders all tools as provider-facing definitions.
func (r *Registry) Defs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// DefsFor renders definitions for the named subset, preserving the
// requested order and skipping unknowns.
func (r *Registry) DefsFor(names []string) []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t, ok := r.Get(name)
		if !ok {
			continue
		}
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute runs the named tool under the registry's execution lock.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) *Result {
	r.execMu.Lock()
	defer r.execMu.Unlock()
	return r.ExecuteDirect(ctx, name, args)
}

// ExecuteDirect runs the named tool without taking the execution lock.
// Orchestrated sub-agents call this; they would otherwise deadlock when
// the lead agent's tool call spawns workers that call tools themselves.
func (r *Registry) ExecuteDirect(ctx context.Context, name string, args map[string]any) (res *Result) {
	t, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}

	ctx, span := tracing.StartToolSpan(ctx, name, "")
	defer func() {
		var err error
		if res != nil {
			err = res.Err
		}
		tracing.End(span, err)
	}()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("tool panicked", "tool", name, "panic", p)
			res = ErrorResult(fmt.Sprintf("tool %s failed unexpectedly", name))
		}
	}()

	if err := ctx.Err(); err != nil {
		return ErrorResult(fmt.Sprintf("tool %s not run: %v", name, err)).WithError(err)
	}
	return t.Execute(ctx, args)
}

// Match is one search hit. Relevance is normalized to (0, 1]; the best
// hit always scores 1.0.
type Match struct {
	Tool      Tool
	Relevance float64
}

// Search ranks tools by naive relevance to the query: name hits score
// above description hits. Empty query returns everything at full
// relevance.
func (r *Registry) Search(query string) []Match {
	r.mu.RLock()
	defer r.mu.RUnlock()

	query = strings.ToLower(strings.TrimSpace(query))
	type scored struct {
		tool  Tool
		score int
		pos   int
	}
	var matches []scored
	for i, name := range r.order {
		t := r.tools[name]
		score := 0
		if query == "" {
			score = 1
		} else {
			for _, term := range strings.Fields(query) {
				if strings.Contains(strings.ToLower(t.Name()), term) {
					score += 3
				}
				if strings.Contains(strings.ToLower(t.Description()), term) {
					score++
				}
			}
		}
		if score > 0 {
			matches = append(matches, scored{tool: t, score: score, pos: i})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].pos < matches[j].pos
	})

	out := make([]Match, len(matches))
	for i, m := range matches {
		out[i] = Match{Tool: m.tool, Relevance: float64(m.score) / float64(matches[0].score)}
	}
	return out
}
