package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/unicode/norm"

	"github.com/osahq/osa/internal/signal"
)

// SanitizeText NFC-normalizes text and strips control characters other
// than tab and newline. Applied to inbound messages and, via the
// pre_response hook, to outbound content.
func SanitizeText(text string) string {
	normalized := norm.NFC.String(text)
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, normalized)
}

// ResponseSanitizer returns the pre_response hook that normalizes
// outbound content.
func ResponseSanitizer() Hook {
	return Hook{
		Name:     "response_sanitizer",
		Event:    EventPreResponse,
		Priority: 10,
		Fn: func(_ context.Context, payload any) Result {
			rp, ok := payload.(ResponsePayload)
			if !ok {
				return Skip()
			}
			rp.Content = SanitizeText(rp.Content)
			return Ok(rp)
		},
	}
}

// SchemaCatalog resolves a tool name to its JSON Schema parameters.
// The tool registry satisfies this.
type SchemaCatalog interface {
	Schema(name string) (map[string]any, bool)
}

// ToolIntegrity returns the pre_tool_use hook that rejects calls to
// unknown tools and calls whose arguments fail schema validation.
// Compiled schemas are cached under a lock; sessions dispatch tools
// concurrently through the same pipeline.
func ToolIntegrity(catalog SchemaCatalog) Hook {
	var (
		mu    sync.Mutex
		cache = make(map[string]*jsonschema.Schema)
	)

	return Hook{
		Name:     "tool_integrity",
		Event:    EventPreToolUse,
		Priority: 0,
		Fn: func(_ context.Context, payload any) Result {
			tp, ok := payload.(ToolPayload)
			if !ok {
				return Skip()
			}
			raw, known := catalog.Schema(tp.Tool)
			if !known {
				return Block(fmt.Sprintf("unknown tool %q", tp.Tool))
			}
			if len(raw) == 0 {
				return Skip()
			}

			mu.Lock()
			sch, ok := cache[tp.Tool]
			if !ok {
				data, err := json.Marshal(raw)
				if err != nil {
					mu.Unlock()
					return Skip()
				}
				sch, err = jsonschema.CompileString(tp.Tool+".schema.json", string(data))
				if err != nil {
					// A broken schema is the tool author's bug; do not
					// punish the caller for it.
					mu.Unlock()
					return Skip()
				}
				cache[tp.Tool] = sch
			}
			mu.Unlock()

			args := tp.Args
			if args == nil {
				args = map[string]any{}
			}
			if err := sch.Validate(normalizeForSchema(args)); err != nil {
				return Block(fmt.Sprintf("invalid arguments for %s: %v", tp.Tool, err))
			}
			return Skip()
		},
	}
}

// normalizeForSchema round-trips through JSON so numeric types match what
// the validator expects.
func normalizeForSchema(args map[string]any) any {
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return args
	}
	return out
}

// PlanRequired reports whether a message should go through plan approval
// before the agent acts: heavyweight signals in action-taking modes.
func PlanRequired(sig *signal.Signal, threshold float64) bool {
	if sig == nil || threshold <= 0 {
		return false
	}
	if sig.Weight < threshold {
		return false
	}
	switch sig.Mode {
	case signal.ModeBuild, signal.ModeExecute, signal.ModeMaintain:
		return true
	}
	return false
}
