package tools

import (
	"context"
	"fmt"

	"github.com/osahq/osa/internal/memory"
)

// RememberTool appends a durable note to long-term memory.
type RememberTool struct {
	store *memory.Store
}

func NewRememberTool(store *memory.Store) *RememberTool {
	return &RememberTool{store: store}
}

func (t *RememberTool) Name() string { return "remember" }
func (t *RememberTool) Description() string {
	return "Save a fact to long-term memory so future sessions can recall it"
}

func (t *RememberTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "The fact to remember, one or two sentences",
			},
			"category": map[string]any{
				"type":        "string",
				"description": "Optional section heading, e.g. preferences, projects",
			},
		},
		"required": []string{"text"},
	}
}

func (t *RememberTool) Execute(_ context.Context, args map[string]any) *Result {
	text, _ := args["text"].(string)
	if text == "" {
		return ErrorResult("text is required")
	}
	category, _ := args["category"].(string)
	if category == "" {
		category = "notes"
	}
	if err := t.store.Remember(text, category); err != nil {
		return ErrorResult(fmt.Sprintf("could not save memory: %v", err)).WithError(err)
	}
	return SilentResult(fmt.Sprintf("remembered under %q: %s", category, text))
}

// EchoTool returns its input unchanged. Exercised by integration tests
// and the tool-execution API.
type EchoTool struct{}

func NewEchoTool() *EchoTool { return &EchoTool{} }

func (t *EchoTool) Name() string        { return "echo" }
func (t *EchoTool) Description() string { return "Return the given text unchanged" }

func (t *EchoTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "Text to echo back",
			},
		},
		"required": []string{"text"},
	}
}

func (t *EchoTool) Execute(_ context.Context, args map[string]any) *Result {
	text, _ := args["text"].(string)
	return NewResult(text)
}
