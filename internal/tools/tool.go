// Package tools defines the executable surface the agent can reach:
// a registry of named tools with JSON Schema parameters and a unified
// result type.
package tools

import "context"

// Tool is one executable capability. Parameters returns a JSON Schema
// object describing the arguments; Execute never panics and reports
// failures through the Result rather than an error return, so the LLM
// always gets something to read.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *Result
}

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string `json:"for_llm"`            // content sent to the LLM
	ForUser string `json:"for_user,omitempty"` // content shown to the user
	Silent  bool   `json:"silent"`             // suppress user message
	IsError bool   `json:"is_error"`           // marks error
	Err     error  `json:"-"`                  // internal error (not serialized)
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func SilentResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM, Silent: true}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func UserResult(content string) *Result {
	return &Result{ForLLM: content, ForUser: content}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}
