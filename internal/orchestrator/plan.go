package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/osahq/osa/internal/config"
	"github.com/osahq/osa/internal/providers"
)

// SubTask is one unit of a decomposed task. Name is unique within the
// task; DependsOn references other sub-task names.
type SubTask struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Role        Role     `json:"role"`
	ToolsNeeded []string `json:"tools_needed,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

const analyzePrompt = `You decompose work requests for a team of specialist agents.

If the request is simple enough for a single agent, respond with exactly:
{"complexity": "simple"}

Otherwise respond with:
{"complexity": "complex", "subtasks": [{"name": "...", "description": "...", "role": "...", "tools_needed": ["..."], "depends_on": ["..."]}]}

Rules:
- Roles must be one of: lead, backend, frontend, data, design, infra, qa, red_team, services.
- Names must be unique, short, snake_case.
- depends_on lists names of subtasks whose output this one needs.
- Prefer few subtasks. Only split along genuinely different specialties.
- Respond with JSON only.`

type analyzeResponse struct {
	Complexity string    `json:"complexity"`
	Subtasks   []SubTask `json:"subtasks"`
}

// Analyze asks the model to decompose the message. It returns nil for
// simple requests, and on any LLM or parse failure: decomposition is an
// optimization, never a hard dependency.
func (o *Orchestrator) Analyze(ctx context.Context, message string) []SubTask {
	resp, err := o.llm.Chat(ctx, []providers.Message{
		{Role: "system", Content: analyzePrompt},
		{Role: "user", Content: message},
	}, nil, providers.ChatOpts{
		Tier:        config.TierSpecialist,
		MaxTokens:   1500,
		Temperature: 0.1,
	})
	if err != nil {
		o.log.Warn("task analysis failed, treating as simple", "error", err)
		return nil
	}

	parsed, err := parseAnalysis(resp.Content)
	if err != nil {
		o.log.Warn("task analysis unparseable, treating as simple", "error", err)
		return nil
	}
	if parsed.Complexity != "complex" || len(parsed.Subtasks) == 0 {
		return nil
	}

	subtasks, err := o.validatePlan(parsed.Subtasks)
	if err != nil {
		o.log.Warn("task analysis invalid, treating as simple", "error", err)
		return nil
	}
	return subtasks
}

func parseAnalysis(content string) (*analyzeResponse, error) {
	raw := firstJSONObject(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in analysis output")
	}
	var parsed analyzeResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("decoding analysis: %w", err)
	}
	return &parsed, nil
}

// validatePlan enforces role names, unique names, resolvable dependency
// references, and the max_agents cap.
func (o *Orchestrator) validatePlan(subtasks []SubTask) ([]SubTask, error) {
	maxAgents := o.cfg.MaxAgents
	if maxAgents <= 0 {
		maxAgents = 5
	}
	if len(subtasks) > maxAgents {
		subtasks = subtasks[:maxAgents]
	}

	names := make(map[string]bool, len(subtasks))
	for i := range subtasks {
		st := &subtasks[i]
		st.Name = strings.TrimSpace(st.Name)
		if st.Name == "" {
			return nil, fmt.Errorf("subtask %d has no name", i)
		}
		if names[st.Name] {
			return nil, fmt.Errorf("duplicate subtask name %q", st.Name)
		}
		names[st.Name] = true
		if !validRoles[st.Role] {
			return nil, fmt.Errorf("subtask %q has unknown role %q", st.Name, st.Role)
		}
	}
	// Drop references to names that were truncated away or never existed;
	// a dangling dependency would otherwise wedge wave scheduling.
	for i := range subtasks {
		var deps []string
		for _, dep := range subtasks[i].DependsOn {
			if names[dep] && dep != subtasks[i].Name {
				deps = append(deps, dep)
			}
		}
		subtasks[i].DependsOn = deps
	}
	return subtasks, nil
}

// firstJSONObject extracts the first balanced {...} from text, skipping
// string literals.
func firstJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
