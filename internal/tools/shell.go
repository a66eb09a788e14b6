package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Dangerous command patterns denied regardless of configuration.
var defaultDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\brm\s+.*--(recursive|force)`),
	regexp.MustCompile(`\b(mkfs|diskpart)\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), // fork bomb
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bsu\s+-`),
	regexp.MustCompile(`\b(mount|umount)\b`),
	regexp.MustCompile(`\bLD_PRELOAD\s*=`),
	regexp.MustCompile(`\bcrontab\b`),
	regexp.MustCompile(`\b(killall|pkill)\b`),
	regexp.MustCompile(`^\s*env\s*($|\||>)`),
	regexp.MustCompile(`\bprintenv\b`),
}

const shellOutputLimit = 32 * 1024

// ShellTool executes commands inside the workspace directory.
type ShellTool struct {
	workspace    string
	timeout      time.Duration
	denyPatterns []*regexp.Regexp
	restrict     bool
}

// NewShellTool creates the shell tool rooted at workspace. restrict
// confines working directories to the workspace subtree.
func NewShellTool(workspace string, restrict bool) *ShellTool {
	return &ShellTool{
		workspace:    workspace,
		timeout:      60 * time.Second,
		denyPatterns: defaultDenyPatterns,
		restrict:     restrict,
	}
}

func (t *ShellTool) Name() string { return "shell" }
func (t *ShellTool) Description() string {
	return "Execute a shell command in the workspace and return its output"
}

func (t *ShellTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"working_dir": map[string]any{
				"type":        "string",
				"description": "Optional working directory, relative to the workspace",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]any) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command is required")
	}

	for _, pattern := range t.denyPatterns {
		if pattern.MatchString(command) {
			return ErrorResult(fmt.Sprintf("command denied by safety policy: matches %s", pattern.String()))
		}
	}

	cwd := t.workspace
	if wd, _ := args["working_dir"].(string); wd != "" {
		if filepath.IsAbs(wd) {
			cwd = wd
		} else {
			cwd = filepath.Join(t.workspace, wd)
		}
	}
	if t.restrict && !pathWithin(t.workspace, cwd) {
		return ErrorResult(fmt.Sprintf("working_dir escapes the workspace: %s", cwd))
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = cwd

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := out.String()
	if len(output) > shellOutputLimit {
		output = output[:shellOutputLimit] + "\n[...output truncated...]"
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return ErrorResult(fmt.Sprintf("command timed out after %s\n%s", t.timeout, output))
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("command failed: %v\n%s", err, output)).WithError(err)
	}
	if strings.TrimSpace(output) == "" {
		return NewResult("(no output)")
	}
	return NewResult(output)
}

func pathWithin(root, candidate string) bool {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(rootAbs, candAbs)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
