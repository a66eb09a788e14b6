package contextkit

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/osahq/osa/internal/sessions"
	"github.com/osahq/osa/internal/signal"
)

// Tier labels block priority. Tier 1 is always included in full; tiers 2-3
// are capped percentages of the system budget; tier 4 takes the residual.
type Tier int

const (
	TierCritical Tier = 1
	TierHigh     Tier = 2
	TierMedium   Tier = 3
	TierLow      Tier = 4
)

// Block is one labelled chunk of system-prompt content.
type Block struct {
	Name    string
	Tier    Tier
	Content string
}

// SourceFunc gathers blocks for a build. Sources returning empty content
// are skipped.
type SourceFunc func(state *sessions.State, sig *signal.Signal) []Block

// runtimeBlock renders the Tier 1 runtime snapshot: clock, channel,
// session, cwd, git state, OS, and the serving model.
func runtimeBlock(state *sessions.State, workspace string) string {
	var b strings.Builder
	b.WriteString("Runtime:\n")
	fmt.Fprintf(&b, "- time: %s\n", time.Now().Format(time.RFC3339))
	if state != nil {
		fmt.Fprintf(&b, "- channel: %s\n", state.Channel)
		fmt.Fprintf(&b, "- session: %s\n", state.ID)
		if provider, model := state.ModelInfo(); provider != "" {
			fmt.Fprintf(&b, "- model: %s/%s\n", provider, model)
		}
	}
	cwd := workspace
	if cwd == "" {
		cwd, _ = os.Getwd()
	}
	fmt.Fprintf(&b, "- cwd: %s\n", cwd)
	fmt.Fprintf(&b, "- os: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	if git := gitSnapshot(cwd); git != "" {
		b.WriteString(git)
	}
	return b.String()
}

// gitSnapshot reports branch, modified files, and recent commits for cwd.
// Not a git repo (or no git binary) yields "".
func gitSnapshot(dir string) string {
	branch := gitOut(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if branch == "" {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "- git branch: %s\n", branch)
	if status := gitOut(dir, "status", "--porcelain"); status != "" {
		lines := strings.Split(status, "\n")
		if len(lines) > 10 {
			lines = append(lines[:10], fmt.Sprintf("... and %d more", len(lines)-10))
		}
		fmt.Fprintf(&b, "- modified files:\n%s\n", indent(strings.Join(lines, "\n")))
	}
	if log := gitOut(dir, "log", "--oneline", "-5"); log != "" {
		fmt.Fprintf(&b, "- recent commits:\n%s\n", indent(log))
	}
	return b.String()
}

func gitOut(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = "  " + lines[i]
	}
	return strings.Join(lines, "\n")
}
