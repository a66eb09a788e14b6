// Package cli is the interactive terminal channel: a line-edited REPL with
// slash commands and an inline plan-approval prompt.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	runewidth "github.com/mattn/go-runewidth"

	"github.com/osahq/osa/internal/agent"
	"github.com/osahq/osa/internal/channels"
	"github.com/osahq/osa/internal/compaction"
	"github.com/osahq/osa/internal/config"
	"github.com/osahq/osa/internal/contextkit"
	"github.com/osahq/osa/internal/sessions"
)

const statusWidth = 72

// REPL reads lines from the terminal, runs them through the agent loop,
// and prints the outcome. Slash commands inspect and manage the session.
type REPL struct {
	loop      channels.Runner
	sessions  *sessions.Registry
	assembler *contextkit.Assembler
	compactor *compaction.Compactor
	cfg       *config.Config

	sessionID string
	in        io.Reader
	out       io.Writer
	// Interactive enables the huh confirm prompt for plan approval.
	// Non-interactive runs (tests, piped stdin) fall back to a y/n line.
	Interactive bool
}

func New(loop channels.Runner, reg *sessions.Registry, asm *contextkit.Assembler, comp *compaction.Compactor, cfg *config.Config) *REPL {
	return &REPL{
		loop:      loop,
		sessions:  reg,
		assembler: asm,
		compactor: comp,
		cfg:       cfg,
		sessionID: "cli:" + uuid.NewString()[:8],
		in:        os.Stdin,
		out:       os.Stdout,
	}
}

// SetIO redirects input/output, used by tests.
func (r *REPL) SetIO(in io.Reader, out io.Writer) {
	r.in = in
	r.out = out
}

// SessionID returns the current session id, which /clear rotates.
func (r *REPL) SessionID() string { return r.sessionID }

// Name implements channels.Channel.
func (r *REPL) Name() string { return "cli" }

// Start is a no-op: the REPL runs in the foreground via Run.
func (r *REPL) Start(context.Context) error { return nil }

// Stop cancels any in-flight run for the current session.
func (r *REPL) Stop(context.Context) error {
	r.loop.Cancel(r.sessionID)
	return nil
}

// Run reads lines until EOF or /exit. It returns nil on a clean exit.
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, "osa interactive session. Type /help for commands, /exit to quit.")
	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if done := r.command(ctx, line); done {
				return nil
			}
			continue
		}
		r.process(ctx, scanner, line, false)
	}
}

func (r *REPL) process(ctx context.Context, scanner *bufio.Scanner, text string, approved bool) {
	out := r.loop.ProcessMessage(ctx, agent.Request{
		SessionID:    r.sessionID,
		Channel:      "cli",
		Text:         text,
		PlanApproved: approved,
	})

	switch out.Kind {
	case agent.OutcomePlan:
		fmt.Fprintln(r.out, out.Plan)
		if r.confirm(scanner, "Run this plan?") {
			r.process(ctx, scanner, text, true)
		} else {
			fmt.Fprintln(r.out, "Plan discarded.")
		}
	case agent.OutcomeError:
		if errors.Is(out.Err, agent.ErrCancelled) {
			fmt.Fprintln(r.out, "(cancelled)")
		} else {
			fmt.Fprintln(r.out, "error:", out.Err)
		}
	default:
		if !out.Silent && strings.TrimSpace(out.Content) != "" {
			fmt.Fprintln(r.out, out.Content)
		}
	}
}

func (r *REPL) confirm(scanner *bufio.Scanner, title string) bool {
	if r.Interactive {
		var ok bool
		err := huh.NewConfirm().
			Title(title).
			Affirmative("Run it").
			Negative("Discard").
			Value(&ok).
			Run()
		if err == nil {
			return ok
		}
		// Prompt unavailable (no TTY), fall through to the line reader.
	}
	fmt.Fprintf(r.out, "%s [y/N] ", title)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}

// command handles a slash command. It returns true when the REPL should
// exit.
func (r *REPL) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/exit", "/quit":
		return true
	case "/help":
		fmt.Fprint(r.out, `/help      show this help
/clear     start a fresh session
/exit      quit
/model     show the model map, or /model <provider> <model> to pin one
/status    show the session status line
/usage     show accumulated token usage
/compact   compact the conversation now
/context   show the context budget breakdown
`)
	case "/clear":
		r.loop.Cancel(r.sessionID)
		r.sessions.Close(r.sessionID) // fires session_end hooks
		r.sessionID = "cli:" + uuid.NewString()[:8]
		fmt.Fprintln(r.out, "Started a new session:", r.sessionID)
	case "/model":
		r.modelCommand(args)
	case "/status":
		fmt.Fprintln(r.out, r.statusLine())
	case "/usage":
		st := r.sessions.Ensure(r.sessionID)
		in, out := st.TokenTotals()
		fmt.Fprintf(r.out, "input tokens: %d, output tokens: %d, total: %d\n", in, out, in+out)
	case "/compact":
		r.compactNow(ctx)
	case "/context":
		r.showContext()
	default:
		fmt.Fprintf(r.out, "unknown command %s (try /help)\n", cmd)
	}
	return false
}

// modelCommand lists the tier model map, pins the session to a specific
// provider/model, or clears a pin with "/model default".
func (r *REPL) modelCommand(args []string) {
	st := r.sessions.Ensure(r.sessionID)
	switch {
	case len(args) == 0:
		r.showModels(st)
	case args[0] == "default":
		st.SetModelInfo("", "")
		fmt.Fprintln(r.out, "model pin cleared, routing by tier again")
	case len(args) == 2:
		st.SetModelInfo(args[0], args[1])
		fmt.Fprintf(r.out, "session pinned to %s/%s\n", args[0], args[1])
	default:
		fmt.Fprintln(r.out, "usage: /model | /model <provider> <model> | /model default")
	}
}

func (r *REPL) showModels(st *sessions.State) {
	if provider, model := st.ModelInfo(); provider != "" {
		fmt.Fprintf(r.out, "pinned:      %s/%s\n", provider, model)
	}
	tiers := r.cfg.Providers.Tiers
	if len(tiers) == 0 {
		fmt.Fprintln(r.out, "no tier model map configured")
		return
	}
	names := make([]string, 0, len(tiers))
	for tier := range tiers {
		names = append(names, string(tier))
	}
	sort.Strings(names)
	for _, name := range names {
		for provider, model := range tiers[config.Tier(name)] {
			fmt.Fprintf(r.out, "%-12s %s/%s\n", name, provider, model)
		}
	}
}

// statusLine renders a fixed-width summary padded with runewidth so
// wide characters in the session id do not break the layout.
func (r *REPL) statusLine() string {
	st := r.sessions.Ensure(r.sessionID)
	in, out := st.TokenTotals()
	left := fmt.Sprintf("[%s] %s", st.Status(), r.sessionID)
	right := fmt.Sprintf("msgs:%d tok:%d", st.MessageCount(), in+out)

	pad := statusWidth - runewidth.StringWidth(left) - runewidth.StringWidth(right)
	if pad < 1 {
		left = runewidth.Truncate(left, statusWidth-runewidth.StringWidth(right)-2, "…")
		pad = 1
	}
	return left + strings.Repeat(" ", pad) + right
}

func (r *REPL) compactNow(ctx context.Context) {
	if r.compactor == nil {
		fmt.Fprintln(r.out, "compaction is not configured")
		return
	}
	st := r.sessions.Ensure(r.sessionID)
	before, _ := r.compactor.Usage(st)
	if err := r.compactor.Compact(ctx, st, 0.5); err != nil {
		fmt.Fprintln(r.out, "compact failed:", err)
		return
	}
	after, _ := r.compactor.Usage(st)
	fmt.Fprintf(r.out, "compacted: %d → %d tokens\n", before, after)
}

func (r *REPL) showContext() {
	if r.assembler == nil {
		fmt.Fprintln(r.out, "context assembler is not configured")
		return
	}
	st := r.sessions.Ensure(r.sessionID)
	bd := r.assembler.TokenBudget(st, st.Signal())
	fmt.Fprintf(r.out, "budget %d, reserve %d, conversation %d, system %d/%d\n",
		bd.TotalBudget, bd.ResponseReserve, bd.ConversationTokens, bd.SystemTokens, bd.SystemBudget)
	for _, blk := range bd.Blocks {
		marker := " "
		if blk.Truncated {
			marker = "*"
		}
		fmt.Fprintf(r.out, "  %s tier%d %-18s %d tokens\n", marker, blk.Tier, blk.Name, blk.Tokens)
	}
}
