// Package compaction keeps session histories inside the context window by
// summarizing the oldest portion of a conversation once usage crosses the
// configured pressure thresholds.
package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/osahq/osa/internal/bus"
	"github.com/osahq/osa/internal/config"
	"github.com/osahq/osa/internal/contextkit"
	"github.com/osahq/osa/internal/providers"
	"github.com/osahq/osa/internal/sessions"
	"github.com/osahq/osa/pkg/protocol"
)

// Usage thresholds as fractions of the context window.
const (
	hintThreshold     = 0.50
	pressureThreshold = 0.70
	softThreshold     = 0.85
	hardThreshold     = 0.95

	softDropFraction = 0.50
	hardDropFraction = 0.70
)

const summaryPrompt = `Summarize the following conversation excerpt so a later
assistant turn can continue seamlessly. Preserve: decisions made, facts stated
by the user, file paths and identifiers, unresolved questions, and the overall
goal. Be dense; omit pleasantries. Output only the summary.`

// LLM is the narrow chat surface the compactor needs; *providers.Registry
// satisfies it.
type LLM interface {
	Chat(ctx context.Context, msgs []providers.Message, tools []providers.ToolDefinition, opts providers.ChatOpts) (*providers.ChatResponse, error)
}

// Compactor watches session token usage and rewrites history when it grows
// past the soft or hard thresholds.
type Compactor struct {
	est      *contextkit.Estimator
	llm      LLM
	sessions *sessions.Registry
	events   *bus.Bus
	cfg      config.ContextConfig
	log      *slog.Logger
}

func New(est *contextkit.Estimator, llm LLM, reg *sessions.Registry, events *bus.Bus, cfg config.ContextConfig, log *slog.Logger) *Compactor {
	if log == nil {
		log = slog.Default()
	}
	return &Compactor{est: est, llm: llm, sessions: reg, events: events, cfg: cfg, log: log}
}

// Usage reports the history's token count and its fraction of the window.
func (c *Compactor) Usage(s *sessions.State) (int, float64) {
	tokens := c.est.TokensMessages(s.Messages())
	return tokens, float64(tokens) / float64(c.cfg.MaxContextTokens)
}

// Check runs the threshold ladder for a session. At the soft and hard
// thresholds it compacts; below them it only reports pressure. The returned
// fraction is the post-check usage.
func (c *Compactor) Check(ctx context.Context, s *sessions.State) (float64, error) {
	tokens, frac := c.Usage(s)

	switch {
	case frac >= hardThreshold:
		if err := c.Compact(ctx, s, hardDropFraction); err != nil {
			return frac, err
		}
	case frac >= softThreshold:
		if err := c.Compact(ctx, s, softDropFraction); err != nil {
			return frac, err
		}
	case frac >= pressureThreshold:
		c.emit(s.ID, protocol.SysContextPressure, map[string]any{
			"tokens": tokens,
			"pct":    frac,
		})
	case frac >= hintThreshold:
		// Informational only; channels surface this in their status line.
		c.log.Debug("context usage above half", "session", s.ID, "pct", frac)
	}

	_, after := c.Usage(s)
	return after, nil
}

// Compact drops roughly dropFraction of the history's tokens from the oldest
// end, replacing them with an LLM summary. The most recent user message is
// never dropped. If the summary call fails the dropped messages are discarded
// verbatim so usage still decreases.
func (c *Compactor) Compact(ctx context.Context, s *sessions.State, dropFraction float64) error {
	msgs := s.Messages()
	if len(msgs) < 2 {
		return nil
	}

	before := c.est.TokensMessages(msgs)
	split := c.splitIndex(msgs, dropFraction)
	if split <= 0 {
		return nil
	}

	dropped, kept := msgs[:split], msgs[split:]

	summary, err := c.summarize(ctx, dropped)
	if err != nil {
		c.log.Warn("compaction summary failed, dropping verbatim",
			"session", s.ID, "dropped", len(dropped), "error", err)
		summary = fmt.Sprintf("[earlier conversation of %d messages was removed to free context]", len(dropped))
	}

	rewritten := make([]providers.Message, 0, len(kept)+1)
	rewritten = append(rewritten, providers.Message{
		Role:    "system",
		Content: "Conversation summary (earlier turns were compacted):\n" + summary,
	})
	rewritten = append(rewritten, kept...)

	c.sessions.RewriteHistory(s, rewritten)

	after := c.est.TokensMessages(rewritten)
	c.log.Info("compacted session history",
		"session", s.ID, "dropped", len(dropped), "tokens_before", before, "tokens_after", after)
	c.emit(s.ID, protocol.SysContextCompacted, map[string]any{
		"tokens_before": before,
		"tokens_after":  after,
		"dropped":       len(dropped),
	})
	return nil
}

// splitIndex picks the boundary so the dropped prefix holds about
// dropFraction of the history's tokens. The boundary lands on a user
// message so tool_use/tool_result pairs are never split, and the latest
// user message always survives.
func (c *Compactor) splitIndex(msgs []providers.Message, dropFraction float64) int {
	total := c.est.TokensMessages(msgs)
	target := int(float64(total) * dropFraction)

	lastUser := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			lastUser = i
			break
		}
	}

	acc := 0
	split := 0
	for i, m := range msgs {
		acc += c.est.TokensMessages([]providers.Message{m})
		if acc >= target {
			split = i + 1
			break
		}
	}
	if split == 0 {
		split = len(msgs) / 2
	}

	// Advance to the next user message so the kept slice starts a turn.
	for split < len(msgs) && msgs[split].Role != "user" {
		split++
	}
	if lastUser >= 0 && split > lastUser {
		split = lastUser
	}
	return split
}

func (c *Compactor) summarize(ctx context.Context, dropped []providers.Message) (string, error) {
	if c.llm == nil {
		return "", fmt.Errorf("no summarizer configured")
	}

	var b strings.Builder
	for _, m := range dropped {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&b, " [called %s]", tc.Name)
		}
		b.WriteString("\n")
	}

	resp, err := c.llm.Chat(ctx, []providers.Message{
		{Role: "system", Content: summaryPrompt},
		{Role: "user", Content: b.String()},
	}, nil, providers.ChatOpts{
		Tier:        config.TierUtility,
		MaxTokens:   1024,
		Temperature: 0.1,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("empty summary")
	}
	return resp.Content, nil
}

func (c *Compactor) emit(sessionID, event string, fields map[string]any) {
	if c.events == nil {
		return
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["session_id"] = sessionID
	c.events.Emit(protocol.TopicSystemEvent, protocol.SystemEventPayload{
		Event:  event,
		Fields: fields,
	})
}
