// Package channels connects external messaging platforms to the agent
// runtime. Each adapter receives inbound messages, runs them through the
// agent loop, and delivers the outcome back to the platform.
package channels

import (
	"context"
	"errors"
	"strings"

	"github.com/osahq/osa/internal/agent"
)

// Runner is the slice of the agent loop a channel adapter needs.
type Runner interface {
	ProcessMessage(ctx context.Context, req agent.Request) agent.Outcome
	Cancel(sessionID string) bool
}

// Channel is one platform adapter.
type Channel interface {
	// Name returns the channel identifier ("telegram", "discord", "cli").
	Name() string

	// Start begins receiving messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop shuts the adapter down and waits for in-flight work.
	Stop(ctx context.Context) error
}

// Allowlist restricts inbound messages to known senders. An empty list
// allows everyone. Entries match either the platform user id or the
// username (a leading "@" is ignored).
type Allowlist []string

func (a Allowlist) Allows(userID, username string) bool {
	if len(a) == 0 {
		return true
	}
	for _, entry := range a {
		entry = strings.TrimPrefix(strings.TrimSpace(entry), "@")
		if entry == "" {
			continue
		}
		if entry == userID || strings.EqualFold(entry, username) {
			return true
		}
	}
	return false
}

// SplitMessage chunks text to fit a platform's per-message limit,
// preferring to break at a newline near the limit.
func SplitMessage(text string, maxLen int) []string {
	if maxLen <= 0 || len(text) <= maxLen {
		return []string{text}
	}
	var parts []string
	for len(text) > maxLen {
		cut := maxLen
		if idx := strings.LastIndexByte(text[:maxLen], '\n'); idx > maxLen/2 {
			cut = idx
		}
		parts = append(parts, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

// ReplyText converts an agent outcome into the text to deliver, or
// ("", false) when nothing should be sent.
func ReplyText(out agent.Outcome) (string, bool) {
	switch out.Kind {
	case agent.OutcomePlan:
		return out.Plan + "\n\nReply \"approve\" to run this plan, or rephrase the request.", true
	case agent.OutcomeError:
		if errors.Is(out.Err, agent.ErrCancelled) {
			return "⏹ cancelled", true
		}
		return "Something went wrong: " + out.Err.Error(), true
	default:
		if out.Silent || strings.TrimSpace(out.Content) == "" {
			return "", false
		}
		return out.Content, true
	}
}

// IsApproval reports whether a reply approves a previously proposed plan.
func IsApproval(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "approve", "approved", "yes", "y", "ok", "go", "go ahead", "lgtm":
		return true
	}
	return false
}

// Manager starts and stops a set of channel adapters together.
type Manager struct {
	channels []Channel
}

func NewManager(chs ...Channel) *Manager {
	return &Manager{channels: chs}
}

func (m *Manager) Add(ch Channel) { m.channels = append(m.channels, ch) }

// StartAll starts every adapter, stopping the ones already started if a
// later one fails.
func (m *Manager) StartAll(ctx context.Context) error {
	for i, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = m.channels[j].Stop(ctx)
			}
			return err
		}
	}
	return nil
}

func (m *Manager) StopAll(ctx context.Context) {
	for _, ch := range m.channels {
		_ = ch.Stop(ctx)
	}
}
