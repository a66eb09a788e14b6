package channels

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osahq/osa/internal/agent"
)

func TestAllowlist(t *testing.T) {
	tests := []struct {
		name     string
		list     Allowlist
		userID   string
		username string
		want     bool
	}{
		{"empty list allows everyone", nil, "123", "alice", true},
		{"id match", Allowlist{"123"}, "123", "", true},
		{"username match", Allowlist{"alice"}, "999", "alice", true},
		{"at-prefixed username", Allowlist{"@alice"}, "999", "alice", true},
		{"case-insensitive username", Allowlist{"Alice"}, "999", "alice", true},
		{"no match", Allowlist{"123", "@bob"}, "999", "alice", false},
		{"blank entries ignored", Allowlist{"", "  "}, "999", "alice", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.list.Allows(tt.userID, tt.username))
		})
	}
}

func TestSplitMessageShort(t *testing.T) {
	parts := SplitMessage("hello", 100)
	assert.Equal(t, []string{"hello"}, parts)
}

func TestSplitMessageChunksAtNewline(t *testing.T) {
	text := strings.Repeat("x", 80) + "\n" + strings.Repeat("y", 80)
	parts := SplitMessage(text, 100)
	require.Len(t, parts, 2)
	assert.Equal(t, strings.Repeat("x", 80), parts[0])
	assert.Equal(t, strings.Repeat("y", 80), parts[1])
}

func TestSplitMessageHardCut(t *testing.T) {
	text := strings.Repeat("z", 250)
	parts := SplitMessage(text, 100)
	require.Len(t, parts, 3)
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), 100)
	}
	assert.Equal(t, text, strings.Join(parts, ""))
}

func TestReplyText(t *testing.T) {
	reply, ok := ReplyText(agent.Outcome{Kind: agent.OutcomeOK, Content: "done"})
	require.True(t, ok)
	assert.Equal(t, "done", reply)

	reply, ok = ReplyText(agent.Outcome{Kind: agent.OutcomePlan, Plan: "1. do the thing"})
	require.True(t, ok)
	assert.Contains(t, reply, "1. do the thing")
	assert.Contains(t, reply, "approve")

	reply, ok = ReplyText(agent.Outcome{Kind: agent.OutcomeError, Err: errors.New("boom")})
	require.True(t, ok)
	assert.Contains(t, reply, "boom")

	reply, ok = ReplyText(agent.Outcome{Kind: agent.OutcomeError, Err: agent.ErrCancelled})
	require.True(t, ok)
	assert.Contains(t, reply, "cancelled")
	assert.NotContains(t, reply, "wrong")

	_, ok = ReplyText(agent.Outcome{Kind: agent.OutcomeOK, Content: "hidden", Silent: true})
	assert.False(t, ok)

	_, ok = ReplyText(agent.Outcome{Kind: agent.OutcomeOK, Content: "   "})
	assert.False(t, ok)
}

func TestIsApproval(t *testing.T) {
	for _, text := range []string{"approve", "Approve", " yes ", "y", "OK", "go ahead", "lgtm"} {
		assert.True(t, IsApproval(text), text)
	}
	for _, text := range []string{"no", "yes please do something else", "", "approve the budget"} {
		assert.False(t, IsApproval(text), text)
	}
}

func TestPlanGate(t *testing.T) {
	g := NewPlanGate()

	_, ok := g.Claim("chat1")
	assert.False(t, ok)

	g.Offer("chat1", "build the service")
	text, ok := g.Claim("chat1")
	require.True(t, ok)
	assert.Equal(t, "build the service", text)

	// Claim clears the entry.
	_, ok = g.Claim("chat1")
	assert.False(t, ok)

	g.Offer("chat2", "other")
	g.Clear("chat2")
	_, ok = g.Claim("chat2")
	assert.False(t, ok)
}
