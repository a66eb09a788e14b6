package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osahq/osa/internal/agent"
	"github.com/osahq/osa/internal/config"
	"github.com/osahq/osa/internal/contextkit"
	"github.com/osahq/osa/internal/sessions"
)

type scriptedRunner struct {
	outcomes []agent.Outcome
	requests []agent.Request
	cancels  int
}

func (s *scriptedRunner) ProcessMessage(_ context.Context, req agent.Request) agent.Outcome {
	s.requests = append(s.requests, req)
	if len(s.outcomes) == 0 {
		return agent.Outcome{Kind: agent.OutcomeOK, Content: "default"}
	}
	out := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	return out
}

func (s *scriptedRunner) Cancel(string) bool {
	s.cancels++
	return true
}

func newREPL(t *testing.T, runner *scriptedRunner, input string) (*REPL, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	est := contextkit.NewEstimator()
	asm := contextkit.NewAssembler(est, cfg.Context, "", t.TempDir())
	r := New(runner, sessions.NewRegistry(nil), asm, nil, cfg)
	var out bytes.Buffer
	r.SetIO(strings.NewReader(input), &out)
	return r, &out
}

func TestRunEchoesResponse(t *testing.T) {
	runner := &scriptedRunner{outcomes: []agent.Outcome{
		{Kind: agent.OutcomeOK, Content: "hi there"},
	}}
	r, out := newREPL(t, runner, "hello\n/exit\n")

	require.NoError(t, r.Run(context.Background()))
	assert.Contains(t, out.String(), "hi there")
	require.Len(t, runner.requests, 1)
	assert.Equal(t, "hello", runner.requests[0].Text)
	assert.Equal(t, "cli", runner.requests[0].Channel)
}

func TestPlanApprovedResumesRequest(t *testing.T) {
	runner := &scriptedRunner{outcomes: []agent.Outcome{
		{Kind: agent.OutcomePlan, Plan: "1. scaffold\n2. ship"},
		{Kind: agent.OutcomeOK, Content: "shipped"},
	}}
	r, out := newREPL(t, runner, "build it\ny\n/exit\n")

	require.NoError(t, r.Run(context.Background()))
	assert.Contains(t, out.String(), "1. scaffold")
	assert.Contains(t, out.String(), "shipped")

	require.Len(t, runner.requests, 2)
	assert.False(t, runner.requests[0].PlanApproved)
	assert.True(t, runner.requests[1].PlanApproved)
	assert.Equal(t, "build it", runner.requests[1].Text)
}

func TestPlanDeclined(t *testing.T) {
	runner := &scriptedRunner{outcomes: []agent.Outcome{
		{Kind: agent.OutcomePlan, Plan: "1. risky step"},
	}}
	r, out := newREPL(t, runner, "build it\nn\n/exit\n")

	require.NoError(t, r.Run(context.Background()))
	assert.Contains(t, out.String(), "Plan discarded")
	assert.Len(t, runner.requests, 1)
}

func TestErrorOutcomePrinted(t *testing.T) {
	runner := &scriptedRunner{outcomes: []agent.Outcome{
		{Kind: agent.OutcomeError, Err: errors.New("provider down")},
	}}
	r, out := newREPL(t, runner, "hello\n/exit\n")

	require.NoError(t, r.Run(context.Background()))
	assert.Contains(t, out.String(), "provider down")
}

func TestCancelledOutcomeRendersIndicator(t *testing.T) {
	runner := &scriptedRunner{outcomes: []agent.Outcome{
		{Kind: agent.OutcomeError, Err: agent.ErrCancelled},
	}}
	r, out := newREPL(t, runner, "long task\n/exit\n")

	require.NoError(t, r.Run(context.Background()))
	assert.Contains(t, out.String(), "(cancelled)")
	assert.NotContains(t, out.String(), "error:")
}

func TestSilentOutcomeNotPrinted(t *testing.T) {
	runner := &scriptedRunner{outcomes: []agent.Outcome{
		{Kind: agent.OutcomeOK, Content: "NO_REPLY", Silent: true},
	}}
	r, out := newREPL(t, runner, "fyi only\n/exit\n")

	require.NoError(t, r.Run(context.Background()))
	assert.NotContains(t, out.String(), "NO_REPLY")
}

func TestSlashHelp(t *testing.T) {
	runner := &scriptedRunner{}
	r, out := newREPL(t, runner, "/help\n/exit\n")

	require.NoError(t, r.Run(context.Background()))
	for _, cmd := range []string{"/clear", "/model", "/status", "/usage", "/compact", "/context"} {
		assert.Contains(t, out.String(), cmd)
	}
	assert.Empty(t, runner.requests, "slash commands must not reach the loop")
}

func TestSlashClearRotatesSession(t *testing.T) {
	runner := &scriptedRunner{}
	r, _ := newREPL(t, runner, "/clear\n/exit\n")

	before := r.SessionID()
	r.sessions.Ensure(before)
	var closed []string
	r.sessions.SetOnClose(func(st *sessions.State) { closed = append(closed, st.ID) })

	require.NoError(t, r.Run(context.Background()))
	assert.NotEqual(t, before, r.SessionID())
	assert.Equal(t, 1, runner.cancels, "clear cancels the old session")
	assert.Equal(t, []string{before}, closed, "clear closes the old session")
}

func TestSlashModelPinsAndClears(t *testing.T) {
	runner := &scriptedRunner{}
	r, out := newREPL(t, runner, "/model anthropic claude-sonnet\n/model\n/model default\n/exit\n")

	require.NoError(t, r.Run(context.Background()))

	assert.Contains(t, out.String(), "pinned to anthropic/claude-sonnet")
	assert.Contains(t, out.String(), "pinned:      anthropic/claude-sonnet")
	assert.Contains(t, out.String(), "pin cleared")

	provider, model := r.sessions.Ensure(r.SessionID()).ModelInfo()
	assert.Empty(t, provider)
	assert.Empty(t, model)
}

func TestSlashUsage(t *testing.T) {
	runner := &scriptedRunner{}
	r, out := newREPL(t, runner, "/usage\n/exit\n")

	st := r.sessions.Ensure(r.SessionID())
	st.AccumulateTokens(120, 30)

	require.NoError(t, r.Run(context.Background()))
	assert.Contains(t, out.String(), "input tokens: 120")
	assert.Contains(t, out.String(), "output tokens: 30")
}

func TestSlashContextShowsBreakdown(t *testing.T) {
	runner := &scriptedRunner{}
	r, out := newREPL(t, runner, "/context\n/exit\n")

	require.NoError(t, r.Run(context.Background()))
	assert.Contains(t, out.String(), "budget")
	assert.Contains(t, out.String(), "identity")
}

func TestUnknownCommand(t *testing.T) {
	runner := &scriptedRunner{}
	r, out := newREPL(t, runner, "/bogus\n/exit\n")

	require.NoError(t, r.Run(context.Background()))
	assert.Contains(t, out.String(), "unknown command /bogus")
}

func TestStatusLineFitsWidth(t *testing.T) {
	runner := &scriptedRunner{}
	r, _ := newREPL(t, runner, "")

	line := r.statusLine()
	assert.Contains(t, line, r.SessionID())
	assert.Contains(t, line, "msgs:0")
}

func TestEOFExitsCleanly(t *testing.T) {
	runner := &scriptedRunner{}
	r, _ := newREPL(t, runner, "")
	require.NoError(t, r.Run(context.Background()))
}
