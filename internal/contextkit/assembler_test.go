package contextkit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osahq/osa/internal/config"
	"github.com/osahq/osa/internal/providers"
	"github.com/osahq/osa/internal/sessions"
	"github.com/osahq/osa/internal/signal"
)

func testState(t *testing.T) *sessions.State {
	t.Helper()
	return sessions.NewState("test-session", "cli")
}

func testAssembler(cfg config.ContextConfig) *Assembler {
	return NewAssembler(NewEstimator(), cfg, "Test identity.", "/tmp")
}

func TestBuildSystemFirst(t *testing.T) {
	a := testAssembler(config.Default().Context)
	st := testState(t)
	st.Append(providers.Message{Role: "user", Content: "hello"})

	msgs := a.Build(st, nil)
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Test identity.")
	assert.Equal(t, "hello", msgs[1].Content)
}

func TestTier1AlwaysIncluded(t *testing.T) {
	cfg := config.ContextConfig{
		MaxContextTokens: 100,
		ResponseReserve:  50,
		Tier2BudgetPct:   0.40,
		Tier3BudgetPct:   0.30,
	}
	a := testAssembler(cfg)
	sig := &signal.Signal{Mode: signal.ModeExecute, Weight: 0.9}

	msgs := a.Build(testState(t), sig)
	assert.Contains(t, msgs[0].Content, "Test identity.")
	assert.Contains(t, msgs[0].Content, "mode=execute")
}

func TestTierOrdering(t *testing.T) {
	a := testAssembler(config.Default().Context)
	a.AddSource(func(*sessions.State, *signal.Signal) []Block {
		return []Block{{Name: "low", Tier: TierLow, Content: "LOW-MARKER"}}
	})
	a.AddSource(func(*sessions.State, *signal.Signal) []Block {
		return []Block{{Name: "high", Tier: TierHigh, Content: "HIGH-MARKER"}}
	})

	msgs := a.Build(testState(t), nil)
	system := msgs[0].Content
	hi := strings.Index(system, "HIGH-MARKER")
	lo := strings.Index(system, "LOW-MARKER")
	require.NotEqual(t, -1, hi)
	require.NotEqual(t, -1, lo)
	assert.Less(t, hi, lo, "higher tiers render before lower tiers")
}

func TestOversizeBlockTruncated(t *testing.T) {
	cfg := config.ContextConfig{
		MaxContextTokens: 3000,
		ResponseReserve:  100,
		Tier2BudgetPct:   0.10,
		Tier3BudgetPct:   0.30,
	}
	a := testAssembler(cfg)
	big := strings.Repeat("alpha beta gamma delta epsilon ", 500)
	a.AddSource(func(*sessions.State, *signal.Signal) []Block {
		return []Block{{Name: "big", Tier: TierHigh, Content: big}}
	})

	st := testState(t)
	msgs := a.Build(st, nil)
	assert.Contains(t, msgs[0].Content, "[...truncated...]")

	bd := a.TokenBudget(st, nil)
	var found bool
	for _, b := range bd.Blocks {
		if b.Name == "big" {
			found = true
			assert.True(t, b.Truncated)
		}
	}
	assert.True(t, found)
}

func TestExhaustedBudgetDropsBlock(t *testing.T) {
	cfg := config.ContextConfig{
		MaxContextTokens: 100,
		ResponseReserve:  90,
		Tier2BudgetPct:   0.40,
		Tier3BudgetPct:   0.30,
	}
	a := testAssembler(cfg)
	// Tier 1 alone consumes the minimum floor; later tiers compete for
	// what is left, so a huge low-tier block should not blow the budget.
	a.AddSource(func(*sessions.State, *signal.Signal) []Block {
		return []Block{{Name: "huge", Tier: TierLow, Content: strings.Repeat("word ", 20000)}}
	})

	st := testState(t)
	bd := a.TokenBudget(st, nil)
	assert.LessOrEqual(t, bd.SystemTokens, bd.SystemBudget+bd.SystemBudget/10,
		"system stays near its budget even with oversize sources")
}

func TestEmptyBlocksSkipped(t *testing.T) {
	a := testAssembler(config.Default().Context)
	a.AddSource(func(*sessions.State, *signal.Signal) []Block {
		return []Block{{Name: "blank", Tier: TierHigh, Content: "   \n"}}
	})
	st := testState(t)
	bd := a.TokenBudget(st, nil)
	for _, b := range bd.Blocks {
		assert.NotEqual(t, "blank", b.Name)
	}
}

func TestSystemBudgetFloor(t *testing.T) {
	cfg := config.ContextConfig{
		MaxContextTokens: 1000,
		ResponseReserve:  900,
		Tier2BudgetPct:   0.40,
		Tier3BudgetPct:   0.30,
	}
	a := testAssembler(cfg)
	st := testState(t)
	for i := 0; i < 20; i++ {
		st.Append(providers.Message{Role: "user", Content: strings.Repeat("filler ", 50)})
	}
	bd := a.TokenBudget(st, nil)
	assert.Equal(t, 2000, bd.SystemBudget, "floor applies when history exceeds the window")
}
