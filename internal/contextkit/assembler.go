package contextkit

import (
	"sort"
	"strings"

	"github.com/osahq/osa/internal/config"
	"github.com/osahq/osa/internal/providers"
	"github.com/osahq/osa/internal/sessions"
	"github.com/osahq/osa/internal/signal"
)

const (
	blockSeparator  = "\n\n---\n\n"
	minSystemBudget = 2000
)

// Assembler builds the system-prompt prefix plus conversation history
// within the configured token budget.
type Assembler struct {
	est       *Estimator
	cfg       config.ContextConfig
	identity  string
	workspace string
	sources   []SourceFunc
}

// NewAssembler creates an assembler. identity is the Tier 1 persona text.
func NewAssembler(est *Estimator, cfg config.ContextConfig, identity, workspace string) *Assembler {
	if identity == "" {
		identity = "You are OSA, a local-first assistant that coordinates tools and sub-agents on this machine."
	}
	return &Assembler{
		est:       est,
		cfg:       cfg,
		identity:  identity,
		workspace: workspace,
	}
}

// AddSource registers a block source (skills catalog, memory snippets,
// profiles). Sources run at build time in registration order.
func (a *Assembler) AddSource(src SourceFunc) {
	a.sources = append(a.sources, src)
}

// Estimator exposes the shared token estimator.
func (a *Assembler) Estimator() *Estimator { return a.est }

// Build returns [system, ...conversation] such that
// estimate(system) + estimate(history) + response_reserve <= budget,
// with oversize blocks truncated at an explicit marker.
func (a *Assembler) Build(state *sessions.State, sig *signal.Signal) []providers.Message {
	system, _ := a.assemble(state, sig)
	history := state.Messages()

	out := make([]providers.Message, 0, len(history)+1)
	out = append(out, providers.Message{Role: "system", Content: system})
	out = append(out, history...)
	return out
}

// BlockUsage is the per-block accounting row returned by TokenBudget.
type BlockUsage struct {
	Name      string `json:"name"`
	Tier      Tier   `json:"tier"`
	Tokens    int    `json:"tokens"`
	Truncated bool   `json:"truncated"`
	Dropped   bool   `json:"dropped"`
}

// Breakdown is the block-level budget diagnostic. Debugging only; it
// re-runs assembly and must stay off the hot path.
type Breakdown struct {
	TotalBudget        int          `json:"total_budget"`
	ResponseReserve    int          `json:"response_reserve"`
	ConversationTokens int          `json:"conversation_tokens"`
	SystemBudget       int          `json:"system_budget"`
	SystemTokens       int          `json:"system_tokens"`
	Blocks             []BlockUsage `json:"blocks"`
}

// TokenBudget reports the block-level breakdown for the given state.
func (a *Assembler) TokenBudget(state *sessions.State, sig *signal.Signal) Breakdown {
	_, bd := a.assemble(state, sig)
	return bd
}

func (a *Assembler) assemble(state *sessions.State, sig *signal.Signal) (string, Breakdown) {
	conversationTokens := a.est.TokensMessages(state.Messages())

	systemBudget := a.cfg.MaxContextTokens - a.cfg.ResponseReserve - conversationTokens
	if systemBudget < minSystemBudget {
		systemBudget = minSystemBudget
	}

	bd := Breakdown{
		TotalBudget:        a.cfg.MaxContextTokens,
		ResponseReserve:    a.cfg.ResponseReserve,
		ConversationTokens: conversationTokens,
		SystemBudget:       systemBudget,
	}

	// Tier 1 is built internally and always included in full.
	tier1 := []Block{
		{Name: "identity", Tier: TierCritical, Content: a.identity},
		{Name: "signal_overlay", Tier: TierCritical, Content: overlayFor(sig)},
		{Name: "runtime", Tier: TierCritical, Content: runtimeBlock(state, a.workspace)},
	}

	var gathered []Block
	for _, src := range a.sources {
		for _, blk := range src(state, sig) {
			if strings.TrimSpace(blk.Content) != "" {
				gathered = append(gathered, blk)
			}
		}
	}
	// Stable by tier; order within a tier follows registration order.
	sort.SliceStable(gathered, func(i, j int) bool { return gathered[i].Tier < gathered[j].Tier })

	var parts []string
	remaining := systemBudget

	for _, blk := range tier1 {
		cost := a.est.Tokens(blk.Content)
		parts = append(parts, blk.Content)
		remaining -= cost
		bd.Blocks = append(bd.Blocks, BlockUsage{Name: blk.Name, Tier: TierCritical, Tokens: cost})
	}
	if remaining < 0 {
		remaining = 0
	}

	tierCaps := map[Tier]int{
		TierHigh:   int(float64(systemBudget) * a.cfg.Tier2BudgetPct),
		TierMedium: int(float64(systemBudget) * a.cfg.Tier3BudgetPct),
	}

	for _, tier := range []Tier{TierHigh, TierMedium, TierLow} {
		tierBudget := remaining
		if tcap, ok := tierCaps[tier]; ok && tcap < tierBudget {
			tierBudget = tcap
		}

		for _, blk := range gathered {
			if blk.Tier != tier {
				continue
			}
			usage := BlockUsage{Name: blk.Name, Tier: tier}
			cost := a.est.Tokens(blk.Content)

			switch {
			case tierBudget <= 0:
				usage.Dropped = true
			case cost <= tierBudget:
				parts = append(parts, blk.Content)
				tierBudget -= cost
				remaining -= cost
				usage.Tokens = cost
			default:
				truncated := a.est.Truncate(blk.Content, tierBudget)
				tcost := a.est.Tokens(truncated)
				parts = append(parts, truncated)
				tierBudget -= tcost
				remaining -= tcost
				usage.Tokens = tcost
				usage.Truncated = true
			}
			bd.Blocks = append(bd.Blocks, usage)
		}
		if remaining < 0 {
			remaining = 0
		}
	}

	system := strings.Join(parts, blockSeparator)
	bd.SystemTokens = a.est.Tokens(system)
	return system, bd
}
