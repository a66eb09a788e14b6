package contextkit

import (
	"strings"

	"github.com/osahq/osa/internal/signal"
)

// Standing rules included in every Tier 1 block.
const standingRules = `Rules:
- Answer directly; do not preface responses with preamble or restate the question.
- Keep simple answers to fewer than 4 lines.
- Use the dedicated tools for file and web operations, not shell equivalents.
- Do not add features beyond what was asked.`

// overlayFor renders the signal-driven guidance for Tier 1.
func overlayFor(sig *signal.Signal) string {
	var b strings.Builder
	b.WriteString("Current message profile: ")

	if sig == nil {
		b.WriteString("unclassified.\n")
		b.WriteString(standingRules)
		return b.String()
	}

	b.WriteString("mode=" + string(sig.Mode))
	b.WriteString(" genre=" + string(sig.Genre))
	b.WriteString(" type=" + string(sig.Type))
	b.WriteString("\n")

	switch sig.Mode {
	case signal.ModeExecute:
		b.WriteString("Be concise and action-oriented.\n")
	case signal.ModeAnalyze:
		b.WriteString("Be thorough and show reasoning.\n")
	case signal.ModeBuild:
		b.WriteString("Produce artifacts.\n")
	case signal.ModeAssist:
		b.WriteString("Explain.\n")
	case signal.ModeMaintain:
		b.WriteString("Diagnose and fix.\n")
	}

	switch {
	case sig.Weight >= 0.8:
		b.WriteString("Highest priority; give this your full attention.\n")
	case sig.Weight < 0.4:
		b.WriteString("Keep the response brief.\n")
	}

	b.WriteString(standingRules)
	return b.String()
}
