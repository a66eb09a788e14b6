// Package contextkit assembles the system prompt: tiered, token-budgeted
// composition of identity, runtime state, skills, memory, and profile
// blocks, with signal-driven guidance overlaid on top.
package contextkit

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/osahq/osa/internal/providers"
)

// Estimator counts tokens with tiktoken (cl100k_base); when the encoding
// is unavailable it falls back to a heuristic
// (words x 1.3 + punctuation x 0.5).
type Estimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewEstimator creates a lazy estimator; the encoding loads on first use.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Tokens estimates token count for one text.
func (e *Estimator) Tokens(text string) int {
	if text == "" {
		return 0
	}
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			e.enc = enc
		}
	})
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	return heuristicTokens(text)
}

// TokensMessages estimates token count across a message list, including
// serialized tool calls and a small per-message framing overhead.
func (e *Estimator) TokensMessages(msgs []providers.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.Tokens(m.Content) + 4
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			total += e.Tokens(tc.Name) + e.Tokens(string(args))
		}
	}
	return total
}

// Truncate cuts text so its estimate fits within budget tokens, appending
// the explicit truncation marker. Returns text unchanged when it fits.
func (e *Estimator) Truncate(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if e.Tokens(text) <= budget {
		return text
	}

	const marker = "\n[...truncated...]"
	markerCost := e.Tokens(marker)

	// Binary search the longest prefix that fits.
	lo, hi := 0, len(text)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if e.Tokens(text[:mid])+markerCost <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo == 0 {
		return marker
	}
	return text[:lo] + marker
}

func heuristicTokens(text string) int {
	words := len(strings.Fields(text))
	punct := 0
	for _, r := range text {
		switch r {
		case '.', ',', ';', ':', '!', '?', '(', ')', '[', ']', '{', '}', '"', '\'':
			punct++
		}
	}
	return int(float64(words)*1.3 + float64(punct)*0.5)
}
