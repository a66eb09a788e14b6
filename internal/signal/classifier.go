package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/osahq/osa/internal/config"
	"github.com/osahq/osa/internal/providers"
)

const (
	classifyMaxChars  = 1000
	classifyMaxTokens = 200
)

// LLM is the slice of the provider registry the classifier needs.
// Satisfied by *providers.Registry.
type LLM interface {
	Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, opts providers.ChatOpts) (*providers.ChatResponse, error)
}

// Classifier assigns a Signal to each inbound message. LLM-primary with a
// deterministic fallback; results from the LLM path are cached.
type Classifier struct {
	llm        LLM // nil disables the LLM path
	cache      *Cache
	llmEnabled bool
	now        func() time.Time
}

// NewClassifier creates a classifier. llm may be nil (fallback only).
func NewClassifier(llm LLM, cfg config.ClassifyConfig) *Classifier {
	return &Classifier{
		llm:        llm,
		cache:      NewCache(cfg.CacheTTL()),
		llmEnabled: cfg.LLMEnabled && llm != nil,
		now:        time.Now,
	}
}

const classifyPrompt = `Classify the following message along five dimensions. Respond with ONLY a JSON object, no prose.

Dimensions:
- "mode": one of "execute" (perform an action), "assist" (help/explain), "analyze" (investigate/reason), "build" (create an artifact), "maintain" (diagnose/fix)
- "genre": one of "direct" (instructs action), "inform" (shares information), "commit" (promises something), "decide" (weighs options), "express" (emotion/acknowledgment)
- "type": one of "question", "request", "issue", "scheduling", "summary", "report", "general"
- "weight": informational value from 0.0 (noise) to 1.0 (critical)

Message: "%s"

JSON:`

// Classify never fails: internal errors yield the deterministic fallback
// with confidence "low".
func (c *Classifier) Classify(ctx context.Context, text, channel string) Signal {
	if sig, ok := c.cache.Get(channel, text); ok {
		sig.Text = text
		return sig
	}

	if c.llmEnabled {
		if sig, err := c.classifyLLM(ctx, text, channel); err == nil {
			c.cache.Put(channel, text, sig)
			sig.Text = text
			return sig
		} else {
			slog.Debug("classifier: llm path failed, using fallback", "error", err)
		}
	}

	sig := classifyFallback(text, channel)
	sig.Text = text
	sig.Channel = channel
	sig.Timestamp = c.now()
	return sig
}

func (c *Classifier) classifyLLM(ctx context.Context, text, channel string) (Signal, error) {
	neutral := truncateUTF8(neutralize(text), classifyMaxChars)

	resp, err := c.llm.Chat(ctx,
		[]providers.Message{{Role: "user", Content: fmt.Sprintf(classifyPrompt, neutral)}},
		nil,
		providers.ChatOpts{
			Tier:        config.TierUtility,
			Temperature: 0,
			MaxTokens:   classifyMaxTokens,
		},
	)
	if err != nil {
		return Signal{}, err
	}

	var parsed struct {
		Mode   string   `json:"mode"`
		Genre  string   `json:"genre"`
		Type   string   `json:"type"`
		Weight *float64 `json:"weight"`
	}
	body := resp.Content
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		// Not a clean object: extract the first balanced brace pair.
		obj := firstJSONObject(body)
		if obj == "" {
			return Signal{}, fmt.Errorf("classifier: no JSON object in response")
		}
		if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
			return Signal{}, fmt.Errorf("classifier: parse response: %w", err)
		}
	}

	// Any missing or invalid field is filled from the deterministic fallback.
	fallback := classifyFallback(text, channel)
	sig := Signal{
		Mode:       Mode(parsed.Mode),
		Genre:      Genre(parsed.Genre),
		Type:       Type(parsed.Type),
		Format:     FormatFor(channel),
		Channel:    channel,
		Timestamp:  c.now(),
		Confidence: ConfidenceHigh,
	}
	if !validMode(sig.Mode) {
		sig.Mode = fallback.Mode
	}
	if !validGenre(sig.Genre) {
		sig.Genre = fallback.Genre
	}
	if !validType(sig.Type) {
		sig.Type = fallback.Type
	}
	if parsed.Weight != nil {
		sig.Weight = clampWeight(*parsed.Weight)
	} else {
		sig.Weight = fallback.Weight
	}
	return sig, nil
}

// neutralize strips embedded quotes and newlines so the message cannot
// break out of the prompt template.
func neutralize(text string) string {
	r := strings.NewReplacer("\"", "'", "\n", " ", "\r", " ")
	return r.Replace(text)
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// firstJSONObject returns the first balanced {...} substring, or "".
func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
