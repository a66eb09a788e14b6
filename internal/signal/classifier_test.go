package signal

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/osahq/osa/internal/config"
	"github.com/osahq/osa/internal/providers"
)

// stubLLM returns one canned response (or error) per call.
type stubLLM struct {
	content string
	err     error
	calls   int
}

func (s *stubLLM) Chat(context.Context, []providers.Message, []providers.ToolDefinition, providers.ChatOpts) (*providers.ChatResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &providers.ChatResponse{Content: s.content}, nil
}

func testCfg() config.ClassifyConfig {
	return config.ClassifyConfig{LLMEnabled: true, CacheTTLS: 600}
}

func TestClassifyLLMPath(t *testing.T) {
	llm := &stubLLM{content: `{"mode":"build","genre":"direct","type":"request","weight":0.82}`}
	c := NewClassifier(llm, testCfg())

	sig := c.Classify(context.Background(), "please build a parser", "http")
	require.Equal(t, ModeBuild, sig.Mode)
	require.Equal(t, GenreDirect, sig.Genre)
	require.Equal(t, TypeRequest, sig.Type)
	require.Equal(t, FormatMessage, sig.Format)
	require.InDelta(t, 0.82, sig.Weight, 1e-9)
	require.Equal(t, ConfidenceHigh, sig.Confidence)
}

func TestClassifyExtractsEmbeddedJSON(t *testing.T) {
	llm := &stubLLM{content: "Here you go:\n```json\n{\"mode\":\"analyze\",\"genre\":\"inform\",\"type\":\"question\",\"weight\":0.5}\n```"}
	c := NewClassifier(llm, testCfg())

	sig := c.Classify(context.Background(), "why is latency up?", "cli")
	require.Equal(t, ModeAnalyze, sig.Mode)
	require.Equal(t, FormatCommand, sig.Format)
	require.Equal(t, ConfidenceHigh, sig.Confidence)
}

func TestClassifyInvalidFieldsFilledFromFallback(t *testing.T) {
	llm := &stubLLM{content: `{"mode":"wizardry","genre":"direct","type":"request","weight":3.0}`}
	c := NewClassifier(llm, testCfg())

	sig := c.Classify(context.Background(), "please fix the broken deploy", "cli")
	require.True(t, validMode(sig.Mode), "invalid mode must be replaced")
	require.LessOrEqual(t, sig.Weight, 1.0)
}

func TestClassifyFallbackOnLLMError(t *testing.T) {
	llm := &stubLLM{err: context.DeadlineExceeded}
	c := NewClassifier(llm, testCfg())

	sig := c.Classify(context.Background(), "run the deploy script now", "cli")
	require.Equal(t, ConfidenceLow, sig.Confidence)
	require.Equal(t, ModeExecute, sig.Mode)
}

func TestClassifyCacheIdempotence(t *testing.T) {
	llm := &stubLLM{content: `{"mode":"assist","genre":"inform","type":"question","weight":0.6}`}
	c := NewClassifier(llm, testCfg())

	first := c.Classify(context.Background(), "how does caching work?", "http")
	second := c.Classify(context.Background(), "how does caching work?", "http")

	require.Equal(t, 1, llm.calls, "second call must hit the cache")
	require.Equal(t, first.Mode, second.Mode)
	require.Equal(t, first.Genre, second.Genre)
	require.Equal(t, first.Type, second.Type)
	require.Equal(t, first.Weight, second.Weight)
	require.Equal(t, first.Format, second.Format)
}

func TestClassifyFailureNotCached(t *testing.T) {
	llm := &stubLLM{err: context.DeadlineExceeded}
	c := NewClassifier(llm, testCfg())

	c.Classify(context.Background(), "anything", "cli")
	require.Zero(t, c.cache.Len(), "failed classifications must not be cached")
}

func TestCacheExpiry(t *testing.T) {
	cache := NewCache(time.Second)
	base := time.Now()
	cache.now = func() time.Time { return base }

	cache.Put("cli", "msg", Signal{Mode: ModeAssist})
	_, ok := cache.Get("cli", "msg")
	require.True(t, ok)

	cache.now = func() time.Time { return base.Add(2 * time.Second) }
	_, ok = cache.Get("cli", "msg")
	require.False(t, ok)
}

func TestExactly1000CharsNoTruncationArtifacts(t *testing.T) {
	body := make([]byte, 1000)
	for i := range body {
		body[i] = 'a'
	}
	llm := &stubLLM{content: `{"mode":"assist","genre":"inform","type":"general","weight":0.4}`}
	c := NewClassifier(llm, testCfg())

	sig := c.Classify(context.Background(), string(body), "cli")
	require.Equal(t, ConfidenceHigh, sig.Confidence)
}

func TestTruncateUTF8KeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("é", 600) // 2 bytes each, crosses the limit mid-rune
	got := truncateUTF8(long, classifyMaxChars)
	require.True(t, utf8.ValidString(got))
	require.LessOrEqual(t, len(got), classifyMaxChars)
	require.Equal(t, strings.Repeat("é", 500), got)

	require.Equal(t, "abc", truncateUTF8("abc", 10))
	require.Equal(t, "ab", truncateUTF8("abcd", 2))
}

func TestWeightAlwaysInRange(t *testing.T) {
	cases := []string{"", "hi", "urgent! fix production now", "?", "a long message with many words that should score higher on the weight heuristic because of its length and detail"}
	c := NewClassifier(nil, config.ClassifyConfig{})
	for _, text := range cases {
		sig := c.Classify(context.Background(), text, "cli")
		require.GreaterOrEqual(t, sig.Weight, 0.0)
		require.LessOrEqual(t, sig.Weight, 1.0)
		require.True(t, validMode(sig.Mode))
		require.True(t, validGenre(sig.Genre))
		require.True(t, validType(sig.Type))
	}
}
