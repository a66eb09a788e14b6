package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyFallbackDeterministic(t *testing.T) {
	// Text matching more than one keyword group must resolve the same
	// way on every call: the first table entry wins.
	first := classifyFallback("fix the build", "cli")
	for i := 0; i < 200; i++ {
		sig := classifyFallback("fix the build", "cli")
		require.Equal(t, first.Mode, sig.Mode)
		require.Equal(t, first.Genre, sig.Genre)
		require.Equal(t, first.Type, sig.Type)
	}
	assert.Equal(t, ModeBuild, first.Mode)
}

func TestClassifyFallbackGenreOrder(t *testing.T) {
	// "thanks" (express) and "should we" (decide) both match; decide
	// sits earlier in the table.
	sig := classifyFallback("thanks, should we ship option a?", "cli")
	assert.Equal(t, GenreDecide, sig.Genre)
}

func TestHeuristicWeightGreetingLowBand(t *testing.T) {
	for _, text := range []string{"hi", "hello!", "hey", "thanks"} {
		sig := classifyFallback(text, "cli")
		assert.GreaterOrEqual(t, sig.Weight, 0.2, text)
		assert.Less(t, sig.Weight, 0.4, text)
	}
}

func TestHeuristicWeightBands(t *testing.T) {
	tests := []struct {
		text string
		min  float64
		max  float64
	}{
		{"deploy the fix to production immediately", 0.6, 1.0},
		{"what is the status of the report?", 0.4, 0.6},
		{"ok", 0.2, 0.4},
	}
	for _, tt := range tests {
		sig := classifyFallback(tt.text, "cli")
		assert.GreaterOrEqual(t, sig.Weight, tt.min, tt.text)
		assert.LessOrEqual(t, sig.Weight, tt.max, tt.text)
	}
}
