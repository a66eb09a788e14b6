package signal

import (
	"regexp"
	"strings"
)

// Deterministic classification: word-boundary keyword matching for
// mode/genre/type plus a scored weight heuristic. Used when the LLM path
// is disabled or fails, and to fill invalid fields in LLM output.

// Keyword tables are ordered: the first matching entry wins, so the
// same text always classifies the same way.
var modeKeywords = []struct {
	mode Mode
	kws  []string
}{
	{ModeExecute, []string{"run", "execute", "deploy", "start", "stop", "restart", "launch", "send", "delete", "install"}},
	{ModeBuild, []string{"build", "create", "implement", "write", "add", "generate", "make", "scaffold", "design"}},
	{ModeAnalyze, []string{"analyze", "investigate", "compare", "review", "explain why", "evaluate", "profile", "benchmark"}},
	{ModeMaintain, []string{"fix", "debug", "repair", "patch", "upgrade", "migrate", "clean up", "refactor", "broken"}},
}

var genreKeywords = []struct {
	genre Genre
	kws   []string
}{
	{GenreDirect, []string{"please", "can you", "could you", "do this", "i need you to", "go ahead"}},
	{GenreCommit, []string{"i will", "i'll", "we will", "promise", "commit to", "by friday", "deadline"}},
	{GenreDecide, []string{"should we", "which one", "decide", "choose", "option a", "or should"}},
	{GenreExpress, []string{"thanks", "thank you", "great", "awesome", "love it", "frustrated", "annoying"}},
}

var typeKeywords = map[Type][]string{
	TypeScheduling: {"schedule", "remind", "every day", "tomorrow", "at 9", "cron", "weekly", "calendar"},
	TypeIssue:      {"error", "bug", "broken", "crash", "fails", "failing", "doesn't work", "exception"},
	TypeSummary:    {"summarize", "summary", "tldr", "recap", "overview of"},
	TypeReport:     {"report", "status update", "metrics", "stats for"},
	TypeRequest:    {"please", "can you", "could you", "would you", "i need", "help me"},
}

var urgencyKeywords = []string{"urgent", "asap", "immediately", "critical", "now", "emergency", "production"}

var greetingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(hi|hey|hello|yo|sup|hiya|howdy)[\s!.,]*$`),
	regexp.MustCompile(`(?i)^(good\s+(morning|afternoon|evening|night))[\s!.,]*$`),
	regexp.MustCompile(`(?i)^(ok|okay|k|kk|sure|yes|no|yep|nope|thanks|thank you|thx|ty|cool|nice|great|lol|haha)[\s!.,]*$`),
	regexp.MustCompile(`^[\s\p{So}\p{Sk}!.,?]*$`), // emoji / punctuation only
}

// matchesAny reports whether text contains any keyword at a word boundary.
func matchesAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if containsWord(text, kw) {
			return true
		}
	}
	return false
}

func containsWord(text, kw string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		beforeOK := start == 0 || !isWordByte(text[start-1])
		afterOK := end == len(text) || !isWordByte(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}

// classifyFallback is the deterministic classifier.
func classifyFallback(text, channel string) Signal {
	lower := strings.ToLower(strings.TrimSpace(text))

	mode := ModeAssist
	for _, entry := range modeKeywords {
		if matchesAny(lower, entry.kws) {
			mode = entry.mode
			break
		}
	}

	genre := GenreInform
	for _, entry := range genreKeywords {
		if matchesAny(lower, entry.kws) {
			genre = entry.genre
			break
		}
	}

	typ := TypeGeneral
	switch {
	case matchesAny(lower, typeKeywords[TypeScheduling]):
		typ = TypeScheduling
	case matchesAny(lower, typeKeywords[TypeIssue]):
		typ = TypeIssue
	case matchesAny(lower, typeKeywords[TypeSummary]):
		typ = TypeSummary
	case matchesAny(lower, typeKeywords[TypeReport]):
		typ = TypeReport
	case strings.Contains(lower, "?"):
		typ = TypeQuestion
	case matchesAny(lower, typeKeywords[TypeRequest]):
		typ = TypeRequest
	}

	return Signal{
		Mode:       mode,
		Genre:      genre,
		Type:       typ,
		Format:     FormatFor(channel),
		Weight:     heuristicWeight(lower),
		Confidence: ConfidenceLow,
	}
}

// heuristicWeight scores informational value: length bonus, question bonus,
// urgency bonus, and a noise penalty for greeting-like patterns.
func heuristicWeight(lower string) float64 {
	w := 0.3

	words := len(strings.Fields(lower))
	switch {
	case words >= 30:
		w += 0.3
	case words >= 10:
		w += 0.2
	case words >= 5:
		w += 0.1
	}

	if strings.Contains(lower, "?") {
		w += 0.1
	}
	if matchesAny(lower, urgencyKeywords) {
		w += 0.2
	}
	// A mild penalty: a bare greeting lands in the low band, not at
	// zero, so it still registers as a (weak) signal.
	for _, p := range greetingPatterns {
		if p.MatchString(lower) {
			w -= 0.1
			break
		}
	}

	return clampWeight(w)
}
