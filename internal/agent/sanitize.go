package agent

import (
	"regexp"
	"strings"
)

var (
	thinkingTagPattern = regexp.MustCompile(`(?is)<(think|thinking|thought)>.*?</(think|thinking|thought)>`)
	toolCallTextPattern = regexp.MustCompile(`(?m)^\[Tool (Call|Result)[^\]]*\].*$`)
	leadingBlankLines   = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)
)

// SanitizeAssistantContent cleans model output before it is saved and
// delivered: reasoning tags, downgraded tool-call text some models echo,
// duplicated paragraphs, and leading blank lines.
func SanitizeAssistantContent(content string) string {
	if content == "" {
		return content
	}
	content = thinkingTagPattern.ReplaceAllString(content, "")
	content = toolCallTextPattern.ReplaceAllString(content, "")
	content = collapseConsecutiveDuplicateBlocks(content)
	content = leadingBlankLines.ReplaceAllString(content, "")
	return strings.TrimRight(content, " \t\n")
}

// collapseConsecutiveDuplicateBlocks removes a paragraph that exactly
// repeats its predecessor, a failure mode of some smaller models.
func collapseConsecutiveDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) < 2 {
		return content
	}
	out := blocks[:1]
	for _, b := range blocks[1:] {
		if strings.TrimSpace(b) != "" && strings.TrimSpace(b) == strings.TrimSpace(out[len(out)-1]) {
			continue
		}
		out = append(out, b)
	}
	return strings.Join(out, "\n\n")
}

const silentToken = "NO_REPLY"

// IsSilentReply reports whether the text is the model's request to stay
// silent. The token may stand alone or lead/trail the text with a
// non-word boundary.
func IsSilentReply(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if trimmed == silentToken {
		return true
	}
	if strings.HasPrefix(trimmed, silentToken) {
		rest := trimmed[len(silentToken):]
		if rest == "" || !isWordChar(rune(rest[0])) {
			return true
		}
	}
	if strings.HasSuffix(trimmed, silentToken) {
		before := trimmed[:len(trimmed)-len(silentToken)]
		if before == "" || !isWordChar(rune(before[len(before)-1])) {
			return true
		}
	}
	return false
}

func isWordChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}
