// Package signal classifies inbound messages into the 5-tuple
// (Mode, Genre, Type, Format, Weight) and filters noise. Classification is
// LLM-primary with a deterministic fallback and a TTL cache; it never fails.
package signal

import "time"

// Mode is the operational action class of a message.
type Mode string

const (
	ModeExecute  Mode = "execute"
	ModeAssist   Mode = "assist"
	ModeAnalyze  Mode = "analyze"
	ModeBuild    Mode = "build"
	ModeMaintain Mode = "maintain"
)

// Genre is the communicative purpose.
type Genre string

const (
	GenreDirect  Genre = "direct"
	GenreInform  Genre = "inform"
	GenreCommit  Genre = "commit"
	GenreDecide  Genre = "decide"
	GenreExpress Genre = "express"
)

// Type is the content category.
type Type string

const (
	TypeQuestion   Type = "question"
	TypeRequest    Type = "request"
	TypeIssue      Type = "issue"
	TypeScheduling Type = "scheduling"
	TypeSummary    Type = "summary"
	TypeReport     Type = "report"
	TypeGeneral    Type = "general"
)

// Format is derived purely from the channel type.
type Format string

const (
	FormatMessage      Format = "message"
	FormatDocument     Format = "document"
	FormatNotification Format = "notification"
	FormatCommand      Format = "command"
	FormatTranscript   Format = "transcript"
)

// Confidence marks whether the LLM or the fallback produced the signal.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// Signal is the immutable classification record for one inbound message.
type Signal struct {
	Mode       Mode       `json:"mode"`
	Genre      Genre      `json:"genre"`
	Type       Type       `json:"type"`
	Format     Format     `json:"format"`
	Weight     float64    `json:"weight"`
	Text       string     `json:"-"`
	Channel    string     `json:"channel"`
	Timestamp  time.Time  `json:"timestamp"`
	Confidence Confidence `json:"confidence"`
}

// FormatFor maps a channel id to a Format.
func FormatFor(channel string) Format {
	switch channel {
	case "cli":
		return FormatCommand
	case "telegram", "discord", "slack", "whatsapp":
		return FormatMessage
	case "webhook":
		return FormatNotification
	case "filesystem":
		return FormatDocument
	default:
		return FormatMessage
	}
}

func validMode(m Mode) bool {
	switch m {
	case ModeExecute, ModeAssist, ModeAnalyze, ModeBuild, ModeMaintain:
		return true
	}
	return false
}

func validGenre(g Genre) bool {
	switch g {
	case GenreDirect, GenreInform, GenreCommit, GenreDecide, GenreExpress:
		return true
	}
	return false
}

func validType(t Type) bool {
	switch t {
	case TypeQuestion, TypeRequest, TypeIssue, TypeScheduling, TypeSummary, TypeReport, TypeGeneral:
		return true
	}
	return false
}

func clampWeight(w float64) float64 {
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}
