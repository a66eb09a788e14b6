// Package memory implements long-term memory: categorized notes in a single
// markdown file plus an episodic keyword index used by the context
// assembler for relevance filtering.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store is the markdown-backed long-term memory.
type Store struct {
	path string
	mu   sync.Mutex

	// episodic index: keyword → section headers that mention it.
	index   map[string]map[string]bool
	indexed bool
}

// New creates a memory store over the given markdown file. The file is
// created on first Remember.
func New(path string) *Store {
	return &Store{
		path:  path,
		index: make(map[string]map[string]bool),
	}
}

// Remember appends a note under its category section, creating the
// section if absent. Categories map to "## <category>" headers.
func (s *Store) Remember(text, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if category == "" {
		category = "general"
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("memory: empty note")
	}

	content := s.readLocked()
	entry := fmt.Sprintf("- %s (%s)\n", text, time.Now().Format("2006-01-02"))

	header := "## " + category
	if idx := strings.Index(content, header); idx >= 0 {
		// Insert at the end of the section (before the next header or EOF).
		sectionEnd := len(content)
		if next := strings.Index(content[idx+len(header):], "\n## "); next >= 0 {
			sectionEnd = idx + len(header) + next + 1
		}
		content = content[:sectionEnd] + entry + content[sectionEnd:]
	} else {
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		content += header + "\n" + entry
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("memory: create dir: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(content), 0644); err != nil {
		return fmt.Errorf("memory: write: %w", err)
	}
	s.indexLocked(content)
	return nil
}

// Recall returns the full memory text ("" when no memory exists).
func (s *Store) Recall() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// Snippets returns the sections most relevant to query, best first,
// capped at limit. Relevance is keyword overlap via the episodic index.
func (s *Store) Snippets(query string, limit int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	content := s.readLocked()
	if content == "" {
		return nil
	}
	if !s.indexed {
		s.indexLocked(content)
	}

	scores := make(map[string]int)
	for _, word := range keywords(query) {
		for section := range s.index[word] {
			scores[section]++
		}
	}
	if len(scores) == 0 {
		return nil
	}

	type scored struct {
		section string
		score   int
	}
	ranked := make([]scored, 0, len(scores))
	for sec, sc := range scores {
		ranked = append(ranked, scored{sec, sc})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].section < ranked[j].section
	})

	if limit <= 0 || limit > len(ranked) {
		limit = len(ranked)
	}
	out := make([]string, 0, limit)
	for _, r := range ranked[:limit] {
		if body := sectionBody(content, r.section); body != "" {
			out = append(out, body)
		}
	}
	return out
}

func (s *Store) readLocked() string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return ""
	}
	return string(data)
}

// indexLocked rebuilds the episodic keyword index from content.
func (s *Store) indexLocked(content string) {
	s.index = make(map[string]map[string]bool)
	var current string
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "## ") {
			current = strings.TrimPrefix(line, "## ")
			continue
		}
		if current == "" {
			continue
		}
		for _, word := range keywords(line) {
			if s.index[word] == nil {
				s.index[word] = make(map[string]bool)
			}
			s.index[word][current] = true
		}
	}
	s.indexed = true
}

// sectionBody returns "## header" plus its lines.
func sectionBody(content, header string) string {
	full := "## " + header
	idx := strings.Index(content, full)
	if idx < 0 {
		return ""
	}
	end := len(content)
	if next := strings.Index(content[idx+len(full):], "\n## "); next >= 0 {
		end = idx + len(full) + next
	}
	return strings.TrimSpace(content[idx:end])
}

// keywords lowercases and splits text, dropping stopwords and short tokens.
func keywords(text string) []string {
	var out []string
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,!?;:()[]\"'`-")
		if len(f) < 3 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "are": true, "was": true, "has": true, "have": true,
	"not": true, "but": true, "you": true, "use": true, "its": true,
}
