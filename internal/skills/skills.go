// Package skills loads markdown instruction packs from the skills
// directory. Each skill lives at <dir>/<name>/SKILL.md with a yaml
// frontmatter header; matched skills inject their body into the system
// context and can narrow the tool set offered to the model.
package skills

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Skill is one loaded instruction pack.
type Skill struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tools       []string `yaml:"tools"`
	Triggers    []string `yaml:"triggers"`
	Priority    int      `yaml:"priority"`

	Body string `yaml:"-"`
	Path string `yaml:"-"`
}

// Loader scans the skills directory and keeps the set current.
type Loader struct {
	dir string
	log *slog.Logger

	mu     sync.RWMutex
	skills map[string]*Skill
}

func NewLoader(dir string, log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{
		dir:    dir,
		log:    log,
		skills: make(map[string]*Skill),
	}
}

// Load rescans the directory, replacing the in-memory set. A missing
// directory is not an error; it just means no skills.
func (l *Loader) Load() error {
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		l.mu.Lock()
		l.skills = make(map[string]*Skill)
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading skills dir: %w", err)
	}

	next := make(map[string]*Skill)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(l.dir, e.Name(), "SKILL.md")
		sk, err := parseFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				l.log.Warn("skipping malformed skill", "path", path, "error", err)
			}
			continue
		}
		if sk.Name == "" {
			sk.Name = e.Name()
		}
		next[sk.Name] = sk
	}

	l.mu.Lock()
	l.skills = next
	l.mu.Unlock()
	l.log.Debug("skills loaded", "count", len(next))
	return nil
}

// All returns the skills sorted by descending priority, then name.
func (l *Loader) All() []*Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Skill, 0, len(l.skills))
	for _, sk := range l.skills {
		out = append(out, sk)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Get returns a skill by name.
func (l *Loader) Get(name string) (*Skill, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sk, ok := l.skills[name]
	return sk, ok
}

// Match returns the skills whose triggers appear in text, highest
// priority first. Matching is case-insensitive substring.
func (l *Loader) Match(text string) []*Skill {
	lower := strings.ToLower(text)
	var out []*Skill
	for _, sk := range l.All() {
		for _, trig := range sk.Triggers {
			if trig != "" && strings.Contains(lower, strings.ToLower(trig)) {
				out = append(out, sk)
				break
			}
		}
	}
	return out
}

// Catalog renders a one-line-per-skill listing for the system context.
func (l *Loader) Catalog() string {
	all := l.All()
	if len(all) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Available skills:\n")
	for _, sk := range all {
		fmt.Fprintf(&b, "- %s: %s\n", sk.Name, sk.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseFile reads a SKILL.md: optional yaml frontmatter between ---
// fences, remainder is the body.
func parseFile(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	sk := &Skill{Path: path}
	content := string(data)

	if strings.HasPrefix(content, "---\n") {
		rest := content[len("---\n"):]
		end := strings.Index(rest, "\n---")
		if end < 0 {
			return nil, fmt.Errorf("unterminated frontmatter in %s", path)
		}
		if err := yaml.Unmarshal([]byte(rest[:end]), sk); err != nil {
			return nil, fmt.Errorf("frontmatter in %s: %w", path, err)
		}
		body := rest[end+len("\n---"):]
		body = strings.TrimPrefix(body, "\n")
		sk.Body = strings.TrimSpace(body)
	} else {
		sk.Body = strings.TrimSpace(content)
	}

	if sk.Body == "" {
		return nil, fmt.Errorf("skill %s has no body", path)
	}
	return sk, nil
}
