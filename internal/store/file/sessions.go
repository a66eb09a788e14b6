// Package file implements store.SessionStore as one JSONL file per session
// under the sessions directory: one JSON message per line, append-only.
package file

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/osahq/osa/internal/providers"
)

// SessionStore is the JSONL-backed reference store.
type SessionStore struct {
	dir string
	mu  sync.Mutex
}

// New creates the store, ensuring the directory exists.
func New(dir string) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &SessionStore{dir: dir}, nil
}

func (s *SessionStore) path(sessionID string) string {
	return filepath.Join(s.dir, sanitizeID(sessionID)+".jsonl")
}

// sanitizeID makes a session id safe for use as a file name.
func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (s *SessionStore) Append(sessionID string, msg providers.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	f, err := os.OpenFile(s.path(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append session log: %w", err)
	}
	return nil
}

func (s *SessionStore) Recall(sessionID string) ([]providers.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	var msgs []providers.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg providers.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			// A torn tail line from a crashed append is skipped, not fatal.
			continue
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return msgs, fmt.Errorf("scan session log: %w", err)
	}
	return msgs, nil
}

func (s *SessionStore) Rewrite(sessionID string, msgs []providers.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf strings.Builder
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	tmp := s.path(sessionID) + ".tmp"
	if err := os.WriteFile(tmp, []byte(buf.String()), 0644); err != nil {
		return fmt.Errorf("write session log: %w", err)
	}
	return os.Rename(tmp, s.path(sessionID))
}

func (s *SessionStore) Close() error { return nil }
