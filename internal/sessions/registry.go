package sessions

import (
	"log/slog"
	"sync"

	"github.com/osahq/osa/internal/providers"
	"github.com/osahq/osa/internal/store"
)

// Registry maps session ids to live State, creating lazily and restoring
// history from the durable store on first touch. Ensure is race-free:
// exactly one State exists per id.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*State
	store    store.SessionStore
	onClose  func(*State)
}

// NewRegistry creates a session registry over a durable store.
// store may be nil (memory only, tests).
func NewRegistry(st store.SessionStore) *Registry {
	return &Registry{
		sessions: make(map[string]*State),
		store:    st,
	}
}

// Ensure returns the State for id, creating and restoring it if needed.
func (r *Registry) Ensure(id string) *State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s
	}

	s := newState(id)
	if r.store != nil {
		msgs, err := r.store.Recall(id)
		if err != nil {
			slog.Warn("sessions: restore failed", "session", id, "error", err)
		} else if len(msgs) > 0 {
			s.messages = msgs
		}
	}
	r.sessions[id] = s
	return s
}

// Get returns the State for id without creating it.
func (r *Registry) Get(id string) (*State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// SetOnClose installs a callback invoked for each session Close or
// CloseAll evicts. The runtime uses it to fire session_end hooks.
func (r *Registry) SetOnClose(fn func(*State)) {
	r.mu.Lock()
	r.onClose = fn
	r.mu.Unlock()
}

// Close evicts a session from memory. The durable log survives.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	fn := r.onClose
	r.mu.Unlock()
	if ok && fn != nil {
		fn(s)
	}
}

// CloseAll evicts every live session, firing the close callback for
// each. Called on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	evicted := make([]*State, 0, len(r.sessions))
	for id, s := range r.sessions {
		evicted = append(evicted, s)
		delete(r.sessions, id)
	}
	fn := r.onClose
	r.mu.Unlock()
	if fn == nil {
		return
	}
	for _, s := range evicted {
		fn(s)
	}
}

// Persist appends a message to both the live state and the durable store.
func (r *Registry) Persist(s *State, msg providers.Message) {
	s.Append(msg)
	if r.store != nil {
		if err := r.store.Append(s.ID, msg); err != nil {
			slog.Warn("sessions: durable append failed", "session", s.ID, "error", err)
		}
	}
}

// RewriteHistory replaces both live and durable history (compaction).
func (r *Registry) RewriteHistory(s *State, msgs []providers.Message) {
	s.SetMessages(msgs)
	if r.store != nil {
		if err := r.store.Rewrite(s.ID, msgs); err != nil {
			slog.Warn("sessions: durable rewrite failed", "session", s.ID, "error", err)
		}
	}
}

// List returns the live session ids.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}
