package channels

import "sync"

// PlanGate remembers, per chat, the request that produced a pending plan
// so that an approval reply can resume it.
type PlanGate struct {
	mu      sync.Mutex
	pending map[string]string // chat key → original request text
}

func NewPlanGate() *PlanGate {
	return &PlanGate{pending: make(map[string]string)}
}

// Offer records text as the pending request for key.
func (g *PlanGate) Offer(key, text string) {
	g.mu.Lock()
	g.pending[key] = text
	g.mu.Unlock()
}

// Claim returns the pending request for key and clears it.
func (g *PlanGate) Claim(key string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	text, ok := g.pending[key]
	if ok {
		delete(g.pending, key)
	}
	return text, ok
}

// Clear drops any pending request for key.
func (g *PlanGate) Clear(key string) {
	g.mu.Lock()
	delete(g.pending, key)
	g.mu.Unlock()
}
