package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/osahq/osa/internal/bus"
	"github.com/osahq/osa/pkg/protocol"
)

const keepAliveInterval = 30 * time.Second

// handleStream serves the per-session SSE feed: one frame per bus event
// touching the session, with a keep-alive comment every 30 seconds.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	// Owner check fails closed as not_found so probing reveals nothing.
	if st, ok := s.sessions.Get(sessionID); ok && st.UserID != "" {
		if r.Header.Get("X-User-ID") != st.UserID {
			s.writeError(w, http.StatusNotFound, errNotFound, "unknown session")
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errInternal, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: connected\ndata: {\"session_id\":%q}\n\n", sessionID)
	flusher.Flush()

	// Handlers run on bus workers; frames move to the writer goroutine
	// through a buffered channel. A slow client drops frames rather than
	// stalling the bus.
	type frame struct {
		event string
		data  []byte
	}
	frames := make(chan frame, 64)

	forward := func(event string, sid string, payload any) {
		if sid != "" && sid != sessionID {
			return
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		select {
		case frames <- frame{event: event, data: data}:
		default:
		}
	}

	subs := []bus.Subscription{
		s.events.Subscribe(protocol.TopicAgentResponse, func(topic string, p any) {
			if ap, ok := p.(protocol.AgentResponsePayload); ok {
				forward(topic, ap.SessionID, ap)
			}
		}, bus.Async),
		s.events.Subscribe(protocol.TopicToolCall, func(topic string, p any) {
			if tp, ok := p.(protocol.ToolCallPayload); ok {
				forward(topic, tp.SessionID, tp)
			}
		}, bus.Async),
		s.events.Subscribe(protocol.TopicLLMResponse, func(topic string, p any) {
			if lp, ok := p.(protocol.LLMResponsePayload); ok {
				forward(topic, lp.SessionID, lp)
			}
		}, bus.Async),
		s.events.Subscribe(protocol.TopicSystemEvent, func(topic string, p any) {
			if sp, ok := p.(protocol.SystemEventPayload); ok {
				sid, _ := sp.Fields["session_id"].(string)
				forward(sp.Event, sid, sp)
			}
		}, bus.Async),
	}
	defer func() {
		for _, sub := range subs {
			s.events.Unsubscribe(sub)
		}
	}()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case f := <-frames:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.event, f.data)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
