package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/osahq/osa/internal/agent"
	"github.com/osahq/osa/internal/orchestrator"
)

type orchestrateRequest struct {
	Input     string `json:"input"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Blocking  *bool  `json:"blocking,omitempty"`
}

func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	var req orchestrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidRequest, "malformed JSON body")
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		s.writeError(w, http.StatusBadRequest, errInvalidRequest, "input is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = "http-" + uuid.NewString()
	}

	blocking := req.Blocking == nil || *req.Blocking
	if blocking {
		s.orchestrateBlocking(w, r.Context(), req)
		return
	}

	// Non-blocking always goes through the orchestrator. Simple requests
	// become a single lead subtask so the caller still gets a task id.
	subtasks := s.orch.Analyze(r.Context(), req.Input)
	if len(subtasks) == 0 {
		subtasks = []orchestrator.SubTask{{
			Name:        "main",
			Description: req.Input,
			Role:        orchestrator.RoleLead,
		}}
	}
	taskID := s.orch.Execute(r.Context(), req.SessionID, req.Input, subtasks)
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id":    taskID,
		"session_id": req.SessionID,
		"status":     "running",
	})
}

func (s *Server) orchestrateBlocking(w http.ResponseWriter, ctx context.Context, req orchestrateRequest) {
	start := time.Now()
	out := s.loop.ProcessMessage(ctx, agent.Request{
		SessionID:    req.SessionID,
		Channel:      "http",
		UserID:       req.UserID,
		Text:         req.Input,
		PlanApproved: true, // no interactive approval on this surface
	})

	switch out.Kind {
	case agent.OutcomeError:
		status, tag := http.StatusInternalServerError, errInternal
		if errors.Is(out.Err, context.DeadlineExceeded) {
			status, tag = http.StatusGatewayTimeout, errTimeout
		}
		s.writeError(w, status, tag, out.Content)
	default:
		s.writeJSON(w, http.StatusOK, map[string]any{
			"session_id":   req.SessionID,
			"output":       out.Content,
			"signal":       out.Signal,
			"silent":       out.Silent,
			"iterations":   out.Iterations,
			"execution_ms": time.Since(start).Milliseconds(),
		})
	}
}

func (s *Server) handleTaskProgress(w http.ResponseWriter, r *http.Request) {
	snap, err := s.orch.Progress(r.PathValue("task_id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, errNotFound, "unknown task")
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

type classifyRequest struct {
	Message string `json:"message"`
	Channel string `json:"channel,omitempty"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidRequest, "malformed JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, errInvalidRequest, "message is required")
		return
	}
	channel := req.Channel
	if channel == "" {
		channel = "http"
	}
	sig := s.classify.Classify(r.Context(), req.Message, channel)
	s.writeJSON(w, http.StatusOK, map[string]any{"signal": sig})
}

// handleListTools lists the registry; "?q=" switches to ranked search
// and annotates each hit with its relevance.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	if query := strings.TrimSpace(r.URL.Query().Get("q")); query != "" {
		hits := s.tools.Search(query)
		list := make([]map[string]any, 0, len(hits))
		for _, h := range hits {
			list = append(list, map[string]any{
				"name":        h.Tool.Name(),
				"description": h.Tool.Description(),
				"parameters":  h.Tool.Parameters(),
				"relevance":   h.Relevance,
			})
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"tools": list, "count": len(list), "query": query})
		return
	}

	defs := s.tools.Defs()
	list := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		list = append(list, map[string]any{
			"name":        d.Function.Name,
			"description": d.Function.Description,
			"parameters":  d.Function.Parameters,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": list, "count": len(list)})
}

type executeToolRequest struct {
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.tools.Get(name); !ok {
		s.writeError(w, http.StatusNotFound, errNotFound, "unknown tool: "+name)
		return
	}

	var req executeToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidRequest, "malformed JSON body")
		return
	}

	result := s.tools.Execute(r.Context(), name, req.Arguments)
	if result.IsError {
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   errToolError,
			"details": result.ForLLM,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"tool":   name,
		"status": "ok",
		"result": result.ForLLM,
	})
}
