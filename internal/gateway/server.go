// Package gateway is the HTTP surface: orchestration, classification,
// direct tool execution, progress snapshots, and an SSE stream of bus
// events per session.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/osahq/osa/internal/agent"
	"github.com/osahq/osa/internal/bus"
	"github.com/osahq/osa/internal/config"
	"github.com/osahq/osa/internal/orchestrator"
	"github.com/osahq/osa/internal/progress"
	"github.com/osahq/osa/internal/sessions"
	"github.com/osahq/osa/internal/signal"
	"github.com/osahq/osa/internal/tools"
)

// Error envelope tags.
const (
	errInvalidRequest = "invalid_request"
	errUnauthorized   = "unauthorized"
	errNotFound       = "not_found"
	errToolError      = "tool_error"
	errTimeout        = "timeout"
	errInternal       = "internal"
)

// Server hosts the HTTP API.
type Server struct {
	cfg      config.GatewayConfig
	loop     *agent.Loop
	orch     *orchestrator.Orchestrator
	classify *signal.Classifier
	tools    *tools.Registry
	sessions *sessions.Registry
	tracker  *progress.Tracker
	events   *bus.Bus
	log      *slog.Logger

	httpServer *http.Server
	mux        *http.ServeMux
}

// Deps collects the server's collaborators.
type Deps struct {
	Loop       *agent.Loop
	Orch       *orchestrator.Orchestrator
	Classifier *signal.Classifier
	Tools      *tools.Registry
	Sessions   *sessions.Registry
	Tracker    *progress.Tracker
	Events     *bus.Bus
	Logger     *slog.Logger
}

func NewServer(cfg config.GatewayConfig, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		loop:     deps.Loop,
		orch:     deps.Orch,
		classify: deps.Classifier,
		tools:    deps.Tools,
		sessions: deps.Sessions,
		tracker:  deps.Tracker,
		events:   deps.Events,
		log:      log,
	}
}

// BuildMux registers all routes and caches the mux.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/orchestrate", s.auth(s.handleOrchestrate))
	mux.HandleFunc("GET /api/v1/orchestrate/{task_id}/progress", s.auth(s.handleTaskProgress))
	mux.HandleFunc("GET /api/v1/stream/{session_id}", s.auth(s.handleStream))
	mux.HandleFunc("POST /api/v1/classify", s.auth(s.handleClassify))
	mux.HandleFunc("GET /api/v1/tools", s.auth(s.handleListTools))
	mux.HandleFunc("POST /api/v1/tools/{name}/execute", s.auth(s.handleExecuteTool))

	s.mux = mux
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.log.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// auth enforces the bearer token when require_auth is set.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	if !s.cfg.RequireAuth {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || s.cfg.Token == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
			s.writeError(w, http.StatusUnauthorized, errUnauthorized, "missing or invalid token")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Debug("response write failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, tag, details string) {
	s.writeJSON(w, status, map[string]string{"error": tag, "details": details})
}
