package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osahq/osa/internal/agent"
	"github.com/osahq/osa/internal/bus"
	"github.com/osahq/osa/internal/config"
	"github.com/osahq/osa/internal/contextkit"
	"github.com/osahq/osa/internal/hooks"
	"github.com/osahq/osa/internal/orchestrator"
	"github.com/osahq/osa/internal/progress"
	"github.com/osahq/osa/internal/providers"
	"github.com/osahq/osa/internal/sessions"
	"github.com/osahq/osa/internal/signal"
	"github.com/osahq/osa/internal/tools"
	"github.com/osahq/osa/pkg/protocol"
)

type staticLLM struct {
	content string
}

func (s *staticLLM) Chat(ctx context.Context, msgs []providers.Message, defs []providers.ToolDefinition, opts providers.ChatOpts) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: s.content, FinishReason: "stop"}, nil
}

func newTestServer(t *testing.T, cfg config.GatewayConfig) (*Server, *bus.Bus) {
	t.Helper()

	llm := &staticLLM{content: "stub answer"}
	events := bus.New(2)
	t.Cleanup(events.Close)

	reg := sessions.NewRegistry(nil)
	toolReg := tools.NewRegistry(nil)
	toolReg.Register(tools.NewEchoTool())

	appCfg := config.Default()
	est := contextkit.NewEstimator()
	loop := agent.New(agent.Config{
		LLM:       llm,
		Sessions:  reg,
		Assembler: contextkit.NewAssembler(est, appCfg.Context, "", t.TempDir()),
		Hooks:     hooks.NewPipeline(nil),
		Tools:     toolReg,
		Events:    events,
		Agent:     appCfg.Agent,
		HooksCfg:  config.HooksConfig{InjectionAction: agent.GuardOff},
	})

	srv := NewServer(cfg, Deps{
		Loop:       loop,
		Orch:       orchestrator.New(llm, toolReg, events, appCfg.Orch, nil),
		Classifier: signal.NewClassifier(nil, appCfg.Classify),
		Tools:      toolReg,
		Sessions:   reg,
		Tracker:    progress.NewTracker(events),
		Events:     events,
	})
	return srv, events
}

func doJSON(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, config.GatewayConfig{})
	rec := doJSON(t, srv.BuildMux(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t, config.GatewayConfig{RequireAuth: true, Token: "secret"})
	mux := srv.BuildMux()

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/tools", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "unauthorized")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tools", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOrchestrateBlocking(t *testing.T) {
	srv, _ := newTestServer(t, config.GatewayConfig{})
	rec := doJSON(t, srv.BuildMux(), http.MethodPost, "/api/v1/orchestrate",
		`{"input": "what time is it", "session_id": "s1"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "s1", body["session_id"])
	assert.Equal(t, "stub answer", body["output"])
	assert.Contains(t, body, "execution_ms")
}

func TestOrchestrateNonBlocking(t *testing.T) {
	srv, _ := newTestServer(t, config.GatewayConfig{})
	mux := srv.BuildMux()

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/orchestrate",
		`{"input": "do a thing", "blocking": false}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body["status"])
	taskID, _ := body["task_id"].(string)
	require.NotEmpty(t, taskID)

	// The progress endpoint must know the task immediately.
	rec = doJSON(t, mux, http.MethodGet, "/api/v1/orchestrate/"+taskID+"/progress", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOrchestrateValidation(t *testing.T) {
	srv, _ := newTestServer(t, config.GatewayConfig{})
	mux := srv.BuildMux()

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/orchestrate", `{"input": "  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/v1/orchestrate", `{bad json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTaskProgressNotFound(t *testing.T) {
	srv, _ := newTestServer(t, config.GatewayConfig{})
	rec := doJSON(t, srv.BuildMux(), http.MethodGet, "/api/v1/orchestrate/ghost/progress", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestClassify(t *testing.T) {
	srv, _ := newTestServer(t, config.GatewayConfig{})
	rec := doJSON(t, srv.BuildMux(), http.MethodPost, "/api/v1/classify",
		`{"message": "please deploy the new build to production now"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Signal signal.Signal `json:"signal"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Signal.Mode)
	assert.GreaterOrEqual(t, body.Signal.Weight, 0.0)
	assert.LessOrEqual(t, body.Signal.Weight, 1.0)
}

func TestListTools(t *testing.T) {
	srv, _ := newTestServer(t, config.GatewayConfig{})
	rec := doJSON(t, srv.BuildMux(), http.MethodGet, "/api/v1/tools", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Tools []map[string]any `json:"tools"`
		Count int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "echo", body.Tools[0]["name"])
}

func TestListToolsRankedSearch(t *testing.T) {
	srv, _ := newTestServer(t, config.GatewayConfig{})
	srv.tools.Register(&failingTool{})

	rec := doJSON(t, srv.BuildMux(), http.MethodGet, "/api/v1/tools?q=echo", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Tools []map[string]any `json:"tools"`
		Count int              `json:"count"`
		Query string           `json:"query"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "echo", body.Query)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "echo", body.Tools[0]["name"])
	assert.Equal(t, 1.0, body.Tools[0]["relevance"])
}

func TestExecuteTool(t *testing.T) {
	srv, _ := newTestServer(t, config.GatewayConfig{})
	mux := srv.BuildMux()

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/tools/echo/execute",
		`{"arguments": {"text": "bounce"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bounce")

	rec = doJSON(t, mux, http.MethodPost, "/api/v1/tools/ghost/execute", `{"arguments": {}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteToolSemanticFailure(t *testing.T) {
	srv, _ := newTestServer(t, config.GatewayConfig{})
	srv.tools.Register(&failingTool{})

	rec := doJSON(t, srv.BuildMux(), http.MethodPost, "/api/v1/tools/fail/execute",
		`{"arguments": {}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "tool_error")
}

type failingTool struct{}

func (f *failingTool) Name() string                { return "fail" }
func (f *failingTool) Description() string         { return "always fails" }
func (f *failingTool) Parameters() map[string]any  { return map[string]any{"type": "object"} }
func (f *failingTool) Execute(context.Context, map[string]any) *tools.Result {
	return tools.ErrorResult("deliberate failure")
}

func TestStreamConnectedAndEvents(t *testing.T) {
	srv, events := newTestServer(t, config.GatewayConfig{})
	httpSrv := httptest.NewServer(srv.BuildMux())
	defer httpSrv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpSrv.URL+"/api/v1/stream/s1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected", strings.TrimSpace(line))

	// Give the subscription time to attach, then publish.
	time.Sleep(50 * time.Millisecond)
	events.Emit(protocol.TopicAgentResponse, protocol.AgentResponsePayload{
		SessionID: "s1", Response: "streamed",
	})

	var saw bool
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if strings.Contains(line, "streamed") {
			saw = true
			break
		}
	}
	assert.True(t, saw, "bus event must reach the SSE stream")
}

func TestStreamOwnerMismatch(t *testing.T) {
	srv, _ := newTestServer(t, config.GatewayConfig{})
	st := srv.sessions.Ensure("owned")
	st.UserID = "alice"

	rec := doJSON(t, srv.BuildMux(), http.MethodGet, "/api/v1/stream/owned", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "owner mismatch fails closed as not_found")
}
