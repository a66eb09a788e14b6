package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/osahq/osa/internal/config"
	"github.com/osahq/osa/internal/tools"
)

const (
	healthCheckInterval = 30 * time.Second
	defaultCallTimeout  = 60 * time.Second
)

// ServerStatus reports the connection status of one MCP server.
type ServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"tool_count"`
	Error     string `json:"error,omitempty"`
}

type serverState struct {
	name      string
	transport string
	client    *mcpclient.Client
	connected atomic.Bool
	toolNames []string
	cancel    context.CancelFunc

	mu      sync.Mutex
	lastErr string
}

// Manager connects configured MCP servers and registers their tools.
type Manager struct {
	mu       sync.RWMutex
	servers  map[string]*serverState
	registry *tools.Registry
	configs  map[string]config.MCPServerConfig
	log      *slog.Logger
}

func NewManager(registry *tools.Registry, configs map[string]config.MCPServerConfig, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		servers:  make(map[string]*serverState),
		registry: registry,
		configs:  configs,
		log:      log,
	}
}

// Start connects every enabled server. Individual failures are logged
// and skipped so one bad server never blocks startup.
func (m *Manager) Start(ctx context.Context) error {
	var errs []string
	for name, cfg := range m.configs {
		if !cfg.Enabled {
			continue
		}
		if err := m.connect(ctx, name, cfg); err != nil {
			m.log.Warn("mcp server connect failed", "server", name, "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("some MCP servers failed to connect: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Stop closes every connection and unregisters the bridged tools.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, ss := range m.servers {
		if ss.cancel != nil {
			ss.cancel()
		}
		if ss.client != nil {
			if err := ss.client.Close(); err != nil {
				m.log.Debug("mcp server close failed", "server", name, "error", err)
			}
		}
		for _, tool := range ss.toolNames {
			m.registry.Unregister(tool)
		}
	}
	m.servers = make(map[string]*serverState)
}

// Status returns the state of every connected server.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerStatus, 0, len(m.servers))
	for _, ss := range m.servers {
		ss.mu.Lock()
		lastErr := ss.lastErr
		ss.mu.Unlock()
		out = append(out, ServerStatus{
			Name:      ss.name,
			Transport: ss.transport,
			Connected: ss.connected.Load(),
			ToolCount: len(ss.toolNames),
			Error:     lastErr,
		})
	}
	return out
}

func (m *Manager) connect(ctx context.Context, name string, cfg config.MCPServerConfig) error {
	client, err := newClient(cfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	// stdio transports start on creation, the network ones need Start.
	if cfg.Transport != "stdio" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "osa", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	timeout := defaultCallTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	ss := &serverState{name: name, transport: cfg.Transport, client: client}
	ss.connected.Store(true)

	for _, def := range listed.Tools {
		bridge := NewBridgeTool(name, def, client, cfg.ToolPrefix, timeout, &ss.connected)
		if _, exists := m.registry.Get(bridge.Name()); exists {
			m.log.Warn("mcp tool name collision, skipped", "server", name, "tool", bridge.Name())
			continue
		}
		m.registry.Register(bridge)
		ss.toolNames = append(ss.toolNames, bridge.Name())
	}

	hctx, hcancel := context.WithCancel(context.Background())
	ss.cancel = hcancel
	go m.healthLoop(hctx, ss)

	m.mu.Lock()
	m.servers[name] = ss
	m.mu.Unlock()

	m.log.Info("mcp server connected",
		"server", name, "transport", cfg.Transport, "tools", len(ss.toolNames))
	return nil
}

func newClient(cfg config.MCPServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case "stdio":
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		return mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(cfg.Headers))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)
	case "streamable-http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// healthLoop pings the server periodically and flips the connected flag
// the bridge tools consult before each call.
func (m *Manager) healthLoop(ctx context.Context, ss *serverState) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := ss.client.Ping(ctx)
			if err != nil && !strings.Contains(strings.ToLower(err.Error()), "method not found") {
				// Servers without "ping" support are still alive.
				ss.connected.Store(false)
				ss.mu.Lock()
				ss.lastErr = err.Error()
				ss.mu.Unlock()
				m.log.Warn("mcp server health check failed", "server", ss.name, "error", err)
				continue
			}
			if !ss.connected.Swap(true) {
				m.log.Info("mcp server recovered", "server", ss.name)
			}
			ss.mu.Lock()
			ss.lastErr = ""
			ss.mu.Unlock()
		}
	}
}
