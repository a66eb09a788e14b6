// Package config holds the runtime configuration: provider credentials,
// model tiers, agent-loop limits, channel toggles, and storage paths.
// Config is loaded from ~/.osa/config.json (JSON5 accepted) with OSA_*
// environment overrides layered on top.
package config

import (
	"sync"
	"time"
)

// Tier is a model-class routing key used to pick the concrete model for a
// given role without naming one.
type Tier string

const (
	TierElite      Tier = "elite"
	TierSpecialist Tier = "specialist"
	TierUtility    Tier = "utility"
)

// Config is the root configuration object.
type Config struct {
	mu sync.RWMutex `json:"-"`

	Providers ProvidersConfig `json:"providers"`
	Agent     AgentConfig     `json:"agent"`
	Context   ContextConfig   `json:"context"`
	Classify  ClassifyConfig  `json:"classifier"`
	Orch      OrchConfig      `json:"orchestrator"`
	Gateway   GatewayConfig   `json:"gateway"`
	Channels  ChannelsConfig  `json:"channels"`
	Storage   StorageConfig   `json:"storage"`
	Hooks     HooksConfig     `json:"hooks"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Database  DatabaseConfig  `json:"database"`
	Cron      CronConfig      `json:"cron"`
	Security  SecurityConfig  `json:"security"`

	MCP map[string]MCPServerConfig `json:"mcp,omitempty"`
}

// ProvidersConfig holds per-provider credentials and the tier→model map.
type ProvidersConfig struct {
	Default    string        `json:"default"` // "anthropic", "openai", ...
	Anthropic  ProviderCreds `json:"anthropic"`
	OpenAI     ProviderCreds `json:"openai"`
	OpenRouter ProviderCreds `json:"openrouter"`
	// Tiers maps tier name → model name per provider id:
	// tiers[tier][provider_id] = model_name.
	Tiers map[Tier]map[string]string `json:"tiers,omitempty"`
	// RateLimitRPM bounds requests per minute per provider (0 = unlimited).
	RateLimitRPM int `json:"rate_limit_rpm,omitempty"`
}

// ProviderCreds is one provider's API access configuration.
type ProviderCreds struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"` // default model override
}

// AgentConfig bounds the ReAct loop.
type AgentConfig struct {
	MaxIterations   int     `json:"max_iterations"`   // provider calls per message
	MaxTokens       int     `json:"max_tokens"`       // per-response token cap
	Temperature     float64 `json:"temperature"`
	ProviderTimeout int     `json:"provider_timeout_s"` // per provider call
	MaxMessageChars int     `json:"max_message_chars"`  // inbound size limit
	Workspace       string  `json:"workspace"`
}

// ContextConfig drives the Context Assembler and Compactor.
type ContextConfig struct {
	MaxContextTokens int     `json:"max_context_tokens"`
	ResponseReserve  int     `json:"response_reserve"`
	Tier2BudgetPct   float64 `json:"tier2_budget_pct"`
	Tier3BudgetPct   float64 `json:"tier3_budget_pct"`
}

// ClassifyConfig drives the Signal Classifier.
type ClassifyConfig struct {
	LLMEnabled bool `json:"llm_enabled"`
	CacheTTLS  int  `json:"cache_ttl_s"`
}

// OrchConfig drives the multi-agent Orchestrator.
type OrchConfig struct {
	MaxAgents     int `json:"max_agents"`
	TaskTimeoutMS int `json:"task_timeout_ms"`
}

// GatewayConfig drives the HTTP surface.
type GatewayConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	RequireAuth bool   `json:"require_auth"`
	Token       string `json:"token,omitempty"`
}

// ChannelsConfig enables/configures channel adapters.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

// TelegramConfig configures the Telegram long-polling adapter.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token,omitempty"`
	AllowFrom []string `json:"allow_from,omitempty"`
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token,omitempty"`
	AllowFrom []string `json:"allow_from,omitempty"`
}

// StorageConfig sets the persisted-state layout under ~/.osa.
type StorageConfig struct {
	StateDir    string `json:"state_dir"`    // default ~/.osa
	SessionsDir string `json:"sessions_dir"` // default <state_dir>/sessions
	MemoryFile  string `json:"memory_file"`  // default <state_dir>/memory.md
	SkillsDir   string `json:"skills_dir"`   // default <state_dir>/skills
}

// HooksConfig tunes the built-in hook policies.
type HooksConfig struct {
	// PlanGateWeight is the minimum signal weight that forces plan mode
	// for BUILD/EXECUTE/MAINTAIN signals. 0 disables the gate.
	PlanGateWeight float64 `json:"plan_gate_weight"`
	// InjectionAction: "log", "warn" (default), "block", "off".
	InjectionAction string `json:"injection_action"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" or "http"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// DatabaseConfig selects the durable session backend.
type DatabaseConfig struct {
	// Mode: "file" (default, JSONL per session) or "postgres".
	Mode        string `json:"mode,omitempty"`
	PostgresDSN string `json:"-"` // env only, never persisted
}

// CronConfig drives the scheduled-job runner.
type CronConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"db_path,omitempty"` // default <state_dir>/jobs.db
}

// MCPServerConfig describes one remote MCP tool server.
type MCPServerConfig struct {
	Enabled    bool              `json:"enabled"`
	Transport  string            `json:"transport"` // "stdio", "sse", "streamable-http"
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	ToolPrefix string            `json:"tool_prefix,omitempty"`
	TimeoutSec int               `json:"timeout_s,omitempty"`
}

// SecurityConfig tunes inbound message guards.
type SecurityConfig struct {
	// InjectionAction mirrors Hooks.InjectionAction for the input guard.
	InjectionAction string `json:"injection_action,omitempty"`
}

// CacheTTL returns the classifier cache TTL as a duration.
func (c *ClassifyConfig) CacheTTL() time.Duration {
	if c.CacheTTLS <= 0 {
		return 600 * time.Second
	}
	return time.Duration(c.CacheTTLS) * time.Second
}

// TaskTimeout returns the orchestrator task timeout as a duration.
func (c *OrchConfig) TaskTimeout() time.Duration {
	if c.TaskTimeoutMS <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.TaskTimeoutMS) * time.Millisecond
}

// ModelFor resolves (tier, provider) → model name. Empty when unmapped.
func (p *ProvidersConfig) ModelFor(tier Tier, providerID string) string {
	if p.Tiers == nil {
		return ""
	}
	return p.Tiers[tier][providerID]
}
