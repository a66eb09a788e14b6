package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Providers: ProvidersConfig{
			Default: "anthropic",
			Tiers: map[Tier]map[string]string{
				TierElite: {
					"anthropic": "claude-sonnet-4-5-20250929",
					"openai":    "gpt-4.1",
				},
				TierSpecialist: {
					"anthropic": "claude-sonnet-4-5-20250929",
					"openai":    "gpt-4.1-mini",
				},
				TierUtility: {
					"anthropic": "claude-3-5-haiku-20241022",
					"openai":    "gpt-4.1-nano",
				},
			},
			RateLimitRPM: 60,
		},
		Agent: AgentConfig{
			MaxIterations:   30,
			MaxTokens:       8192,
			Temperature:     0.7,
			ProviderTimeout: 120,
			MaxMessageChars: 32000,
			Workspace:       "~/.osa/workspace",
		},
		Context: ContextConfig{
			MaxContextTokens: 100000,
			ResponseReserve:  8192,
			Tier2BudgetPct:   0.40,
			Tier3BudgetPct:   0.30,
		},
		Classify: ClassifyConfig{
			LLMEnabled: true,
			CacheTTLS:  600,
		},
		Orch: OrchConfig{
			MaxAgents:     5,
			TaskTimeoutMS: 300000,
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18900,
		},
		Storage: StorageConfig{
			StateDir: "~/.osa",
		},
		Hooks: HooksConfig{
			PlanGateWeight:  0.8,
			InjectionAction: "warn",
		},
	}
}

// Load reads config from a JSON/JSON5 file, then overlays env vars.
// A missing file yields defaults, not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.applyDerivedPaths()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDerivedPaths()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("OSA_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("OSA_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("OSA_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("OSA_PROVIDER", &c.Providers.Default)
	envStr("OSA_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("OSA_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("OSA_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("OSA_WORKSPACE", &c.Agent.Workspace)
	envStr("OSA_STATE_DIR", &c.Storage.StateDir)
	envStr("OSA_HOST", &c.Gateway.Host)
	envStr("OSA_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("OSA_DB_MODE", &c.Database.Mode)

	if v := os.Getenv("OSA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	if v := os.Getenv("OSA_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Agent.MaxIterations = n
		}
	}
	if v := os.Getenv("OSA_CLASSIFIER_LLM"); v != "" {
		c.Classify.LLMEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("OSA_REQUIRE_AUTH"); v != "" {
		c.Gateway.RequireAuth = v == "true" || v == "1"
	}

	// Telemetry
	envStr("OSA_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("OSA_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("OSA_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("OSA_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("OSA_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	// Auto-enable channels when credentials arrive via env.
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
}

// applyDerivedPaths fills storage paths that default relative to StateDir.
func (c *Config) applyDerivedPaths() {
	state := ExpandHome(c.Storage.StateDir)
	if c.Storage.SessionsDir == "" {
		c.Storage.SessionsDir = filepath.Join(state, "sessions")
	} else {
		c.Storage.SessionsDir = ExpandHome(c.Storage.SessionsDir)
	}
	if c.Storage.MemoryFile == "" {
		c.Storage.MemoryFile = filepath.Join(state, "memory.md")
	} else {
		c.Storage.MemoryFile = ExpandHome(c.Storage.MemoryFile)
	}
	if c.Storage.SkillsDir == "" {
		c.Storage.SkillsDir = filepath.Join(state, "skills")
	} else {
		c.Storage.SkillsDir = ExpandHome(c.Storage.SkillsDir)
	}
	if c.Cron.DBPath == "" {
		c.Cron.DBPath = filepath.Join(state, "jobs.db")
	} else {
		c.Cron.DBPath = ExpandHome(c.Cron.DBPath)
	}
	if c.Security.InjectionAction == "" {
		c.Security.InjectionAction = c.Hooks.InjectionAction
	}
}

// Save writes the config to a JSON file with 0600 permissions
// (it may contain API keys).
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	path = ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	return ExpandHome(c.Agent.Workspace)
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
