package providers

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/osahq/osa/internal/config"
	"github.com/osahq/osa/internal/tracing"
)

// Registry holds the configured providers and the tier→model routing map.
// Callers request chats by provider id (or the default) and optionally by
// tier instead of naming a model.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	defaultID string
	tiers     map[config.Tier]map[string]string
	limiters  map[string]*rate.Limiter
	rpm       int
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		tiers:     make(map[config.Tier]map[string]string),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// FromConfig builds a registry from provider credentials and tier maps.
func FromConfig(cfg *config.Config) *Registry {
	r := NewRegistry()
	r.rpm = cfg.Providers.RateLimitRPM

	if key := cfg.Providers.Anthropic.APIKey; key != "" {
		r.Register(NewAnthropicProvider(key,
			WithAnthropicModel(cfg.Providers.Anthropic.Model),
			WithAnthropicBaseURL(cfg.Providers.Anthropic.BaseURL),
		))
	}
	if key := cfg.Providers.OpenAI.APIKey; key != "" {
		r.Register(NewOpenAIProvider(key,
			WithOpenAIModel(cfg.Providers.OpenAI.Model),
			WithOpenAIBaseURL(cfg.Providers.OpenAI.BaseURL),
		))
	}
	if key := cfg.Providers.OpenRouter.APIKey; key != "" {
		r.Register(NewOpenAIProvider(key,
			WithOpenAIName("openrouter"),
			WithOpenAIModel(cfg.Providers.OpenRouter.Model),
			WithOpenAIBaseURL(defaultString(cfg.Providers.OpenRouter.BaseURL, "https://openrouter.ai/api/v1")),
		))
	}

	r.SetDefault(cfg.Providers.Default)
	for tier, m := range cfg.Providers.Tiers {
		r.SetTier(tier, m)
	}
	return r
}

func defaultString(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// Register adds a provider, replacing any prior one with the same name.
// The first registered provider becomes the default until SetDefault.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	if r.defaultID == "" {
		r.defaultID = p.Name()
	}
	if r.rpm > 0 {
		r.limiters[p.Name()] = rate.NewLimiter(rate.Limit(float64(r.rpm)/60.0), r.rpm)
	}
}

// SetDefault selects the default provider id. Unknown ids are kept so a
// later Register can satisfy them.
func (r *Registry) SetDefault(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	r.defaultID = id
	r.mu.Unlock()
}

// SetTier installs a tier→model mapping: map[provider_id]model_name.
func (r *Registry) SetTier(tier config.Tier, models map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := make(map[string]string, len(models))
	for k, v := range models {
		m[k] = v
	}
	r.tiers[tier] = m
}

// Get returns a provider by id; empty id resolves the default.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == "" {
		id = r.defaultID
	}
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", id)
	}
	return p, nil
}

// Default returns the default provider.
func (r *Registry) Default() (Provider, error) {
	return r.Get("")
}

// Names lists registered provider ids.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	return out
}

// ModelForTier resolves the model name for (tier, provider id).
// Empty provider id resolves against the default provider.
func (r *Registry) ModelForTier(tier config.Tier, providerID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if providerID == "" {
		providerID = r.defaultID
	}
	return r.tiers[tier][providerID]
}

// ChatOpts selects the provider, model, and sampling options for Chat.
type ChatOpts struct {
	ProviderID  string
	Model       string      // explicit model; overrides Tier
	Tier        config.Tier // tier-based model selection
	MaxTokens   int
	Temperature float64
}

// Chat routes a chat request through the selected provider, applying rate
// limiting and tool-call normalization. Providers that embed a tool call
// in free-form content get a single best-effort extraction pass.
func (r *Registry) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, opts ChatOpts) (*ChatResponse, error) {
	p, err := r.Get(opts.ProviderID)
	if err != nil {
		return nil, err
	}

	if lim := r.limiterFor(p.Name()); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	model := opts.Model
	if model == "" && opts.Tier != "" {
		model = r.ModelForTier(opts.Tier, p.Name())
	}

	ctx, span := tracing.StartProviderSpan(ctx, p.Name(), model)
	resp, err := p.Chat(ctx, ChatRequest{
		Messages:    messages,
		Tools:       tools,
		Model:       model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}

	normalizeResponse(resp, tools)
	return resp, nil
}

func (r *Registry) limiterFor(name string) *rate.Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[name]
}
