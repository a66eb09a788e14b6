package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIModel = "gpt-4.1"
	openAIAPIBase      = "https://api.openai.com/v1"
)

// OpenAIProvider implements Provider for the OpenAI Chat Completions API
// and any OpenAI-compatible endpoint (OpenRouter, local inference servers)
// selected via base URL.
type OpenAIProvider struct {
	name         string
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

// NewOpenAIProvider creates a new OpenAI-compatible provider.
func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		name:         "openai",
		apiKey:       apiKey,
		baseURL:      openAIAPIBase,
		defaultModel: defaultOpenAIModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type OpenAIOption func(*OpenAIProvider)

func WithOpenAIModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) {
		if model != "" {
			p.defaultModel = model
		}
	}
}

func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(p *OpenAIProvider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithOpenAIName rebrands the provider id for compatible endpoints
// (e.g. "openrouter").
func WithOpenAIName(name string) OpenAIOption {
	return func(p *OpenAIProvider) {
		if name != "" {
			p.name = name
		}
	}
}

func WithOpenAITimeout(d time.Duration) OpenAIOption {
	return func(p *OpenAIProvider) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body := p.buildRequestBody(model, req)

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		respBody, err := p.doRequest(ctx, body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var resp openAIResponse
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
		}
		return p.parseResponse(&resp)
	})
}

func (p *OpenAIProvider) buildRequestBody(model string, req ChatRequest) map[string]any {
	var messages []map[string]any
	for _, msg := range req.Messages {
		m := map[string]any{"role": msg.Role, "content": msg.Content}
		if len(msg.ToolCalls) > 0 {
			var calls []map[string]any
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				calls = append(calls, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": string(args),
					},
				})
			}
			m["tool_calls"] = calls
		}
		if msg.ToolCallID != "" {
			m["tool_call_id"] = msg.ToolCallID
		}
		messages = append(messages, m)
	}

	body := map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
	}
	return body
}

func (p *OpenAIProvider) doRequest(ctx context.Context, body map[string]any) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Retryable(fmt.Errorf("%s: request failed: %w", p.name, err))
	}

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		msg := string(errBody)

		if resp.StatusCode == http.StatusBadRequest && looksLikeOpenAIOverflow(msg) {
			return nil, fmt.Errorf("%s: %s: %w", p.name, truncate(msg, 200), ErrContextOverflow)
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, Retryable(fmt.Errorf("%s: HTTP %d: %s", p.name, resp.StatusCode, truncate(msg, 200)))
		}
		return nil, fmt.Errorf("%s: HTTP %d: %s", p.name, resp.StatusCode, truncate(msg, 200))
	}

	return resp.Body, nil
}

func looksLikeOpenAIOverflow(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "context_length_exceeded") ||
		strings.Contains(lower, "maximum context length")
}

func (p *OpenAIProvider) parseResponse(resp *openAIResponse) (*ChatResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty choices in response", p.name)
	}
	choice := resp.Choices[0]

	out := &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
	}
	if out.FinishReason == "" {
		out.FinishReason = "stop"
	}

	for _, tc := range choice.Message.ToolCalls {
		args := make(map[string]any)
		if tc.Function.Arguments != "" {
			// Malformed argument JSON becomes an empty object; the tool's
			// schema validation hook reports the problem to the model.
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	if resp.Usage != nil {
		out.Usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// Wire types for the Chat Completions API.

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage,omitempty"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
