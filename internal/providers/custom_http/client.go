package custom_http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"personabot/internal/providers"
)

// ErrMissingEndpoint is returned before any network call when no URL is configured.
var ErrMissingEndpoint = errors.New("custom provider requires llm.endpoint")

type Config struct {
	URL         string
	APIKey      string
	Headers     map[string]string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
	Logger      zerolog.Logger
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 400 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{cfg: cfg}
}

var _ providers.Provider = (*Client)(nil)

type payload struct {
	Model        string              `json:"model"`
	SystemPrompt string              `json:"system_prompt"`
	UserMessage  string              `json:"user_message"`
	ChatHistory  []providers.Message `json:"chat_history"`
	MaxTokens    int                 `json:"max_tokens"`
	Temperature  float64             `json:"temperature"`
}

func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	if strings.TrimSpace(c.cfg.URL) == "" {
		c.cfg.Logger.Error().Str("provider", "custom").Msg("custom provider endpoint is not configured")
		return providers.ChatResponse{}, ErrMissingEndpoint
	}

	history := providers.BuildMessages(req.History, req.UserMessage)
	body, err := json.Marshal(payload{
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		UserMessage:  req.UserMessage,
		ChatHistory:  history[:len(history)-1],
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
	})
	if err != nil {
		return providers.ChatResponse{}, fmt.Errorf("custom: marshal payload: %w", err)
	}

	var out providers.ChatResponse
	err = providers.Retry(ctx, c.cfg.MaxRetries, c.cfg.BackoffBase, func() (bool, error) {
		raw, retry, err := providers.PostJSON(ctx, c.cfg.HTTPClient, c.cfg.URL, c.headers(), body)
		if err != nil {
			return retry, err
		}
		out, err = extractResponse(raw)
		return false, err
	})
	if err != nil {
		c.cfg.Logger.Error().Err(err).Str("provider", "custom").Msg("custom request failed")
		return providers.ChatResponse{}, fmt.Errorf("custom: %w", err)
	}
	return out, nil
}

func (c *Client) headers() map[string]string {
	h := map[string]string{}
	if strings.TrimSpace(c.cfg.APIKey) != "" {
		h["Authorization"] = "Bearer " + c.cfg.APIKey
	}
	for k, v := range c.cfg.Headers {
		h[k] = strings.ReplaceAll(v, "{{api_key}}", c.cfg.APIKey)
	}
	return h
}

func extractResponse(body []byte) (providers.ChatResponse, error) {
	var simple map[string]any
	if err := json.Unmarshal(body, &simple); err != nil {
		return providers.ChatResponse{}, fmt.Errorf("decode custom response: %w", err)
	}

	text, ok := "", false
	for _, key := range []string{"text", "response", "content"} {
		if v, found := simple[key].(string); found && v != "" {
			text, ok = v, true
			break
		}
	}
	if !ok {
		return providers.ChatResponse{}, fmt.Errorf("custom response does not contain text field")
	}

	return providers.ChatResponse{Text: text, Usage: extractUsage(simple["usage"])}, nil
}

// extractUsage passes a usage object through, accepting snake or camel case keys.
func extractUsage(v any) *providers.Usage {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	pick := func(keys ...string) *int {
		for _, k := range keys {
			if n, ok := m[k].(float64); ok {
				return providers.Int(int(n))
			}
		}
		return nil
	}
	return &providers.Usage{
		PromptTokens:     pick("prompt_tokens", "promptTokens"),
		CompletionTokens: pick("completion_tokens", "completionTokens"),
		TotalTokens:      pick("total_tokens", "totalTokens"),
	}
}
