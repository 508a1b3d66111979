package openai_compat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"personabot/internal/providers"
)

const (
	DefaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"
	DefaultGrokEndpoint   = "https://api.x.ai/v1/chat/completions"
)

type Config struct {
	// Name tags log lines and errors, e.g. "openai" or "grok".
	Name        string
	Endpoint    string
	APIKey      string
	Headers     map[string]string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
	Logger      zerolog.Logger
}

// Client speaks the OpenAI chat completions dialect used by openai and grok.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultOpenAIEndpoint
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

func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	body, endpointURL, err := c.buildPayload(req)
	if err != nil {
		return providers.ChatResponse{}, fmt.Errorf("%s: %w", c.cfg.Name, err)
	}

	var out providers.ChatResponse
	err = providers.Retry(ctx, c.cfg.MaxRetries, c.cfg.BackoffBase, func() (bool, error) {
		raw, retry, err := providers.PostJSON(ctx, c.cfg.HTTPClient, endpointURL, c.headers(), body)
		if err != nil {
			return retry, err
		}
		out, err = parseChatCompletions(raw)
		return false, err
	})
	if err != nil {
		c.cfg.Logger.Error().Err(err).Str("provider", c.cfg.Name).Msg("chat completion request failed")
		return providers.ChatResponse{}, fmt.Errorf("%s: %w", c.cfg.Name, err)
	}
	return out, nil
}

func (c *Client) headers() map[string]string {
	h := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	for k, v := range c.cfg.Headers {
		h[k] = strings.ReplaceAll(v, "{{api_key}}", c.cfg.APIKey)
	}
	return h
}

func (c *Client) buildPayload(req providers.ChatRequest) ([]byte, string, error) {
	endpointURL, err := c.buildEndpointURL()
	if err != nil {
		return nil, "", err
	}

	messages := make([]providers.Message, 0, len(req.History)+2)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, providers.Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, providers.BuildMessages(req.History, req.UserMessage)...)

	payload := map[string]any{
		"model":       req.Model,
		"messages":    messages,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal chat completion payload: %w", err)
	}
	return b, endpointURL, nil
}

// buildEndpointURL accepts either a full chat completions URL or an API base
// such as https://api.x.ai/v1.
func (c *Client) buildEndpointURL() (string, error) {
	base := strings.TrimSpace(c.cfg.Endpoint)
	if strings.HasSuffix(base, "/chat/completions") {
		return base, nil
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint %q is not an absolute url", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/chat/completions"
	return u.String(), nil
}

func parseChatCompletions(body []byte) (providers.ChatResponse, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *providers.Usage `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return providers.ChatResponse{}, fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return providers.ChatResponse{}, fmt.Errorf("empty choices in chat completion response")
	}
	content := anyToText(resp.Choices[0].Message.Content)
	if strings.TrimSpace(content) == "" {
		return providers.ChatResponse{}, fmt.Errorf("missing message content in chat completion response")
	}
	return providers.ChatResponse{Text: content, Usage: resp.Usage}, nil
}

func anyToText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				if txt, ok := m["text"].(string); ok {
					parts = append(parts, txt)
				}
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}
