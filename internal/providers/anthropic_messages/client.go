package anthropic_messages

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"personabot/internal/providers"
)

const (
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"
	APIVersion      = "2023-06-01"
)

type Config struct {
	Endpoint    string
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
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultEndpoint
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
	body, err := buildPayload(req)
	if err != nil {
		return providers.ChatResponse{}, fmt.Errorf("anthropic: %w", err)
	}

	var out providers.ChatResponse
	err = providers.Retry(ctx, c.cfg.MaxRetries, c.cfg.BackoffBase, func() (bool, error) {
		raw, retry, err := providers.PostJSON(ctx, c.cfg.HTTPClient, c.cfg.Endpoint, c.headers(), body)
		if err != nil {
			return retry, err
		}
		out, err = parseMessages(raw)
		return false, err
	})
	if err != nil {
		c.cfg.Logger.Error().Err(err).Str("provider", "anthropic").Msg("messages request failed")
		return providers.ChatResponse{}, fmt.Errorf("anthropic: %w", err)
	}
	return out, nil
}

func (c *Client) headers() map[string]string {
	h := map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": APIVersion,
	}
	for k, v := range c.cfg.Headers {
		h[k] = strings.ReplaceAll(v, "{{api_key}}", c.cfg.APIKey)
	}
	return h
}

func buildPayload(req providers.ChatRequest) ([]byte, error) {
	payload := map[string]any{
		"model":       req.Model,
		"messages":    providers.BuildMessages(req.History, req.UserMessage),
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		payload["system"] = req.SystemPrompt
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal messages payload: %w", err)
	}
	return b, nil
}

func parseMessages(body []byte) (providers.ChatResponse, error) {
	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage *struct {
			InputTokens  *int `json:"input_tokens"`
			OutputTokens *int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return providers.ChatResponse{}, fmt.Errorf("decode messages response: %w", err)
	}
	if len(resp.Content) == 0 {
		return providers.ChatResponse{}, fmt.Errorf("empty content in messages response")
	}

	usage := &providers.Usage{}
	total := 0
	if resp.Usage != nil {
		usage.PromptTokens = resp.Usage.InputTokens
		usage.CompletionTokens = resp.Usage.OutputTokens
		if resp.Usage.InputTokens != nil {
			total += *resp.Usage.InputTokens
		}
		if resp.Usage.OutputTokens != nil {
			total += *resp.Usage.OutputTokens
		}
	}
	usage.TotalTokens = providers.Int(total)

	return providers.ChatResponse{Text: resp.Content[0].Text, Usage: usage}, nil
}
