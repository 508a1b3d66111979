package generator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"personabot/internal/config"
	"personabot/internal/conversation"
	"personabot/internal/metrics"
	"personabot/internal/providers"
	"personabot/internal/providers/registry"
	"personabot/internal/storage"
)

const (
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7

	// FallbackReply is returned in place of any provider failure.
	FallbackReply = "I'm sorry, I'm having trouble processing your request right now. Please try again later."
)

// UsageRecorder persists token accounting for a chat.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, rec storage.UsageRecord) error
}

type Config struct {
	LLM         config.LLMConfig
	Personality config.PersonalityConfig
	Registry    *registry.Registry
	HTTPClient  *http.Client
	BackoffBase time.Duration
	Metrics     *metrics.Metrics
	Ledger      UsageRecorder
	Logger      zerolog.Logger
}

// Generator turns a user message plus prior turns into a persona reply.
type Generator struct {
	cfg          Config
	provider     providers.Provider
	buildErr     error
	systemPrompt string
	maxTokens    int
	temperature  float64
}

func New(cfg Config) *Generator {
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}
	if cfg.HTTPClient == nil {
		timeout := cfg.LLM.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	g := &Generator{
		cfg:          cfg,
		systemPrompt: SystemPrompt(cfg.LLM.SystemPrompt, cfg.Personality),
		maxTokens:    cfg.LLM.MaxTokens,
		temperature:  DefaultTemperature,
	}
	if g.maxTokens <= 0 {
		g.maxTokens = DefaultMaxTokens
	}
	if cfg.LLM.Temperature != nil {
		g.temperature = *cfg.LLM.Temperature
	}
	g.provider, g.buildErr = cfg.Registry.Build(cfg.LLM.Provider, registry.BuildOptions{
		Endpoint:    cfg.LLM.Endpoint,
		APIKey:      cfg.LLM.APIKey,
		Headers:     cfg.LLM.Headers,
		HTTPClient:  cfg.HTTPClient,
		MaxRetries:  cfg.LLM.MaxRetries,
		BackoffBase: cfg.BackoffBase,
		Logger:      cfg.Logger,
	})
	if g.buildErr != nil {
		cfg.Logger.Warn().Err(g.buildErr).Str("provider", cfg.LLM.Provider).Msg("llm provider unavailable, replies will use the fallback")
	}
	return g
}

// SystemPrompt returns the explicit prompt when set, otherwise one
// synthesized from the personality.
func SystemPrompt(explicit string, p config.PersonalityConfig) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s.\n", p.Name, p.Description)
	fmt.Fprintf(&b, "Your personality traits: %s.\n", strings.Join(p.Traits, ", "))
	fmt.Fprintf(&b, "Your tone is %s and your response style is %s.\n", p.Tone, p.ResponseStyle)
	b.WriteString("Always stay in character.")
	return b.String()
}

// Generate never surfaces provider failures: they are logged and replaced by
// FallbackReply. The only error returned is the caller's context error.
func (g *Generator) Generate(ctx context.Context, userMessage string, history []conversation.Turn) (string, error) {
	name := g.cfg.LLM.Provider
	log := g.cfg.Logger.With().Str("provider", name).Logger()

	if g.buildErr != nil {
		log.Error().Err(g.buildErr).Msg("generate failed")
		g.observe(name, "error", 0)
		return FallbackReply, nil
	}

	start := time.Now()
	resp, err := g.provider.Chat(ctx, providers.ChatRequest{
		Model:        g.cfg.LLM.Model,
		SystemPrompt: g.systemPrompt,
		History:      history,
		UserMessage:  userMessage,
		MaxTokens:    g.maxTokens,
		Temperature:  g.temperature,
	})
	elapsed := time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			g.observe(name, "canceled", elapsed)
			return "", ctxErr
		}
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("generate failed")
		g.observe(name, "error", elapsed)
		return FallbackReply, nil
	}
	g.observe(name, "ok", elapsed)

	if u := resp.Usage; u != nil {
		log.Debug().
			Interface("prompt_tokens", u.PromptTokens).
			Interface("completion_tokens", u.CompletionTokens).
			Interface("total_tokens", u.TotalTokens).
			Msg("llm usage")
		g.recordUsage(ctx, name, u)
	}
	return resp.Text, nil
}

func (g *Generator) observe(provider, status string, elapsed time.Duration) {
	if g.cfg.Metrics == nil {
		return
	}
	g.cfg.Metrics.GenerationDuration.WithLabelValues(provider, status).Observe(elapsed.Seconds())
}

func (g *Generator) recordUsage(ctx context.Context, provider string, u *providers.Usage) {
	if m := g.cfg.Metrics; m != nil {
		addTokens(m, provider, "prompt", u.PromptTokens)
		addTokens(m, provider, "completion", u.CompletionTokens)
		addTokens(m, provider, "total", u.TotalTokens)
	}
	if g.cfg.Ledger == nil {
		return
	}
	rec := storage.UsageRecord{
		ChatID:           ChatIDFrom(ctx),
		Provider:         provider,
		Model:            g.cfg.LLM.Model,
		PromptTokens:     deref(u.PromptTokens),
		CompletionTokens: deref(u.CompletionTokens),
		TotalTokens:      deref(u.TotalTokens),
	}
	if err := g.cfg.Ledger.RecordUsage(ctx, rec); err != nil {
		g.cfg.Logger.Warn().Err(err).Str("chat_id", rec.ChatID).Msg("record usage failed")
	}
}

func addTokens(m *metrics.Metrics, provider, kind string, v *int) {
	if v == nil || *v <= 0 {
		return
	}
	m.TokensTotal.WithLabelValues(provider, kind).Add(float64(*v))
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

type chatIDKey struct{}

// WithChatID tags ctx with the chat a generation belongs to, for usage accounting.
func WithChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, chatIDKey{}, chatID)
}

func ChatIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(chatIDKey{}).(string)
	return id
}
