// Package router decides what happens to one inbound chat message: drop it,
// answer a command, or generate a persona reply.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"personabot/internal/config"
	"personabot/internal/conversation"
	"personabot/internal/generator"
	"personabot/internal/metrics"
	"personabot/internal/storage"
)

const (
	ResetReply    = "I've reset our conversation history."
	ErrorReply    = "I'm sorry, I encountered an error while processing your message."
	NoLedgerReply = "Usage tracking is disabled."
)

type Message struct {
	ChatID   string
	SenderID string
	Text     string
}

// Sender is the outbound side of the chat transport.
type Sender interface {
	SendTyping(ctx context.Context, chatID string) error
	SendText(ctx context.Context, chatID, text string) error
}

type Generator interface {
	Generate(ctx context.Context, userMessage string, history []conversation.Turn) (string, error)
}

// Ledger is the optional audit and usage store.
type Ledger interface {
	LogEvent(ctx context.Context, e storage.AuditEntry) error
	UsageTotals(ctx context.Context, chatID string) (storage.UsageTotals, error)
}

type Config struct {
	Settings  config.SettingsConfig
	BotName   string
	Provider  string
	Store     conversation.Store
	Generator Generator
	Sender    Sender
	Ledger    Ledger
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

type Router struct {
	cfg     Config
	allowed map[string]struct{}
	blocked map[string]struct{}
	delay   time.Duration
}

func New(cfg Config) *Router {
	if cfg.Store == nil {
		cfg.Store = conversation.NewMemoryStore(cfg.Settings.MaxHistory)
	}
	return &Router{
		cfg:     cfg,
		allowed: toSet(cfg.Settings.AllowedUsers),
		blocked: toSet(cfg.Settings.BlacklistedUsers),
		delay:   time.Duration(cfg.Settings.ResponseDelay) * time.Millisecond,
	}
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

// Route handles one message. Failures are logged and, where a reply is
// expected, turned into an apology; nothing is returned to the transport.
func (r *Router) Route(ctx context.Context, msg Message) {
	if msg.Text == "" {
		r.count("ignored")
		return
	}

	log := r.cfg.Logger.With().
		Str("request_id", uuid.NewString()).
		Str("chat_id", msg.ChatID).
		Str("user_id", msg.SenderID).
		Logger()

	if len(r.allowed) > 0 {
		if _, ok := r.allowed[msg.SenderID]; !ok {
			log.Warn().Msg("sender not in allowed users, dropping message")
			r.count("denied")
			r.audit(ctx, log, msg, "denied", nil)
			return
		}
	}
	if _, ok := r.blocked[msg.SenderID]; ok {
		log.Warn().Msg("sender is blacklisted, dropping message")
		r.count("blocked")
		r.audit(ctx, log, msg, "blocked", nil)
		return
	}

	if prefix := r.cfg.Settings.CommandPrefix; prefix != "" && strings.HasPrefix(msg.Text, prefix) {
		command := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(msg.Text, prefix)))
		r.count("command")
		r.audit(ctx, log, msg, "command", map[string]string{"command": command})
		r.reply(ctx, log, msg.ChatID, r.command(ctx, log, msg, command))
		return
	}

	r.generate(ctx, log, msg)
}

func (r *Router) command(ctx context.Context, log zerolog.Logger, msg Message, command string) string {
	switch command {
	case "reset":
		r.cfg.Store.Reset(msg.ChatID)
		log.Info().Msg("conversation reset")
		return ResetReply
	case "debug":
		return r.debugInfo(msg)
	case "help":
		p := r.cfg.Settings.CommandPrefix
		return fmt.Sprintf("Available commands:\n%sreset - forget our conversation\n%susage - show token usage for this chat\n%sdebug - show diagnostic info\n%shelp - show this message", p, p, p, p)
	case "usage":
		return r.usage(ctx, log, msg.ChatID)
	default:
		return "Unknown command: " + command
	}
}

func (r *Router) debugInfo(msg Message) string {
	var b strings.Builder
	b.WriteString("Debug info:\n")
	fmt.Fprintf(&b, "Chat ID: %s\n", msg.ChatID)
	fmt.Fprintf(&b, "User ID: %s\n", msg.SenderID)
	fmt.Fprintf(&b, "History length: %d\n", r.cfg.Store.Len(msg.ChatID))
	fmt.Fprintf(&b, "Bot name: %s\n", r.cfg.BotName)
	fmt.Fprintf(&b, "LLM provider: %s", r.cfg.Provider)
	return b.String()
}

func (r *Router) usage(ctx context.Context, log zerolog.Logger, chatID string) string {
	if r.cfg.Ledger == nil {
		return NoLedgerReply
	}
	t, err := r.cfg.Ledger.UsageTotals(ctx, chatID)
	if err != nil {
		log.Error().Err(err).Msg("load usage totals failed")
		return ErrorReply
	}
	return fmt.Sprintf("Usage for this chat:\nRequests: %d\nPrompt tokens: %d\nCompletion tokens: %d\nTotal tokens: %d",
		t.Requests, t.PromptTokens, t.CompletionTokens, t.TotalTokens)
}

func (r *Router) generate(ctx context.Context, log zerolog.Logger, msg Message) {
	history := r.cfg.Store.Get(msg.ChatID)
	r.cfg.Store.Append(msg.ChatID, conversation.UserTurn(msg.Text))

	if err := r.cfg.Sender.SendTyping(ctx, msg.ChatID); err != nil {
		log.Debug().Err(err).Msg("send typing failed")
	}

	text, err := r.cfg.Generator.Generate(generator.WithChatID(ctx, msg.ChatID), msg.Text, history)
	if err != nil {
		if ctx.Err() != nil {
			log.Info().Msg("context done before reply, dropping")
			r.count("canceled")
			return
		}
		log.Error().Err(err).Msg("generate response failed")
		r.count("error")
		r.reply(ctx, log, msg.ChatID, ErrorReply)
		return
	}

	if r.delay > 0 {
		t := time.NewTimer(r.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			r.count("canceled")
			return
		case <-t.C:
		}
	}

	if !r.reply(ctx, log, msg.ChatID, text) {
		r.count("error")
		return
	}
	r.cfg.Store.Append(msg.ChatID, conversation.AssistantTurn(text))
	r.count("generated")
}

func (r *Router) reply(ctx context.Context, log zerolog.Logger, chatID, text string) bool {
	if err := r.cfg.Sender.SendText(ctx, chatID, text); err != nil {
		log.Error().Err(err).Msg("send reply failed")
		return false
	}
	return true
}

func (r *Router) audit(ctx context.Context, log zerolog.Logger, msg Message, action string, meta map[string]string) {
	if r.cfg.Ledger == nil {
		return
	}
	entry := storage.AuditEntry{ChatID: msg.ChatID, UserID: msg.SenderID, Action: action}
	if meta != nil {
		b, _ := json.Marshal(meta)
		entry.MetaJSON = string(b)
	}
	if err := r.cfg.Ledger.LogEvent(ctx, entry); err != nil {
		log.Warn().Err(err).Str("action", action).Msg("audit log failed")
	}
}

func (r *Router) count(outcome string) {
	if r.cfg.Metrics == nil {
		return
	}
	r.cfg.Metrics.MessagesRouted.WithLabelValues(outcome).Inc()
}
