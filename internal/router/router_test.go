package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"personabot/internal/config"
	"personabot/internal/conversation"
	"personabot/internal/generator"
	"personabot/internal/metrics"
	"personabot/internal/storage"
)

type sent struct {
	chatID string
	text   string
}

type fakeSender struct {
	mu      sync.Mutex
	typing  []string
	texts   []sent
	sendErr error
}

func (f *fakeSender) SendTyping(_ context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, chatID)
	return nil
}

func (f *fakeSender) SendText(_ context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.texts = append(f.texts, sent{chatID: chatID, text: text})
	return nil
}

func (f *fakeSender) replies() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.texts...)
}

type fakeGenerator struct {
	reply    string
	err      error
	calls    int
	history  []conversation.Turn
	chatID   string
	blocking bool
}

func (f *fakeGenerator) Generate(ctx context.Context, userMessage string, history []conversation.Turn) (string, error) {
	f.calls++
	f.history = history
	f.chatID = generator.ChatIDFrom(ctx)
	if f.blocking {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeLedger struct {
	events []storage.AuditEntry
	totals storage.UsageTotals
	err    error
}

func (f *fakeLedger) LogEvent(_ context.Context, e storage.AuditEntry) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakeLedger) UsageTotals(context.Context, string) (storage.UsageTotals, error) {
	return f.totals, f.err
}

type fixture struct {
	router *Router
	sender *fakeSender
	gen    *fakeGenerator
	store  *conversation.MemoryStore
}

func newFixture(settings config.SettingsConfig, ledger Ledger) *fixture {
	f := &fixture{
		sender: &fakeSender{},
		gen:    &fakeGenerator{reply: "hi back"},
		store:  conversation.NewMemoryStore(10),
	}
	f.router = New(Config{
		Settings:  settings,
		BotName:   "Nova",
		Provider:  "openai",
		Store:     f.store,
		Generator: f.gen,
		Sender:    f.sender,
		Ledger:    ledger,
		Metrics:   metrics.Global(),
		Logger:    zerolog.Nop(),
	})
	return f
}

func TestRouteIgnoresEmptyText(t *testing.T) {
	f := newFixture(config.SettingsConfig{}, nil)
	f.router.Route(context.Background(), Message{ChatID: "1", SenderID: "2"})
	if len(f.sender.replies()) != 0 || f.gen.calls != 0 || f.store.Len("1") != 0 {
		t.Fatalf("expected no side effects for empty text")
	}
}

func TestRouteAllowListDrops(t *testing.T) {
	ledger := &fakeLedger{}
	f := newFixture(config.SettingsConfig{AllowedUsers: []string{"123456"}}, ledger)
	f.router.Route(context.Background(), Message{ChatID: "1", SenderID: "654321", Text: "hello"})
	if got := f.sender.replies(); len(got) != 0 {
		t.Fatalf("expected zero replies, got %v", got)
	}
	if f.gen.calls != 0 || f.store.Len("1") != 0 {
		t.Fatalf("expected no generation or history")
	}
	if len(ledger.events) != 1 || ledger.events[0].Action != "denied" {
		t.Fatalf("expected a denied audit event, got %v", ledger.events)
	}
}

func TestRouteBlockListDropsRegardlessOfAllowList(t *testing.T) {
	for _, allowed := range [][]string{nil, {"654321"}} {
		f := newFixture(config.SettingsConfig{AllowedUsers: allowed, BlacklistedUsers: []string{"654321"}}, nil)
		f.router.Route(context.Background(), Message{ChatID: "1", SenderID: "654321", Text: "hello"})
		if got := f.sender.replies(); len(got) != 0 {
			t.Fatalf("allowed=%v: expected zero replies, got %v", allowed, got)
		}
	}
}

func TestRouteResetCommand(t *testing.T) {
	f := newFixture(config.SettingsConfig{CommandPrefix: "/"}, nil)
	f.store.Append("1", conversation.UserTurn("a"))
	f.store.Append("1", conversation.AssistantTurn("b"))

	f.router.Route(context.Background(), Message{ChatID: "1", SenderID: "2", Text: "/reset"})

	got := f.sender.replies()
	if len(got) != 1 || got[0].text != "I've reset our conversation history." {
		t.Fatalf("unexpected replies %v", got)
	}
	if n := len(f.store.Get("1")); n != 0 {
		t.Fatalf("expected empty history, got %d", n)
	}
	if f.gen.calls != 0 {
		t.Fatalf("reset must not call the generator")
	}
}

func TestRouteUnknownCommand(t *testing.T) {
	f := newFixture(config.SettingsConfig{CommandPrefix: "/"}, nil)
	f.router.Route(context.Background(), Message{ChatID: "1", SenderID: "2", Text: "/unknown"})
	got := f.sender.replies()
	if len(got) != 1 || got[0].text != "Unknown command: unknown" {
		t.Fatalf("unexpected replies %v", got)
	}
	if f.store.Len("1") != 0 {
		t.Fatalf("commands must not touch history")
	}
}

func TestRouteCommandIsCaseInsensitive(t *testing.T) {
	f := newFixture(config.SettingsConfig{CommandPrefix: "!"}, nil)
	f.store.Append("1", conversation.UserTurn("a"))
	f.router.Route(context.Background(), Message{ChatID: "1", SenderID: "2", Text: "!  RESET "})
	if got := f.sender.replies(); len(got) != 1 || got[0].text != ResetReply {
		t.Fatalf("unexpected replies %v", got)
	}
}

func TestRouteDebugCommand(t *testing.T) {
	f := newFixture(config.SettingsConfig{CommandPrefix: "/"}, nil)
	f.store.Append("7", conversation.UserTurn("a"))
	f.router.Route(context.Background(), Message{ChatID: "7", SenderID: "8", Text: "/debug"})

	got := f.sender.replies()
	if len(got) != 1 {
		t.Fatalf("expected one reply, got %v", got)
	}
	for _, want := range []string{"Chat ID: 7", "User ID: 8", "History length: 1", "Bot name: Nova", "LLM provider: openai"} {
		if !strings.Contains(got[0].text, want) {
			t.Fatalf("debug reply missing %q:\n%s", want, got[0].text)
		}
	}
	if f.store.Len("7") != 1 {
		t.Fatalf("debug must not modify history")
	}
}

func TestRouteUsageCommand(t *testing.T) {
	f := newFixture(config.SettingsConfig{CommandPrefix: "/"}, nil)
	f.router.Route(context.Background(), Message{ChatID: "1", SenderID: "2", Text: "/usage"})
	if got := f.sender.replies(); len(got) != 1 || got[0].text != NoLedgerReply {
		t.Fatalf("unexpected replies %v", got)
	}

	ledger := &fakeLedger{totals: storage.UsageTotals{Requests: 2, PromptTokens: 5, CompletionTokens: 6, TotalTokens: 11}}
	f = newFixture(config.SettingsConfig{CommandPrefix: "/"}, ledger)
	f.router.Route(context.Background(), Message{ChatID: "1", SenderID: "2", Text: "/usage"})
	got := f.sender.replies()
	if len(got) != 1 || !strings.Contains(got[0].text, "Total tokens: 11") {
		t.Fatalf("unexpected replies %v", got)
	}
	if len(ledger.events) != 1 || ledger.events[0].MetaJSON != `{"command":"usage"}` {
		t.Fatalf("expected command audit event, got %v", ledger.events)
	}
}

func TestRouteGeneratesReply(t *testing.T) {
	f := newFixture(config.SettingsConfig{CommandPrefix: "/"}, nil)
	f.store.Append("1", conversation.UserTurn("earlier"))
	f.store.Append("1", conversation.AssistantTurn("reply"))

	f.router.Route(context.Background(), Message{ChatID: "1", SenderID: "2", Text: "what's up"})

	got := f.sender.replies()
	if len(got) != 1 || got[0].text != "hi back" {
		t.Fatalf("unexpected replies %v", got)
	}
	if len(f.sender.typing) != 1 {
		t.Fatalf("expected a typing indicator")
	}
	if len(f.gen.history) != 2 {
		t.Fatalf("generator should see history before the new message, got %v", f.gen.history)
	}
	if f.gen.chatID != "1" {
		t.Fatalf("expected chat id on context, got %q", f.gen.chatID)
	}
	h := f.store.Get("1")
	if len(h) != 4 || h[2] != conversation.UserTurn("what's up") || h[3] != conversation.AssistantTurn("hi back") {
		t.Fatalf("unexpected history %v", h)
	}
}

func TestRouteGeneratorErrorApologises(t *testing.T) {
	f := newFixture(config.SettingsConfig{}, nil)
	f.gen.err = errors.New("provider exploded")

	f.router.Route(context.Background(), Message{ChatID: "1", SenderID: "2", Text: "hello"})

	got := f.sender.replies()
	if len(got) != 1 || got[0].text != "I'm sorry, I encountered an error while processing your message." {
		t.Fatalf("unexpected replies %v", got)
	}
	h := f.store.Get("1")
	if len(h) != 1 || h[0] != conversation.UserTurn("hello") {
		t.Fatalf("expected only the user turn recorded, got %v", h)
	}
}

func TestRouteDelayIsCancellable(t *testing.T) {
	f := newFixture(config.SettingsConfig{ResponseDelay: 60_000}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.router.Route(ctx, Message{ChatID: "1", SenderID: "2", Text: "hello"})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("route did not return after cancel")
	}
	if got := f.sender.replies(); len(got) != 0 {
		t.Fatalf("expected no reply after cancel, got %v", got)
	}
}

func TestRouteCanceledGenerationSendsNothing(t *testing.T) {
	f := newFixture(config.SettingsConfig{}, nil)
	f.gen.blocking = true
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	f.router.Route(ctx, Message{ChatID: "1", SenderID: "2", Text: "hello"})
	if got := f.sender.replies(); len(got) != 0 {
		t.Fatalf("expected no reply after cancel, got %v", got)
	}
}

func TestRouteSendFailureLeavesAssistantTurnUnrecorded(t *testing.T) {
	f := newFixture(config.SettingsConfig{}, nil)
	f.sender.sendErr = errors.New("telegram unavailable")

	f.router.Route(context.Background(), Message{ChatID: "1", SenderID: "2", Text: "hello"})

	if f.gen.calls != 1 {
		t.Fatalf("expected one generation, got %d", f.gen.calls)
	}
	h := f.store.Get("1")
	if len(h) != 1 || h[0] != conversation.UserTurn("hello") {
		t.Fatalf("expected only the user turn recorded, got %v", h)
	}
}
