package storage

import (
	"context"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite3", "file::memory:", true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUsageTotalsSumsPerChat(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	records := []UsageRecord{
		{ChatID: "1", Provider: "openai", Model: "gpt", PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		{ChatID: "1", Provider: "openai", Model: "gpt", PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
		{ChatID: "2", Provider: "grok", PromptTokens: 100, CompletionTokens: 100, TotalTokens: 200},
	}
	for _, rec := range records {
		if err := s.RecordUsage(ctx, rec); err != nil {
			t.Fatalf("record usage: %v", err)
		}
	}

	got, err := s.UsageTotals(ctx, "1")
	if err != nil {
		t.Fatalf("usage totals: %v", err)
	}
	want := UsageTotals{Requests: 2, PromptTokens: 11, CompletionTokens: 22, TotalTokens: 33}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestUsageTotalsUnseenChat(t *testing.T) {
	s := openTestStore(t)
	got, err := s.UsageTotals(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("usage totals: %v", err)
	}
	if got != (UsageTotals{}) {
		t.Fatalf("expected zero totals, got %+v", got)
	}
}

func TestLogEventNormalizesMeta(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.LogEvent(ctx, AuditEntry{ChatID: "1", UserID: "9", Action: "denied", MetaJSON: "not json"}); err != nil {
		t.Fatalf("log event: %v", err)
	}
	if err := s.LogEvent(ctx, AuditEntry{ChatID: "1", UserID: "9", Action: "command", MetaJSON: `{"command":"reset"}`}); err != nil {
		t.Fatalf("log event: %v", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT action, meta_json FROM audit_log WHERE chat_id = ? ORDER BY id", "1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	var got [][2]string
	for rows.Next() {
		var action, meta string
		if err := rows.Scan(&action, &meta); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, [2]string{action, meta})
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %v", got)
	}
	if got[0] != [2]string{"denied", "{}"} {
		t.Fatalf("unexpected first entry %v", got[0])
	}
	if got[1] != [2]string{"command", `{"command":"reset"}`} {
		t.Fatalf("unexpected second entry %v", got[1])
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "dsn", false); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	if _, err := Open(context.Background(), "sqlite", "", false); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}
