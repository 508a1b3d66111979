package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

func (s *Store) RecordUsage(ctx context.Context, rec UsageRecord) error {
	q := s.sql.Insert("usage_events").
		Columns("chat_id", "provider", "model", "prompt_tokens", "completion_tokens", "total_tokens").
		Values(rec.ChatID, rec.Provider, rec.Model, rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build usage insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	return nil
}

// UsageTotals sums every usage event recorded for chatID. Unseen chats yield zeros.
func (s *Store) UsageTotals(ctx context.Context, chatID string) (UsageTotals, error) {
	q := s.sql.Select(
		"COUNT(*)",
		"COALESCE(SUM(prompt_tokens), 0)",
		"COALESCE(SUM(completion_tokens), 0)",
		"COALESCE(SUM(total_tokens), 0)",
	).
		From("usage_events").
		Where(sq.Eq{"chat_id": chatID})
	query, args, err := q.ToSql()
	if err != nil {
		return UsageTotals{}, fmt.Errorf("build usage totals query: %w", err)
	}

	var out UsageTotals
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&out.Requests, &out.PromptTokens, &out.CompletionTokens, &out.TotalTokens); err != nil {
		return UsageTotals{}, fmt.Errorf("usage totals: %w", err)
	}
	return out, nil
}

func (s *Store) LogEvent(ctx context.Context, e AuditEntry) error {
	if strings.TrimSpace(e.MetaJSON) == "" || !json.Valid([]byte(e.MetaJSON)) {
		e.MetaJSON = "{}"
	}

	q := s.sql.Insert("audit_log").
		Columns("chat_id", "user_id", "action", "meta_json").
		Values(e.ChatID, e.UserID, e.Action, e.MetaJSON)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
