package storage

// UsageRecord is one provider call's token accounting. Message text is never stored.
type UsageRecord struct {
	ChatID           string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type UsageTotals struct {
	Requests         int64
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

type AuditEntry struct {
	ChatID   string
	UserID   string
	Action   string
	MetaJSON string
}
