package providers

import (
	"context"

	"personabot/internal/conversation"
)

// ChatRequest is the uniform chat-completion request handed to every adapter.
type ChatRequest struct {
	Model        string
	SystemPrompt string
	History      []conversation.Turn
	UserMessage  string
	MaxTokens    int
	Temperature  float64
}

// Usage mirrors provider token accounting. A nil field means the provider
// did not report it.
type Usage struct {
	PromptTokens     *int `json:"prompt_tokens,omitempty"`
	CompletionTokens *int `json:"completion_tokens,omitempty"`
	TotalTokens      *int `json:"total_tokens,omitempty"`
}

type ChatResponse struct {
	Text  string
	Usage *Usage
}

type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// Message is the role-tagged wire shape shared by the chat APIs.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildMessages converts prior turns into role-tagged messages in their
// original order and appends the new user message last.
func BuildMessages(history []conversation.Turn, userMessage string) []Message {
	out := make([]Message, 0, len(history)+1)
	for _, t := range history {
		out = append(out, Message{Role: string(t.Role), Content: t.Text})
	}
	return append(out, Message{Role: string(conversation.RoleUser), Content: userMessage})
}

func Int(v int) *int { return &v }
