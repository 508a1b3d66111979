// Package conversation keeps the bounded, per-chat message log used as
// context for the next generation request.
package conversation

import (
	"sync"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a chat history. The role is recorded when the
// turn is appended instead of being inferred from its position.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

func UserTurn(text string) Turn      { return Turn{Role: RoleUser, Text: text} }
func AssistantTurn(text string) Turn { return Turn{Role: RoleAssistant, Text: text} }

// Store is the history table owned by the router.
type Store interface {
	Append(chatID string, turn Turn)
	Get(chatID string) []Turn
	Reset(chatID string)
	Len(chatID string) int
}

// MemoryStore holds histories in process memory. Each chat keeps at most
// 2*maxTurns entries; older entries are dropped first.
type MemoryStore struct {
	mu       sync.Mutex
	maxTurns int
	chats    map[string][]Turn
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(maxTurns int) *MemoryStore {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &MemoryStore{
		maxTurns: maxTurns,
		chats:    make(map[string][]Turn),
	}
}

func (s *MemoryStore) Append(chatID string, turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := append(s.chats[chatID], turn)
	if limit := 2 * s.maxTurns; len(h) > limit {
		trimmed := make([]Turn, limit)
		copy(trimmed, h[len(h)-limit:])
		h = trimmed
	}
	s.chats[chatID] = h
}

// Get returns a copy of the chat's history, empty for unseen chats.
func (s *MemoryStore) Get(chatID string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.chats[chatID]
	out := make([]Turn, len(h))
	copy(out, h)
	return out
}

func (s *MemoryStore) Reset(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
}

func (s *MemoryStore) Len(chatID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chats[chatID])
}

func (s *MemoryStore) MaxTurns() int {
	return s.maxTurns
}
