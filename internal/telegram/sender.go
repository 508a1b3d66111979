package telegram

import (
	"context"
	"fmt"
	"strconv"

	"github.com/PaulSonOfLars/gotgbot/v2"

	"personabot/internal/router"
)

// maxMessageRunes stays under Telegram's 4096 character limit.
const maxMessageRunes = 4000

type Sender struct {
	bot *gotgbot.Bot
}

var _ router.Sender = (*Sender)(nil)

func NewSender(bot *gotgbot.Bot) *Sender {
	return &Sender{bot: bot}
}

func (s *Sender) SendTyping(ctx context.Context, chatID string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	if _, err := s.bot.SendChatActionWithContext(ctx, id, "typing", nil); err != nil {
		return fmt.Errorf("send chat action: %w", err)
	}
	return nil
}

// SendText delivers text, split into several messages when it exceeds the
// Telegram length limit.
func (s *Sender) SendText(ctx context.Context, chatID, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	for _, part := range splitMessage(text, maxMessageRunes) {
		if _, err := s.bot.SendMessageWithContext(ctx, id, part, nil); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

func splitMessage(text string, limit int) []string {
	r := []rune(text)
	if len(r) <= limit {
		return []string{text}
	}
	parts := make([]string, 0, len(r)/limit+1)
	for len(r) > limit {
		parts = append(parts, string(r[:limit]))
		r = r[limit:]
	}
	if len(r) > 0 {
		parts = append(parts, string(r))
	}
	return parts
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	return id, nil
}
