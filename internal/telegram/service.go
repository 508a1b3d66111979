package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/rs/zerolog"

	"personabot/internal/router"
	"personabot/internal/worker"
)

const submitTimeout = 10 * time.Second

type Router interface {
	Route(ctx context.Context, msg router.Message)
}

type Submitter interface {
	Submit(ctx context.Context, job worker.Job) error
}

// Service turns Telegram text messages into router calls, one lane per chat.
type Service struct {
	router        Router
	lanes         Submitter
	logger        zerolog.Logger
	botUsername   string
	commandPrefix string
}

var _ MessageHandler = (*Service)(nil)

type Config struct {
	Router        Router
	Lanes         Submitter
	Logger        zerolog.Logger
	BotUsername   string
	CommandPrefix string
}

func NewService(cfg Config) *Service {
	return &Service{
		router:        cfg.Router,
		lanes:         cfg.Lanes,
		logger:        cfg.Logger,
		botUsername:   cfg.BotUsername,
		commandPrefix: cfg.CommandPrefix,
	}
}

// HandleMessage queues msg on its chat lane. It fails when the lane stays
// full for longer than the submit timeout.
func (s *Service) HandleMessage(ctx context.Context, msg *gotgbot.Message, sender *gotgbot.User) error {
	in := s.toMessage(msg, sender)

	submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()
	err := s.lanes.Submit(submitCtx, worker.Job{
		Key: in.ChatID,
		Run: func(ctx context.Context) error {
			s.router.Route(ctx, in)
			return nil
		},
	})
	if err != nil {
		s.logger.Error().Err(err).Str("chat_id", in.ChatID).Msg("failed to queue message")
		return fmt.Errorf("submit chat %s: %w", in.ChatID, err)
	}
	return nil
}

func (s *Service) toMessage(msg *gotgbot.Message, sender *gotgbot.User) router.Message {
	out := router.Message{
		ChatID: strconv.FormatInt(msg.Chat.Id, 10),
		Text:   s.stripMention(msg.Text),
	}
	if sender != nil {
		out.SenderID = strconv.FormatInt(sender.Id, 10)
	}
	return out
}

// stripMention rewrites "/reset@MyBot args" to "/reset args" so group
// commands addressed to this bot match the configured prefix.
func (s *Service) stripMention(text string) string {
	if s.commandPrefix == "" || s.botUsername == "" || !strings.HasPrefix(text, s.commandPrefix) {
		return text
	}
	first, rest, _ := strings.Cut(text, " ")
	suffix := "@" + s.botUsername
	if len(first) < len(suffix) || !strings.EqualFold(first[len(first)-len(suffix):], suffix) {
		return text
	}
	first = first[:len(first)-len(suffix)]
	if rest == "" {
		return first
	}
	return first + " " + rest
}
