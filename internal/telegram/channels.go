package telegram

import (
	"context"
	"strconv"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/rs/zerolog"

	"personabot/internal/config"
)

// CheckChannels looks up every autoJoin channel and logs whether the bot
// can reach it. Bots cannot join chats on their own; they must be added.
func CheckChannels(ctx context.Context, bot *gotgbot.Bot, channels []config.ChannelConfig, logger zerolog.Logger) {
	for _, ch := range channels {
		if !ch.AutoJoin {
			continue
		}
		log := logger.With().Str("channel_id", ch.ID).Str("channel_name", ch.Name).Logger()
		id, err := strconv.ParseInt(ch.ID, 10, 64)
		if err != nil {
			log.Warn().Msg("channel id must be numeric, skipping")
			continue
		}
		chat, err := bot.GetChatWithContext(ctx, id, nil)
		if err != nil {
			log.Warn().Err(err).Msg("channel not reachable, add the bot to it")
			continue
		}
		log.Info().Str("title", chat.Title).Msg("channel reachable")
	}
}
