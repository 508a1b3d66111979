package telegram

import (
	"context"
	"fmt"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/rs/zerolog"

	"personabot/internal/dedupe"
	"personabot/internal/metrics"
)

// MessageHandler accepts one new text message from an update.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *gotgbot.Message, sender *gotgbot.User) error
}

// Processor counts every update, drops re-deliveries and hands text messages
// to Messages. Errors are returned to the dispatcher so the webhook answers
// with a failure; the dedupe mark is cleared first so the retry is accepted.
type Processor struct {
	Base     ext.BaseProcessor
	Dedupe   dedupe.Deduplicator
	Messages MessageHandler
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

func (p Processor) ProcessUpdate(d *ext.Dispatcher, b *gotgbot.Bot, ctx *ext.Context) error {
	if p.Metrics != nil {
		p.Metrics.UpdatesTotal.Inc()
	}
	log := p.Logger.With().Int64("update_id", ctx.UpdateId).Logger()

	marked := false
	if p.Dedupe != nil {
		first, err := p.Dedupe.MarkFirst(context.Background(), ctx.UpdateId)
		switch {
		case err != nil:
			log.Error().Err(err).Msg("failed to dedupe update")
		case !first:
			if p.Metrics != nil {
				p.Metrics.DuplicateUpdates.Inc()
			}
			log.Debug().Msg("duplicate update dropped")
			return nil
		default:
			marked = true
		}
	}

	if err := p.handle(d, b, ctx); err != nil {
		log.Error().Err(err).Msg("failed to process update")
		if marked {
			if ferr := p.Dedupe.Forget(context.Background(), ctx.UpdateId); ferr != nil {
				log.Error().Err(ferr).Msg("failed to clear dedupe mark")
			}
		}
		return fmt.Errorf("update %d: %w", ctx.UpdateId, err)
	}
	return nil
}

func (p Processor) handle(d *ext.Dispatcher, b *gotgbot.Bot, ctx *ext.Context) error {
	if msg := ctx.Message; msg != nil && msg.Text != "" && p.Messages != nil {
		return p.Messages.HandleMessage(context.Background(), msg, ctx.EffectiveUser)
	}
	return p.Base.ProcessUpdate(d, b, ctx)
}

// NewDispatcher builds a dispatcher that processes one update at a time, so
// messages reach their chat lane in the order Telegram delivered them.
// Processing only submits to a lane, so the single routine is never held by
// a generation.
func NewDispatcher(p Processor, onError func(error)) *ext.Dispatcher {
	return ext.NewDispatcher(&ext.DispatcherOpts{
		MaxRoutines:      1,
		UnhandledErrFunc: onError,
		Processor:        p,
	})
}
