package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

// UpdateHandler feeds raw webhook bodies through the dispatcher one at a
// time, mirroring the single routine used for polling.
type UpdateHandler struct {
	Bot        *gotgbot.Bot
	Dispatcher *ext.Dispatcher

	mu sync.Mutex
}

func (h *UpdateHandler) HandleUpdate(_ context.Context, body []byte) error {
	var u gotgbot.Update
	if err := json.Unmarshal(body, &u); err != nil {
		return fmt.Errorf("decode update: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.Dispatcher.ProcessUpdate(h.Bot, &u, nil); err != nil {
		return fmt.Errorf("process update %d: %w", u.UpdateId, err)
	}
	return nil
}
