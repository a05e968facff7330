// Package notify sends crawl-completion digests to a Telegram chat.
package notify

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"content_radar/internal/model"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts a short summary for every finished discovery operation.
type Telegram struct {
	api    telegramAPI
	chatID int64
	log    *slog.Logger
}

// NewTelegram creates a notifier for the given bot token and chat.
func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

// NotifyOperation implements crawler.Notifier. Send failures are logged and
// swallowed; notifications must never affect the pipeline.
func (t *Telegram) NotifyOperation(op model.DiscoveryOperation) {
	msg := tgbotapi.NewMessage(t.chatID, FormatOperation(op))
	if _, err := t.api.Send(msg); err != nil {
		t.log.Error("send notification", "operation_id", op.ID, "error", err)
	}
}

// FormatOperation renders one operation as a notification message.
func FormatOperation(op model.DiscoveryOperation) string {
	switch op.Status {
	case model.StatusFailed:
		return fmt.Sprintf("Crawl %s for %q failed: %s", op.Source, op.Query, op.Error)
	case model.StatusCancelled:
		return fmt.Sprintf("Crawl %s for %q was cancelled", op.Source, op.Query)
	default:
		return fmt.Sprintf("Crawl %s for %q finished: %d new, %d duplicates, %d low quality",
			op.Source, op.Query, op.ItemsFound, op.Duplicates, op.LowQuality)
	}
}
