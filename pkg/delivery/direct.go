// Package delivery sends outbound replies through the direct bot channel
// or queues them for the human-like channel's background worker.
package delivery

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DirectSender pushes text straight to a chat on the bot channel.
type DirectSender interface {
	SendText(chatID int64, text string) (int64, error)
}

// BotSender implements DirectSender over the Bot API.
type BotSender struct {
	bot *tgbotapi.BotAPI
}

var _ DirectSender = (*BotSender)(nil)

// NewBotSender wraps an authorized bot API client.
func NewBotSender(bot *tgbotapi.BotAPI) *BotSender {
	return &BotSender{bot: bot}
}

func (s *BotSender) SendText(chatID int64, text string) (int64, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	sent, err := s.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to send bot message: %w", err)
	}
	return int64(sent.MessageID), nil
}
