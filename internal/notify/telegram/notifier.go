// Package telegram sends a single outbound completion notification per run.
// It is a strict subset of the reference adapter: no inbound commands, no
// approvals, no session management — just "tell someone the run ended."
package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/ngoclaw/agentwatch/internal/loop"
	"go.uber.org/zap"
)

// Config controls the bot token and recipients.
type Config struct {
	BotToken string
	ChatIDs  []int64
}

// Notifier posts run-terminated notifications to configured chats.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	cfg    Config
	logger *zap.Logger
}

// New authorizes against the Telegram Bot API and returns a Notifier.
func New(cfg Config, logger *zap.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: authorize bot: %w", err)
	}
	return &Notifier{bot: bot, cfg: cfg, logger: logger}, nil
}

// NotifyOutcome posts a human-readable summary of outcome to every
// configured chat. Send failures are logged, not returned — a notification
// failure must never affect the run's recorded outcome.
func (n *Notifier) NotifyOutcome(task string, outcome loop.Outcome) {
	text := fmt.Sprintf("agentwatch: %q finished — %s", task, outcome.String())
	for _, chatID := range n.cfg.ChatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := n.bot.Send(msg); err != nil {
			n.logger.Warn("telegram: failed to send completion notice",
				zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
}
