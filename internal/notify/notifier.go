// Package notify delivers committee notifications. Delivery is strictly
// fire-and-forget: a broken bot token or a Telegram outage must never fail a
// booking operation, so errors are logged and counted, nothing more.
package notify

import (
	"context"
	"time"

	"commonroom/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const queueSize = 64

// Notifier is the sink the services publish human-readable messages to.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Sender is the slice of the Telegram bot API the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier queues messages and delivers them asynchronously with
// exponential backoff.
type TelegramNotifier struct {
	sender Sender
	chatID int64
	queue  chan string
	retry  RetryPolicy
	logger *zerolog.Logger
}

func NewTelegramNotifier(sender Sender, chatID int64, retry RetryPolicy, logger *zerolog.Logger) *TelegramNotifier {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 3
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 30 * time.Second
	}
	return &TelegramNotifier{
		sender: sender,
		chatID: chatID,
		queue:  make(chan string, queueSize),
		retry:  retry,
		logger: logger,
	}
}

// Notify enqueues the message. A full queue drops the message rather than
// blocking the calling operation.
func (n *TelegramNotifier) Notify(ctx context.Context, message string) {
	select {
	case n.queue <- message:
	default:
		metrics.IncNotification("dropped")
		n.logger.Warn().Msg("notification queue full, message dropped")
	}
}

// Start consumes the queue until ctx is done.
func (n *TelegramNotifier) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-n.queue:
			n.deliver(ctx, message)
		}
	}
}

func (n *TelegramNotifier) deliver(ctx context.Context, message string) {
	for attempt := 1; ; attempt++ {
		_, err := n.sender.Send(tgbotapi.NewMessage(n.chatID, message))
		if err == nil {
			metrics.IncNotification("sent")
			return
		}

		if attempt >= n.retry.MaxRetries {
			metrics.IncNotification("failed")
			n.logger.Error().Err(err).Int("attempts", attempt).Msg("notification delivery failed")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(n.retry.NextDelay(attempt)):
		}
	}
}

// Noop is used when Telegram is disabled in config.
type Noop struct{}

func (Noop) Notify(context.Context, string) {}
