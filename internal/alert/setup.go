package alert

import (
	"time"

	"github.com/rs/zerolog"

	"book-aggregator/internal/config"
)

// NewFromConfig builds a Manager over every enabled notifier. It returns a
// nil Manager when no notifier is enabled; a nil Manager drops all events.
func NewFromConfig(service string, cfg config.ObservabilityConfig, logger zerolog.Logger) (*Manager, error) {
	var notifiers MultiNotifier
	if cfg.Telegram.Enabled {
		tg, err := NewTelegramNotifier(cfg.Telegram)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, tg)
	}
	if cfg.Discord.Enabled {
		dc, err := NewDiscordNotifier(cfg.Discord.WebhookURL, time.Duration(cfg.Discord.TimeoutSec)*time.Second)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, dc)
	}
	if len(notifiers) == 0 {
		return nil, nil
	}
	var notifier Notifier = notifiers
	if len(notifiers) == 1 {
		notifier = notifiers[0]
	}
	return NewManagerWithOptions(service, notifier, ManagerOptions{
		QueueSize:          defaultAlertQueueSize,
		DropReportInterval: time.Duration(cfg.AlertDropReportSec) * time.Second,
		SuppressWindow:     time.Duration(cfg.AlertSuppressSec) * time.Second,
		Logger:             logger,
	}), nil
}
