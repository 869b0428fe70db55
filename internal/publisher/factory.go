package publisher

import (
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/autopost/internal/config"
	"github.com/kiranshivaraju/autopost/internal/publisher/dryrun"
	"github.com/kiranshivaraju/autopost/internal/publisher/relay"
	"github.com/kiranshivaraju/autopost/internal/publisher/telegram"
)

// NewRegistry builds the registry for the configured platforms.
// Called once at server startup.
func NewRegistry(cfg config.PublishConfig, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := New(cfg.Timeout, cfg.RatePerSec, logger)

	if cfg.DryRun {
		dr := dryrun.NewPublisher(logger)
		targets := append([]string(nil), cfg.Relay.Platforms...)
		targets = append(targets, telegram.Target)
		for _, t := range targets {
			r.Register(t, dr)
		}
		return r, nil
	}

	if cfg.Relay.URL != "" {
		rp := relay.NewPublisher(cfg.Relay, cfg.Timeout)
		for _, t := range cfg.Relay.Platforms {
			r.Register(t, rp)
		}
	}

	if cfg.Telegram.BotToken != "" {
		tp, err := telegram.NewPublisher(cfg.Telegram, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("creating telegram publisher: %w", err)
		}
		r.Register(telegram.Target, tp)
	}

	if len(r.Targets()) == 0 {
		return nil, fmt.Errorf("no publish targets configured")
	}
	return r, nil
}
