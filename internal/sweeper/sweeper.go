package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"pairchat/pkg/chat"
	"pairchat/pkg/config"
	"pairchat/pkg/logger"
)

// tickInterval drives the fine-grained expiry pass. The cron schedule on
// top of it is a coarse safety net that also logs a heartbeat, useful when
// diagnosing stuck typing indicators.
const tickInterval = time.Second

// Start launches the typing-expiry sweeper and returns a cancel func.
// Signals older than the configured window are cleared and synthetic stop
// events are fanned out, covering clients that vanish mid-composition.
func Start(ctx context.Context, svc *chat.Service, cfg config.TypingConfig) (context.CancelFunc, error) {
	window := cfg.WindowDuration()

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "* * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("sweeper_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid typing sweep cron expression: %s", cfg.Cron)
	}

	ctx2, cancel := context.WithCancel(ctx)
	go runTicker(ctx2, svc, window)
	go runCron(ctx2, svc, window, cronExpr)

	logger.Info("typing_sweeper_started", "window", window.String(), "cron", cronExpr)
	return cancel, nil
}

func runTicker(ctx context.Context, svc *chat.Service, window time.Duration) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("typing_sweeper_stopping")
			return
		case <-ticker.C:
			if n := svc.ExpireTyping(window); n > 0 {
				logger.Debug("typing_signals_expired", "count", n)
			}
		}
	}
}

// runCron wakes on the cron schedule, runs one sweep and logs the result.
func runCron(ctx context.Context, svc *chat.Service, window time.Duration, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("sweeper_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			n := svc.ExpireTyping(window)
			logger.Debug("typing_sweep_ran", "expired", n)
		case <-ctx.Done():
			return
		}
	}
}
