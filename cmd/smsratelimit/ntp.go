package main

import (
	"context"
	"time"

	"github.com/beevik/ntp"
	"github.com/parkerroan/smsratelimit"
	"golang.org/x/exp/slog"
)

const ntpTimeout = 3 * time.Second

// checkClock warns when the local clock drifts from NTP_SERVER by more than
// NTP_MAX_SKEW. History buckets are aligned to wall-clock seconds, so a skewed
// host reports traffic under the wrong second. The check never stops startup.
func checkClock(ctx context.Context, cfg smsratelimit.Settings, logger *slog.Logger) {
	if cfg.NTPServer == "" {
		return
	}

	done := make(chan struct{})
	var (
		resp *ntp.Response
		err  error
	)
	go func() {
		defer close(done)
		resp, err = ntp.QueryWithOptions(cfg.NTPServer, ntp.QueryOptions{Timeout: ntpTimeout})
		if err == nil {
			err = resp.Validate()
		}
	}()

	select {
	case <-ctx.Done():
		return
	case <-done:
	}

	if err != nil {
		logger.Warn("clock check failed", slog.String("server", cfg.NTPServer), slog.Any("error", err))
		return
	}

	offset := resp.ClockOffset
	if offset < 0 {
		offset = -offset
	}
	if offset > cfg.NTPMaxSkew {
		logger.Warn("local clock is skewed",
			slog.String("server", cfg.NTPServer),
			slog.Duration("offset", resp.ClockOffset),
			slog.Duration("max_skew", cfg.NTPMaxSkew))
		return
	}
	logger.Info("local clock in sync", slog.Duration("offset", resp.ClockOffset))
}
