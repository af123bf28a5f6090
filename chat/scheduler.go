package chat

import (
	"context"
	"log/slog"
	"time"
)

// maxBackoff caps the wait after repeated refresh failures.
const maxBackoff = 5 * time.Minute

// NextWait returns how long the scheduler sleeps after res: the feed's hint
// or interval, whichever is longer, doubled per consecutive refresh failure.
func NextWait(res Result, interval time.Duration, refreshFailures int) time.Duration {
	wait := interval
	if res.NextDelay > wait {
		wait = res.NextDelay
	}
	if res.State == StateRefreshFailed {
		for i := 1; i < refreshFailures && wait < maxBackoff; i++ {
			wait *= 2
		}
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
	return wait
}

// StartPoller runs PollOnce until ctx is cancelled. It is the in-process
// alternative to an external timer calling /poll (POLL_AUTO_START).
func StartPoller(ctx context.Context, p *Poller, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	slog.Info("chat poller: started", slog.Duration("interval", interval))
	go func() {
		for {
			if ctx.Err() != nil {
				return
			}
			res, err := p.PollOnce(ctx)
			if err != nil && ctx.Err() == nil {
				lvl := slog.LevelWarn
				if res.State.Fatal() {
					lvl = slog.LevelDebug // surfaced via /status; no point repeating every tick
				}
				slog.Log(ctx, lvl, "chat poller: cycle failed", slog.String("state", string(res.State)), slog.Any("err", err))
			}
			wait := NextWait(res, interval, p.Status().ConsecutiveRefreshFailures)
			select {
			case <-ctx.Done():
				slog.Info("chat poller: stopped")
				return
			case <-time.After(wait):
			}
		}
	}()
}
