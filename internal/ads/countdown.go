package ads

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"adbot/internal/transport"
	logx "adbot/pkg/logx"
)

// Countdown edits ref roughly once per second with the remaining cooldown,
// stopping when it reaches zero, after maxUpdates edits, or on the first
// failed edit. It blocks and is meant to run on its own goroutine; the
// limiter keeps the edit cadence under Telegram's per-chat rate even when the
// remaining() clock jumps.
func Countdown(ctx context.Context, adapter transport.Adapter, ref transport.MessageRef, remaining func() int64, maxUpdates int, log logx.Logger) {
	if maxUpdates <= 0 {
		return
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	lim := rate.NewLimiter(rate.Every(time.Second), 1)
	for i := 0; i < maxUpdates; i++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		rem := remaining()
		if rem <= 0 {
			_ = adapter.EditText(ctx, ref, "Cooldown over, you can submit your ad now.", nil)
			return
		}
		text := "You are on cooldown. Time left: " + FormatSeconds(rem)
		if err := adapter.EditText(ctx, ref, text, nil); err != nil {
			log.Trace("countdown edit failed", logx.Err(err))
			return
		}
	}
}
