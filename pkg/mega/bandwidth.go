package mega

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"
)

// burstMultiplier sizes the token bucket relative to the per-second rate so
// a chunk can use savings from an idle moment without raising sustained
// throughput.
const burstMultiplier = 2

// bandwidthLimiter is shared by every chunk worker of a session so that
// aggregate throughput stays within Config.BandwidthLimit. A nil limiter is
// unlimited.
type bandwidthLimiter struct {
	limiter *rate.Limiter
}

func newBandwidthLimiter(bytesPerSec int64, logger *slog.Logger) *bandwidthLimiter {
	if bytesPerSec <= 0 {
		return nil
	}

	burst := int(bytesPerSec) * burstMultiplier

	logger.Info("bandwidth limiter created",
		slog.Int64("bytes_per_sec", bytesPerSec),
		slog.Int("burst", burst),
	)

	return &bandwidthLimiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// wait blocks until n bytes may be transferred. Requests larger than the
// burst are split, since rate.Limiter.WaitN rejects them.
func (bl *bandwidthLimiter) wait(ctx context.Context, n int) error {
	if bl == nil {
		return nil
	}

	burst := bl.limiter.Burst()

	for n > 0 {
		take := min(n, burst)

		if err := bl.limiter.WaitN(ctx, take); err != nil {
			return err
		}

		n -= take
	}

	return nil
}
