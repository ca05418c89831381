package protocol

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// maxFrameBurst caps how many frames a connection may submit in a single
// burst before the limiter starts making it wait, mirroring the fixed
// burst ceiling the teacher's ThrottledWriter applies to bandwidth.
const maxFrameBurst = 8

// rateLimitGrace is how long wait tolerates a connection running ahead of
// its budget before treating it as abuse rather than a momentary burst, per
// SPEC_FULL §11 ("exceeding the limiter's burst for longer than a short
// grace period").
const rateLimitGrace = 2 * time.Second

// ErrRateLimited is returned by frameLimiter.wait once a connection has been
// over its frame budget for longer than rateLimitGrace. Recv folds it into
// the same consecutive-failure counter a CRC or frame error feeds, so
// sustained flooding escalates to ErrTransportEOF exactly like a run of
// corrupt frames does (spec.md §7).
var ErrRateLimited = errors.New("protocol: frame rate limit exceeded")

// frameLimiter throttles how fast one connection may push inbound frames
// through the decode pipeline. It exists so a client that floods FIRE/CHAT
// frames faster than the turn protocol could ever legitimately need is
// slowed down rather than allowed to spend the server's CPU on CRC and JSON
// work; see SPEC_FULL.md §11.
type frameLimiter struct {
	limiter *rate.Limiter
}

// newFrameLimiter builds a limiter admitting framesPerSec frames/second. A
// non-positive rate disables throttling (matches the teacher's bypass rule
// for non-positive bytesPerSec).
func newFrameLimiter(framesPerSec float64) *frameLimiter {
	if framesPerSec <= 0 {
		return &frameLimiter{}
	}
	return &frameLimiter{limiter: rate.NewLimiter(rate.Limit(framesPerSec), maxFrameBurst)}
}

// wait blocks until the next inbound frame is admitted, or ctx is cancelled.
// If admission would require waiting longer than rateLimitGrace, it returns
// ErrRateLimited immediately instead of blocking the caller for the full
// delay.
func (f *frameLimiter) wait(ctx context.Context) error {
	if f == nil || f.limiter == nil {
		return nil
	}

	r := f.limiter.Reserve()
	if !r.OK() {
		return ErrRateLimited
	}
	delay := r.Delay()
	if delay > rateLimitGrace {
		r.Cancel()
		return ErrRateLimited
	}
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}
