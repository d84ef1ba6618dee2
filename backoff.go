package centrifuge

import (
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// backoff computes reconnect delays with full jitter between min and an
// exponentially growing ceiling, the way the Tendermint WSClient's
// reconnect() does (jitter + (1<<attempt)*base), clamped to max. attempt
// resets to 0 the moment the client reaches CONNECTED (spec.md §4.1).
type backoff struct {
	min, max time.Duration
	attempt  int

	// limiter additionally throttles the rate of reconnect attempts
	// regardless of the computed delay, guarding against a misbehaving
	// server that accepts and instantly closes connections faster than
	// exponential backoff alone would notice (the teacher has no
	// equivalent; this is new ambient safety grounded in go-server-2's
	// use of golang.org/x/time/rate for its own inbound throttling).
	limiter *rate.Limiter
}

func newBackoff(min, max time.Duration) *backoff {
	if min <= 0 {
		min = DefaultMinReconnectDelay
	}
	if max < min {
		max = min
	}
	return &backoff{
		min:     min,
		max:     max,
		limiter: rate.NewLimiter(rate.Every(min), 1),
	}
}

// next returns the delay before the next reconnect attempt and advances
// the internal attempt counter.
func (b *backoff) next() time.Duration {
	n := b.attempt
	b.attempt++

	ceiling := b.min * time.Duration(1<<uint(minInt(n, 20)))
	if ceiling > b.max || ceiling <= 0 {
		ceiling = b.max
	}
	if ceiling <= b.min {
		return b.min
	}
	d := b.min + time.Duration(rand.Int63n(int64(ceiling-b.min)))

	if r := b.limiter.Reserve(); r.Delay() > d {
		d = r.Delay()
		if d > b.max {
			d = b.max
		}
	} else {
		r.Cancel()
	}
	return d
}

// reset zeroes the attempt counter; called on every successful transition
// to CONNECTED.
func (b *backoff) reset() {
	b.attempt = 0
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
