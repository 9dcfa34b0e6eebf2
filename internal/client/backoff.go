package client

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff yields doubling reconnect delays capped at a maximum. It never
// gives up. It is not safe for concurrent use.
type Backoff struct {
	exp *backoff.ExponentialBackOff
}

func NewBackoff(base, maxDelay time.Duration) *Backoff {
	if maxDelay < base {
		maxDelay = base
	}
	exp := &backoff.ExponentialBackOff{
		InitialInterval: base,
		Multiplier:      2,
		MaxInterval:     maxDelay,
		Stop:            backoff.Stop,
		Clock:           backoff.SystemClock,
	}
	exp.Reset()
	return &Backoff{exp: exp}
}

// Next returns the delay to wait now and doubles the following one.
func (b *Backoff) Next() time.Duration { return b.exp.NextBackOff() }

// Reset restarts the sequence at the base delay.
func (b *Backoff) Reset() { b.exp.Reset() }
