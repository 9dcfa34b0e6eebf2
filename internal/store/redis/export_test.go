package redis

import "time"

func (r *Relay) Deliver(channel string, payload []byte) { r.deliver(channel, payload) }

func (r *Relay) SetRetryDelays(base, maxDelay time.Duration) {
	r.retryBase = base
	r.retryMax = maxDelay
}
