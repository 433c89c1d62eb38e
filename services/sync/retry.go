package sync

import (
	"math/rand"
	"time"
)

// RetryPolicy fixes the pacing of a supervisor's reconnect loop and the
// coalescing of new-mail signals. Delays are flat with a small jitter so
// a fleet of accounts does not reconnect in lockstep.
type RetryPolicy struct {
	// ConnectFailureDelay paces retries after a failed dial or login.
	ConnectFailureDelay time.Duration
	// ClosedDelay paces reconnects after the server dropped the
	// connection.
	ClosedDelay time.Duration
	// SessionErrorDelay paces reconnects after any other in-session
	// failure.
	SessionErrorDelay time.Duration
	// Debounce holds off a sync pass after a new-mail signal so bursts
	// collapse into one pass.
	Debounce time.Duration
	// IdleRenewal restarts the IDLE command before servers start timing
	// it out; RFC 2177 suggests staying under 29 minutes.
	IdleRenewal time.Duration
	// JitterFraction widens each delay by up to this fraction.
	JitterFraction float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		ConnectFailureDelay: 10 * time.Second,
		ClosedDelay:         3 * time.Second,
		SessionErrorDelay:   5 * time.Second,
		Debounce:            time.Second,
		IdleRenewal:         28 * time.Minute,
		JitterFraction:      0.1,
	}
}

func (p RetryPolicy) jittered(d time.Duration) time.Duration {
	if p.JitterFraction <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * p.JitterFraction
	return d + time.Duration(rand.Float64()*spread)
}

func (p RetryPolicy) ConnectRetryIn() time.Duration {
	return p.jittered(p.ConnectFailureDelay)
}

func (p RetryPolicy) SessionRetryIn(connectionDropped bool) time.Duration {
	if connectionDropped {
		return p.jittered(p.ClosedDelay)
	}
	return p.jittered(p.SessionErrorDelay)
}
