package service

import (
	"math"
	"math/rand"
	"time"
)

// ReconnectPolicy bounds how a session retries after transient closes.
//
// The first retry after a close is immediate. Consecutive failures without
// an intervening open back off from InitialDelay by Multiplier up to
// MaxDelay. MaxAttempts caps consecutive failures; zero means unlimited.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
	MaxAttempts  int
}

// DefaultReconnectPolicy returns the policy used when none is configured.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		Jitter:       true,
	}
}

// Delay returns how long to wait before the retry that follows the n-th
// consecutive failure (1-based).
func (p ReconnectPolicy) Delay(failures int, rng *rand.Rand) time.Duration {
	if failures <= 1 {
		return 0
	}
	return NextBackoffDelay(p, failures-1, rng)
}

// Exhausted reports whether failures exceeds the attempt cap.
func (p ReconnectPolicy) Exhausted(failures int) bool {
	return p.MaxAttempts > 0 && failures > p.MaxAttempts
}

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(p ReconnectPolicy, attempt int, rng *rand.Rand) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return p.InitialDelay
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 1.0
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}
