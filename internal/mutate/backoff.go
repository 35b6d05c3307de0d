package mutate

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// PollConfig paces compile log polling. The zero Multiplier and MaxAttempts
// give the console's reference behavior: a fixed interval, forever.
type PollConfig struct {
	Interval    time.Duration
	Multiplier  float64
	MaxInterval time.Duration
	Jitter      bool
	// MaxAttempts bounds the number of log reads; 0 means unbounded.
	MaxAttempts int
}

const DefaultPollInterval = 2 * time.Second

// DefaultPollConfig polls every two seconds without a bound.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:   DefaultPollInterval,
		Multiplier: 1.0,
	}
}

// NextPollDelay returns the wait before poll N (1-based). With Jitter the
// delay is scaled by a factor in [0.5, 1.5) drawn from rng, or from the
// package source when rng is nil.
func NextPollDelay(cfg PollConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.Interval
	}
	if cfg.Interval <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.Interval) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxInterval > 0 && delay > float64(cfg.MaxInterval) {
		delay = float64(cfg.MaxInterval)
	}
	if cfg.Jitter {
		r := rand.Float64
		if rng != nil {
			r = rng.Float64
		}
		delay *= 0.5 + r()
	}
	return time.Duration(delay)
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
