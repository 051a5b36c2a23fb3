package ratelimit

import (
	"time"

	"github.com/okian/kindred/pkg/logger"
)

// Option configures a Limiter.
type Option func(l *Limiter, shards *int)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter, _ *int) {
		if now != nil {
			l.now = now
		}
	}
}

// WithDefaultRule sets the rule for routes without their own.
func WithDefaultRule(r Rule) Option {
	return func(l *Limiter, _ *int) {
		if r.Limit > 0 && r.Window > 0 {
			l.defaultRule = r
		}
	}
}

// WithRule sets the rule for one route key.
func WithRule(route string, r Rule) Option {
	return func(l *Limiter, _ *int) {
		if r.Limit > 0 && r.Window > 0 {
			l.rules[route] = r
		}
	}
}

// WithSweepEvery sweeps the touched shard on every nth Admit. Zero disables it.
func WithSweepEvery(n uint64) Option {
	return func(l *Limiter, _ *int) {
		l.sweepEvery = n
	}
}

// WithSweepInterval sets the background sweep period used by Start.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter, _ *int) {
		l.sweepTick = d
	}
}

// WithShards sets the number of lock shards.
func WithShards(n int) Option {
	return func(_ *Limiter, shards *int) {
		if n > 0 {
			*shards = n
		}
	}
}

// WithLogger sets the limiter's logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Limiter, _ *int) {
		if lg != nil {
			l.log = lg
		}
	}
}
