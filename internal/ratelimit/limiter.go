// Package ratelimit implements an in-process fixed-window request limiter
// keyed by client identity and route.
//
// State is per process and is not shared between instances.
package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/kindred/pkg/logger"
	"github.com/okian/kindred/pkg/metrics"
)

// Rule is a request budget per window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Decision is the result of one Admit call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// RetryAfterSeconds is RetryAfter in whole seconds, rounded up.
func (d Decision) RetryAfterSeconds() int {
	return int((d.RetryAfter + time.Second - 1) / time.Second)
}

type entry struct {
	count   int
	resetAt time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Limiter counts requests per (identity, route) in fixed windows.
type Limiter struct {
	now         func() time.Time
	defaultRule Rule
	rules       map[string]Rule
	shards      []*shard
	sweepEvery  uint64
	sweepTick   time.Duration
	calls       atomic.Uint64
	log         logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New builds a limiter. It counts immediately; Start only adds the
// background sweep.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		now:         time.Now,
		defaultRule: Rule{Limit: 100, Window: time.Minute},
		rules:       make(map[string]Rule),
		sweepEvery:  1000,
		sweepTick:   5 * time.Minute,
		log:         logger.Get().Named("ratelimit"),
	}
	shards := 16
	for _, opt := range opts {
		opt(l, &shards)
	}
	l.shards = make([]*shard, shards)
	for i := range l.shards {
		l.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return l
}

// Rule returns the rule applied to route.
func (l *Limiter) Rule(route string) Rule {
	if r, ok := l.rules[route]; ok {
		return r
	}
	return l.defaultRule
}

// Admit records one request for identity on route and decides whether it may proceed.
func (l *Limiter) Admit(identity, route string) Decision {
	rule := l.Rule(route)
	key := route + "|" + identity
	now := l.now()
	s := l.shardFor(key)

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = &entry{count: 1, resetAt: now.Add(rule.Window)}
		s.entries[key] = e
	} else {
		e.count++
	}
	count, resetAt := e.count, e.resetAt
	if l.sweepEvery > 0 && l.calls.Add(1)%l.sweepEvery == 0 {
		sweepLocked(s, now)
	}
	s.mu.Unlock()

	d := Decision{
		Allowed: count <= rule.Limit,
		Limit:   rule.Limit,
		ResetAt: resetAt,
	}
	if d.Allowed {
		d.Remaining = rule.Limit - count
	} else {
		d.RetryAfter = ceilSecond(resetAt.Sub(now))
	}
	metrics.RecordRateLimitDecision(route, d.Allowed)
	return d
}

// Len reports how many windows are held, expired ones included until swept.
func (l *Limiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Sweep removes every expired window and returns how many were dropped.
func (l *Limiter) Sweep() int {
	now := l.now()
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		removed += sweepLocked(s, now)
		s.mu.Unlock()
	}
	metrics.UpdateRateLimitEntries(l.Len())
	return removed
}

// Start runs the periodic sweep until ctx is done or Stop is called.
func (l *Limiter) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running || l.sweepTick <= 0 {
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	l.running = true

	go func(done chan struct{}) {
		defer close(done)
		t := time.NewTicker(l.sweepTick)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := l.Sweep(); n > 0 {
					l.log.Debug(ctx, "swept expired windows", logger.Int("removed", n))
				}
			}
		}
	}(l.done)
}

// Stop halts the sweeper and waits for it to exit.
func (l *Limiter) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done
}

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%uint32(len(l.shards))] //nolint:gosec // len is small and positive
}

func sweepLocked(s *shard, now time.Time) int {
	removed := 0
	for k, e := range s.entries {
		if !now.Before(e.resetAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

func ceilSecond(d time.Duration) time.Duration {
	if d <= time.Second {
		return time.Second
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}
