package worker

import (
	"time"

	"github.com/okian/kindred/internal/adapters/notify"
	"github.com/okian/kindred/pkg/logger"
)

const defaultName = "worker"

type settings struct {
	name        string
	logger      logger.Logger
	deduper     notify.Deduper
	sendTimeout time.Duration
	maxAttempts int
	backoff     time.Duration
}

func defaults() settings {
	return settings{
		name:        defaultName,
		logger:      logger.Get(),
		deduper:     notify.NewDeduper(),
		sendTimeout: defaultSendTimeout,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
}

// Option configures a Worker or every worker of a Pool.
type Option func(*settings)

// WithName sets the worker name used in logs. Pool workers get an index suffix.
func WithName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.name = name
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDeduper shares d between workers. Pools always share one deduper.
func WithDeduper(d notify.Deduper) Option {
	return func(s *settings) {
		if d != nil {
			s.deduper = d
		}
	}
}

// WithSendTimeout bounds a single delivery attempt.
func WithSendTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.sendTimeout = d
		}
	}
}

// WithMaxAttempts caps delivery attempts per message.
func WithMaxAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBackoff sets the delay before the first retry. It doubles per attempt.
func WithBackoff(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.backoff = d
		}
	}
}
