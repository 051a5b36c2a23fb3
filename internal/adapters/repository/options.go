package repository

import (
	"time"

	"github.com/okian/kindred/pkg/logger"
)

// Option applies a configuration option to the BadgerStore.
type Option func(*BadgerStore)

// WithMaxRetries bounds how often a conflicting write transaction is retried.
func WithMaxRetries(n int) Option {
	return func(s *BadgerStore) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithMaintenanceInterval sets how often value-log GC and gauges run.
func WithMaintenanceInterval(interval time.Duration) Option {
	return func(s *BadgerStore) {
		if interval > 0 {
			s.maintenanceInterval = interval
		}
	}
}

// WithLogger sets the store's logger.
func WithLogger(l logger.Logger) Option {
	return func(s *BadgerStore) {
		if l != nil {
			s.log = l
		}
	}
}
