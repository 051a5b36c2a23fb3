package service

import (
	"time"

	"github.com/okian/kindred/internal/adapters/notify"
	"github.com/okian/kindred/internal/adapters/repository"
	"github.com/okian/kindred/internal/ratelimit"
	"github.com/okian/kindred/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore injects the record store. The caller keeps ownership of it.
func WithStore(st repository.Store) Option {
	return func(s *Service) {
		s.store = st
	}
}

// WithDBPath sets where Start opens badger when no store is injected.
// Empty keeps the data in memory.
func WithDBPath(path string) Option {
	return func(s *Service) {
		s.dbPath = path
	}
}

// WithLimiter injects the rate limiter. Start and Stop drive its sweeper.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Service) {
		s.limiter = l
	}
}

// WithMailer sets the delivery backend. The default only logs.
func WithMailer(m notify.Mailer) Option {
	return func(s *Service) {
		s.mailer = m
	}
}

// WithDeduper shares a deduper with the notification workers.
func WithDeduper(d notify.Deduper) Option {
	return func(s *Service) {
		s.deduper = d
	}
}

// WithTerminalStep sets the step that completes a response.
func WithTerminalStep(step int) Option {
	return func(s *Service) {
		if step > 0 {
			s.terminalStep = step
		}
	}
}

// WithMaxPageLimit caps the page size of list calls.
func WithMaxPageLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPageLimit = n
		}
	}
}

// WithAdminEmail enables operator notifications.
func WithAdminEmail(email string) Option {
	return func(s *Service) {
		s.adminEmail = email
	}
}

// WithBaseURL sets the public URL used in email links.
func WithBaseURL(u string) Option {
	return func(s *Service) {
		if u != "" {
			s.baseURL = u
		}
	}
}

// WithWorkerCount sets the number of notification workers.
func WithWorkerCount(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workerCount = n
		}
	}
}

// WithQueueSize sets the notification queue capacity.
func WithQueueSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithSendTimeout bounds one delivery attempt.
func WithSendTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sendTimeout = d
		}
	}
}

// WithMaxAttempts caps delivery attempts per notification.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator replaces the UUID generator for response ids.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
