// Package service orchestrates the survey funnel: step persistence,
// completion notifications, the waitlist, and the lifecycle of the
// background components the HTTP API depends on.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/kindred/internal/adapters/mq/queue"
	"github.com/okian/kindred/internal/adapters/mq/worker"
	"github.com/okian/kindred/internal/adapters/notify"
	"github.com/okian/kindred/internal/adapters/repository"
	"github.com/okian/kindred/internal/domain/model"
	"github.com/okian/kindred/internal/domain/types"
	"github.com/okian/kindred/internal/domain/validation"
	"github.com/okian/kindred/internal/ratelimit"
	"github.com/okian/kindred/pkg/logger"
	"github.com/okian/kindred/pkg/metrics"
)

// Submission outcomes recorded in metrics.
const (
	outcomeCreated = "created"
	outcomeUpdated = "updated"
	outcomeInvalid = "invalid"
	outcomeError   = "error"
)

// Service implements the operations behind the HTTP API.
type Service struct {
	// life serializes Start and Stop; mu guards the fields below.
	life sync.Mutex
	mu   sync.RWMutex

	store     repository.Store
	ownsStore bool
	dbPath    string
	limiter   *ratelimit.Limiter
	mailer    notify.Mailer
	deduper   notify.Deduper
	templates *notify.Templates
	queue     *queue.InMemoryQueue
	pool      *worker.Pool

	terminalStep int
	maxPageLimit int
	adminEmail   string
	baseURL      string
	workerCount  int
	queueSize    int
	sendTimeout  time.Duration
	maxAttempts  int

	now   func() time.Time
	newID func() string

	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// New constructs a Service. Nothing runs until Start.
func New(opts ...Option) *Service {
	s := &Service{
		terminalStep: model.DefaultTerminalStep,
		maxPageLimit: 100,
		baseURL:      "http://localhost:9080",
		workerCount:  4,
		queueSize:    1024,
		sendTimeout:  10 * time.Second,
		maxAttempts:  3,
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store if none was injected and starts the limiter sweeper
// and the notification workers.
func (s *Service) Start(ctx context.Context) error {
	s.life.Lock()
	defer s.life.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting survey service...")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	if s.store == nil {
		st, err := repository.Open(runCtx, s.dbPath)
		if err != nil {
			cancel()
			return fmt.Errorf("open store: %w", err)
		}
		s.store, s.ownsStore = st, true
	}

	tmpl, err := notify.NewTemplates(s.baseURL)
	if err != nil {
		cancel()
		s.closeOwnedStore(ctx)
		return fmt.Errorf("load templates: %w", err)
	}
	s.templates = tmpl

	if s.limiter == nil {
		s.limiter = ratelimit.New()
	}
	s.limiter.Start(runCtx)

	if s.mailer == nil {
		s.mailer = notify.NewLogMailer(logger.Get().Named("mail"))
	}
	if s.deduper == nil {
		s.deduper = notify.NewDeduper()
	}
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.queue, s.mailer,
		worker.WithDeduper(s.deduper),
		worker.WithSendTimeout(s.sendTimeout),
		worker.WithMaxAttempts(s.maxAttempts),
		worker.WithLogger(s.logger.Named("notify")),
	)
	s.pool.Start(runCtx)

	s.cancel = cancel
	s.started = true
	s.logger.Info(ctx, "survey service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("terminalStep", s.terminalStep),
	)
	return nil
}

// Stop drains pending notifications, stops the sweeper and closes a store
// the service opened itself.
func (s *Service) Stop() {
	s.life.Lock()
	defer s.life.Unlock()

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	pool, limiter, cancel := s.pool, s.limiter, s.cancel
	s.mu.Unlock()

	ctx := context.Background()
	s.logger.Info(ctx, "stopping survey service...")

	// Callers arriving during the drain see ErrNotStarted instead of blocking.
	if err := pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "notification pool shutdown", logger.Error(err))
	}
	limiter.Stop()
	cancel()

	s.mu.Lock()
	s.closeOwnedStore(ctx)
	s.mu.Unlock()
	s.logger.Info(ctx, "survey service stopped")
}

func (s *Service) closeOwnedStore(ctx context.Context) {
	if !s.ownsStore || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "error closing store", logger.Error(err))
	}
	s.store, s.ownsStore = nil, false
}

// Limiter returns the rate limiter whose lifecycle the service manages.
func (s *Service) Limiter() *ratelimit.Limiter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limiter
}

// running returns the store once the service is started.
func (s *Service) running() (repository.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.store, nil
}

// SubmitStep validates sub and merges it into the response it names, creating
// a new response under a fresh server-issued id when sub.ResponseID is empty
// or unknown. Completion notifications are queued only by the submission that
// completes the response.
func (s *Service) SubmitStep(ctx context.Context, sub model.Submission) (types.SubmitResult, error) { //nolint:gocritic // hugeParam: Submission is a request value
	store, err := s.running()
	if err != nil {
		return types.SubmitResult{}, err
	}
	if err := validation.Struct(sub); err != nil {
		metrics.RecordSurveySubmission(outcomeInvalid)
		return types.SubmitResult{}, err
	}
	if sub.CurrentStep > s.terminalStep {
		metrics.RecordSurveySubmission(outcomeInvalid)
		return types.SubmitResult{}, fmt.Errorf("%w: currentStep must be at most %d", model.ErrValidation, s.terminalStep)
	}

	now := s.now()
	var transitioned bool
	// The store may retry this closure after a write conflict, so it must
	// derive everything from existing.
	mutate := func(existing *model.SurveyResponse) (*model.SurveyResponse, error) {
		transitioned = false
		rec := existing
		if rec == nil {
			created, err := model.NewSurveyResponse(s.newID(), sub, now)
			if err != nil {
				return nil, err
			}
			rec = created
		}
		transitioned = rec.Apply(sub, s.terminalStep, now)
		return rec, nil
	}

	res, err := store.UpsertResponse(ctx, sub.ResponseID, mutate)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			metrics.RecordSurveySubmission(outcomeInvalid)
		} else {
			metrics.RecordSurveySubmission(outcomeError)
			s.logger.Error(ctx, "survey submission failed",
				logger.String("responseId", sub.ResponseID),
				logger.Int("step", sub.CurrentStep),
				logger.Error(err),
			)
		}
		return types.SubmitResult{}, err
	}

	if res.Created {
		metrics.RecordSurveyCreated()
		metrics.RecordSurveySubmission(outcomeCreated)
		if sub.ResponseID != "" {
			s.logger.Debug(ctx, "unknown response id, started a new response",
				logger.String("hint", sub.ResponseID),
				logger.String("responseId", res.Record.ResponseID),
			)
		}
	} else {
		metrics.RecordSurveySubmission(outcomeUpdated)
	}

	if transitioned {
		metrics.RecordSurveyCompleted()
		s.notifyCompletion(ctx, res.Record)
	}

	return types.SubmitResult{Record: res.Record, Created: res.Created, Completed: transitioned}, nil
}

// notifyCompletion queues the completion messages. Failures are logged only.
func (s *Service) notifyCompletion(ctx context.Context, rec *model.SurveyResponse) {
	msgs, err := s.templates.Completion(rec, s.adminEmail)
	if err != nil {
		metrics.RecordErrorByComponent("service", "render_notification")
		s.logger.Error(ctx, "render completion notifications",
			logger.String("responseId", rec.ResponseID),
			logger.Error(err),
		)
		return
	}
	if len(msgs) == 0 {
		s.logger.Debug(ctx, "completed response has no email, nothing to send",
			logger.String("responseId", rec.ResponseID))
		return
	}
	for _, msg := range msgs {
		s.enqueue(ctx, msg)
	}
}

func (s *Service) enqueue(ctx context.Context, msg notify.Message) { //nolint:gocritic // hugeParam
	// Delivery outlives the request that caused it.
	if !s.queue.Enqueue(context.WithoutCancel(ctx), msg) {
		s.logger.Warn(ctx, "notification dropped",
			logger.String("id", msg.ID),
			logger.String("kind", string(msg.Kind)),
		)
		return
	}
	s.logger.Debug(ctx, "notification queued", logger.String("id", msg.ID))
}

// GetResponse returns the response with id or repository.ErrNotFound.
func (s *Service) GetResponse(ctx context.Context, id string) (*model.SurveyResponse, error) {
	store, err := s.running()
	if err != nil {
		return nil, err
	}
	return store.GetResponse(ctx, id)
}

// ListResponses returns one page of responses matching f, newest first.
func (s *Service) ListResponses(ctx context.Context, f types.ListFilter, p types.PageRequest) (types.Page[model.SurveyResponse], error) { //nolint:gocritic // hugeParam
	store, err := s.running()
	if err != nil {
		return types.Page[model.SurveyResponse]{}, err
	}
	if f.UserType != "" && !f.UserType.Valid() {
		return types.Page[model.SurveyResponse]{}, fmt.Errorf("%w: unknown userType %q", model.ErrValidation, f.UserType)
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return types.Page[model.SurveyResponse]{}, fmt.Errorf("%w: to is before from", model.ErrValidation)
	}
	return store.ListResponses(ctx, f, p.Normalize(s.maxPageLimit))
}

// Stats summarizes the funnel.
func (s *Service) Stats(ctx context.Context) (types.Stats, error) {
	store, err := s.running()
	if err != nil {
		return types.Stats{}, err
	}
	return store.Stats(ctx)
}

// JoinWaitlist records an email capture and queues the welcome mail.
// A known email, active or not, yields repository.ErrDuplicate.
func (s *Service) JoinWaitlist(ctx context.Context, join model.WaitlistJoin) (model.WaitlistEntry, error) { //nolint:gocritic // hugeParam
	store, err := s.running()
	if err != nil {
		return model.WaitlistEntry{}, err
	}
	join.Email = model.NormalizeEmail(join.Email)
	if err := validation.Struct(join); err != nil {
		metrics.RecordWaitlistJoin(outcomeInvalid)
		return model.WaitlistEntry{}, err
	}

	entry := join.Entry(s.now())
	if err := store.JoinWaitlist(ctx, entry); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			metrics.RecordWaitlistJoin("duplicate")
		default:
			metrics.RecordWaitlistJoin(outcomeError)
			s.logger.Error(ctx, "waitlist join failed", logger.Error(err))
		}
		return model.WaitlistEntry{}, err
	}
	metrics.RecordWaitlistJoin(outcomeCreated)

	msg, err := s.templates.WaitlistWelcome(entry)
	if err != nil {
		s.logger.Error(ctx, "render waitlist welcome", logger.Error(err))
		return entry, nil
	}
	s.enqueue(ctx, msg)
	return entry, nil
}

// Unsubscribe deactivates the waitlist entry for email. Malformed and unknown
// emails are ignored. Only store failures are returned.
func (s *Service) Unsubscribe(ctx context.Context, email string) error {
	store, err := s.running()
	if err != nil {
		return err
	}
	email = model.NormalizeEmail(email)
	if !validation.Email(email) {
		s.logger.Debug(ctx, "ignoring unsubscribe for malformed email")
		return nil
	}
	changed, err := store.Unsubscribe(ctx, email, s.now())
	if err != nil {
		return err
	}
	if changed {
		metrics.RecordUnsubscribe()
	}
	return nil
}

// GetStats returns runtime statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":      s.started,
		"workerCount":  s.workerCount,
		"queueSize":    s.queueSize,
		"terminalStep": s.terminalStep,
	}
	if s.started {
		stats["queueLength"] = s.queue.Len()
		stats["rateLimitEntries"] = s.limiter.Len()
		stats["dedupeSize"] = s.deduper.Size()
		metrics.UpdateNotifyQueueSize(s.queue.Len())
	}
	return stats
}
