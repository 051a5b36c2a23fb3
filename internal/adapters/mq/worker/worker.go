// Package worker drains the notification queue and delivers each message
// through a notify.Mailer.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/kindred/internal/adapters/notify"
	"github.com/okian/kindred/pkg/logger"
	"github.com/okian/kindred/pkg/metrics"
)

const (
	defaultWorkers      = 4
	defaultSendTimeout  = 10 * time.Second
	defaultMaxAttempts  = 3
	defaultBackoff      = 500 * time.Millisecond
	// drainGrace is added on top of one message's worst-case delivery time.
	drainGrace = 30 * time.Second
)

// Delivery outcomes recorded per message kind.
const (
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusDuplicate = "duplicate"
)

// Queue is the read side workers consume.
type Queue interface {
	Dequeue(ctx context.Context) <-chan notify.Message
}

// Worker delivers messages until its queue channel closes or it is shut down.
type Worker struct {
	queue  Queue
	mailer notify.Mailer
	cfg    settings
	name   string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewWorker creates a worker.
func NewWorker(q Queue, m notify.Mailer, opts ...Option) *Worker {
	cfg := defaults()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newWorker(q, m, cfg, cfg.name)
}

func newWorker(q Queue, m notify.Mailer, cfg settings, name string) *Worker {
	return &Worker{
		queue:    q,
		mailer:   m,
		cfg:      cfg,
		name:     name,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   cfg.logger.Named(name),
	}
}

// Run processes messages until ctx ends, Shutdown is called, or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	ch := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.deliver(ctx, msg)
		}
	}
}

// Shutdown stops the worker after the message in flight.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// deliver sends msg at most once per message ID, retrying transient failures.
func (w *Worker) deliver(ctx context.Context, msg notify.Message) { //nolint:gocritic // hugeParam: received by value from the channel
	kind := string(msg.Kind)
	if w.cfg.deduper.SeenAndRecord(ctx, msg.ID) {
		metrics.RecordNotification(kind, StatusDuplicate)
		w.logger.Debug(ctx, "skipping duplicate notification", logger.String("id", msg.ID))
		return
	}

	err := w.sendWithRetry(ctx, msg)
	if err != nil {
		// Forget the ID so a later enqueue of the same message can try again.
		w.cfg.deduper.Unrecord(ctx, msg.ID)
		metrics.RecordNotification(kind, StatusFailed)
		metrics.RecordErrorByComponent("notify", "delivery_failed")
		w.logger.Error(ctx, "notification delivery failed",
			logger.String("id", msg.ID),
			logger.String("kind", kind),
			logger.Error(err),
		)
		return
	}
	metrics.RecordNotification(kind, StatusSent)
	w.logger.Info(ctx, "notification sent", logger.String("id", msg.ID), logger.String("kind", kind))
}

func (w *Worker) sendWithRetry(ctx context.Context, msg notify.Message) error { //nolint:gocritic // hugeParam
	var err error
	backoff := w.cfg.backoff
	for attempt := 1; attempt <= w.cfg.maxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, w.cfg.sendTimeout)
		err = w.mailer.Send(sendCtx, msg)
		cancel()
		if err == nil || errors.Is(err, notify.ErrPermanent) {
			return err
		}
		if attempt == w.cfg.maxAttempts {
			break
		}
		w.logger.Warn(ctx, "notification send failed, retrying",
			logger.String("id", msg.ID),
			logger.Int("attempt", attempt),
			logger.Error(err),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		case <-w.shutdown:
			return fmt.Errorf("worker stopped: %w", err)
		}
		backoff *= 2
	}
	return fmt.Errorf("after %d attempts: %w", w.cfg.maxAttempts, err)
}

// Pool runs a fixed set of workers over one queue.
type Pool struct {
	workers []*Worker
	queue   Queue
	cfg     settings
	logger  logger.Logger
}

// NewPool creates count workers. count < 1 uses the default of four.
func NewPool(count int, q Queue, m notify.Mailer, opts ...Option) *Pool {
	if count < 1 {
		count = defaultWorkers
	}
	cfg := defaults()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.name == defaultName {
		cfg.name = "notify-worker"
	}

	p := &Pool{
		workers: make([]*Worker, count),
		queue:   q,
		cfg:     cfg,
		logger:  cfg.logger.Named("notify-pool"),
	}
	for i := range p.workers {
		p.workers[i] = newWorker(q, m, cfg, cfg.name+"-"+strconv.Itoa(i))
	}
	return p
}

// Size is the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// RetryBudget is the longest a single message can occupy a worker: every
// attempt timing out plus the doubling backoff between attempts.
func (p *Pool) RetryBudget() time.Duration {
	budget := time.Duration(p.cfg.maxAttempts) * p.cfg.sendTimeout
	backoff := p.cfg.backoff
	for i := 1; i < p.cfg.maxAttempts; i++ {
		budget += backoff
		backoff *= 2
	}
	return budget
}

// DrainTimeout bounds how long Shutdown waits for the workers. It always
// exceeds RetryBudget so a message being retried is not cut off.
func (p *Pool) DrainTimeout() time.Duration {
	return p.RetryBudget() + drainGrace
}

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	metrics.UpdateNotifyWorkers(len(p.workers))
	p.logger.Info(ctx, "notification workers started", logger.Int("workers", len(p.workers)))
}

// Shutdown closes the queue if it can be closed, lets workers drain what is
// buffered, and waits for them until ctx or DrainTimeout expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.DrainTimeout())
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-waitCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateNotifyWorkers(0)
	if timedOut {
		return fmt.Errorf("notification pool shutdown: %w", waitCtx.Err())
	}
	return nil
}

// Stop signals every worker to stop without draining the queue.
func (p *Pool) Stop(ctx context.Context) error {
	var errs []error
	for _, w := range p.workers {
		if err := w.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	metrics.UpdateNotifyWorkers(0)
	return errors.Join(errs...)
}
