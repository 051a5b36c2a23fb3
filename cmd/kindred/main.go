package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/kindred/internal/adapters/http/api"
	"github.com/okian/kindred/internal/adapters/http/site"
	"github.com/okian/kindred/internal/adapters/http/swagger"
	"github.com/okian/kindred/internal/adapters/notify"
	"github.com/okian/kindred/internal/adapters/repository"
	service "github.com/okian/kindred/internal/app"
	"github.com/okian/kindred/internal/config"
	"github.com/okian/kindred/internal/ratelimit"
	"github.com/okian/kindred/pkg/logger"
	"github.com/okian/kindred/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 15 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	os.Exit(start())
}

func start() int {
	if err := logger.Init(); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Defaults -> optional file -> env.
	cfg, err := config.Load(ctx)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	if err := run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "kindred exited", logger.Error(err))
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.LogFormat != "" && cfg.LogFormat != "text" {
		if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
			return err
		}
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	store, err := repository.Open(ctx, cfg.DBPath, repository.WithLogger(log.Named("store")))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error(ctx, "store close failed", logger.Error(err))
		}
	}()

	limiter := newLimiter(cfg)
	svc := service.New(
		service.WithLogger(log),
		service.WithStore(store),
		service.WithLimiter(limiter),
		service.WithMailer(newMailer(cfg)),
		service.WithTerminalStep(cfg.TerminalStep),
		service.WithMaxPageLimit(cfg.MaxPageLimit),
		service.WithAdminEmail(cfg.AdminEmail),
		service.WithBaseURL(cfg.BaseURL),
		service.WithWorkerCount(cfg.NotifyWorkers),
		service.WithQueueSize(cfg.NotifyQueueSize),
		service.WithSendTimeout(cfg.NotifyTimeout()),
		service.WithMaxAttempts(cfg.NotifyMaxAttempts),
	)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(ctx, cfg, svc, limiter),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// newRouter mounts the landing page, API docs and the JSON API.
func newRouter(ctx context.Context, cfg *config.Config, svc *service.Service, limiter *ratelimit.Limiter) chi.Router {
	r := api.NewRouter(cfg.AllowedOrigins())
	site.Register(ctx, r)
	swagger.Register(ctx, r)
	api.NewServer(svc, svc,
		api.WithLimiter(limiter),
		api.WithAdminToken(cfg.AdminToken),
	).Register(ctx, r)
	return r
}

func newLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(
		ratelimit.WithRule("POST /survey", ratelimit.Rule{Limit: cfg.SurveyRateLimit, Window: cfg.SurveyWindow()}),
		ratelimit.WithDefaultRule(ratelimit.Rule{Limit: cfg.DefaultRateLimit, Window: cfg.DefaultWindow()}),
		ratelimit.WithSweepInterval(cfg.SweepInterval()),
	)
}

// newMailer posts to the email API when a key is configured and logs otherwise.
func newMailer(cfg *config.Config) notify.Mailer {
	if cfg.EmailAPIKey == "" {
		return notify.NewLogMailer(logger.Get().Named("mailer"))
	}
	return notify.NewHTTPMailer(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailFrom,
		notify.WithMailerLogger(logger.Get().Named("mailer")),
	)
}

func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if m.NumGC > 0 {
		metrics.RecordSystemGCPauseTime(float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond)
	}
}
