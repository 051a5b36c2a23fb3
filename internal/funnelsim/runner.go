package funnelsim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/kindred/pkg/logger"
)

const (
	defaultWorkers      = 8
	defaultTerminalStep = 6
	defaultTimeout      = 10 * time.Second
	maxRateLimitRetries = 3
	progressEvery       = 100
)

// counters are shared between respondent workers.
type counters struct {
	submitted   atomic.Int64
	failed      atomic.Int64
	rateLimited atomic.Int64
	completed   atomic.Int64
}

// outcome is what one respondent ended with.
type outcome struct {
	plan       Plan
	responseID string
	err        error
}

// Run executes a simulation: health check, plan generation, walking every
// respondent through the wizard, then verifying the stored records.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	applyDefaults(cfg)
	log := logger.Get()
	stats := &Stats{Respondents: cfg.Respondents, StartTime: time.Now()}

	log.Info(ctx, "starting funnel simulation",
		logger.String("url", cfg.BaseURL),
		logger.Int("respondents", cfg.Respondents),
		logger.Int("workers", cfg.Workers),
		logger.Int("terminal_step", cfg.TerminalStep),
	)

	c := newClient(cfg)
	if err := c.health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	//nolint:gosec // simulated answers need no crypto randomness
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6b696e64))
	plans := generatePlans(ctx, cfg, rng)
	if cfg.OutputFile != "" {
		if err := savePlans(plans, cfg.OutputFile); err != nil {
			log.Warn(ctx, "failed to save plans", logger.Error(err))
		}
	}

	var cnt counters
	outcomes := walkAll(ctx, c, cfg, plans, &cnt)

	stats.StepsSubmitted = int(cnt.submitted.Load())
	stats.StepsFailed = int(cnt.failed.Load())
	stats.RateLimited = int(cnt.rateLimited.Load())
	stats.Completed = int(cnt.completed.Load())

	stats.Verified, stats.VerifyFailed = verifyAll(ctx, c, cfg, outcomes)

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)
	return stats, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.TerminalStep <= 0 {
		cfg.TerminalStep = defaultTerminalStep
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
}

func walkAll(ctx context.Context, c *client, cfg *Config, plans []Plan, cnt *counters) []outcome {
	log := logger.Get()
	out := make([]outcome, len(plans))
	jobs := make(chan int)
	var wg sync.WaitGroup
	var done atomic.Int64

	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				id, err := walk(ctx, c, cfg, plans[i], cnt)
				out[i] = outcome{plan: plans[i], responseID: id, err: err}
				if err != nil && cfg.Verbose {
					log.Warn(ctx, "respondent failed", logger.String("label", plans[i].Label), logger.Error(err))
				}
				if n := done.Add(1); n%progressEvery == 0 {
					log.Info(ctx, "progress", logger.Int("respondents_done", int(n)))
				}
			}
		}()
	}

	for i := range plans {
		select {
		case jobs <- i:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return out
		}
	}
	close(jobs)
	wg.Wait()
	return out
}

// walk submits every step of p in order, threading the server's responseId.
func walk(ctx context.Context, c *client, cfg *Config, p Plan, cnt *counters) (string, error) { //nolint:gocritic // hugeParam
	ip := ""
	if cfg.SpoofIPs {
		ip = p.ClientIP
	}
	var id string
	for _, step := range p.Steps {
		step.ResponseID = id
		resp, err := submitWithRetry(ctx, c, ip, step, cnt)
		if err != nil {
			cnt.failed.Add(1)
			return id, fmt.Errorf("step %d: %w", step.CurrentStep, err)
		}
		cnt.submitted.Add(1)
		id = resp.ResponseID
		if resp.IsComplete && step.CurrentStep == cfg.TerminalStep {
			cnt.completed.Add(1)
		}
	}
	return id, nil
}

func submitWithRetry(ctx context.Context, c *client, ip string, s Step, cnt *counters) (Response, error) { //nolint:gocritic // hugeParam
	for attempt := 0; ; attempt++ {
		resp, err := c.submit(ctx, ip, s)
		var rl *rateLimitError
		if !errors.As(err, &rl) || attempt >= maxRateLimitRetries {
			return resp, err
		}
		cnt.rateLimited.Add(1)
		t := time.NewTimer(rl.retryAfter)
		select {
		case <-ctx.Done():
			t.Stop()
			return Response{}, ctx.Err()
		case <-t.C:
		}
	}
}

func savePlans(plans []Plan, path string) error {
	data, err := json.MarshalIndent(plans, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plans: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func displayFinalStats(ctx context.Context, s *Stats) {
	rate := 0.0
	if s.Duration > 0 {
		rate = float64(s.StepsSubmitted) / s.Duration.Seconds()
	}
	logger.Get().Info(ctx, "simulation finished",
		logger.Int("respondents", s.Respondents),
		logger.Int("steps_submitted", s.StepsSubmitted),
		logger.Int("steps_failed", s.StepsFailed),
		logger.Int("rate_limited", s.RateLimited),
		logger.Int("completed", s.Completed),
		logger.Int("verified", s.Verified),
		logger.Int("verify_failed", s.VerifyFailed),
		logger.Duration("duration", s.Duration),
		logger.Float64("steps_per_second", rate),
	)
}
