package funnelsim

import (
	"context"
	"math/rand/v2"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/kindred/internal/adapters/http/api"
	"github.com/okian/kindred/internal/adapters/notify"
	"github.com/okian/kindred/internal/adapters/repository"
	service "github.com/okian/kindred/internal/app"
	"github.com/okian/kindred/internal/domain/model"
	"github.com/okian/kindred/internal/domain/validation"
	"github.com/okian/kindred/internal/ratelimit"
	"github.com/okian/kindred/pkg/logger"
)

const adminToken = "sim-token"

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func newBackend(t *testing.T, rule ratelimit.Rule) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	store, err := repository.Open(ctx, "", repository.WithMaxRetries(200))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	limiter := ratelimit.New(ratelimit.WithRule("POST /survey", rule))
	svc := service.New(
		service.WithStore(store),
		service.WithLimiter(limiter),
		service.WithMailer(notify.NewLogMailer(logger.Get())),
		service.WithWorkerCount(1),
	)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	r := api.NewRouter(nil)
	api.NewServer(svc, svc, api.WithLimiter(limiter), api.WithAdminToken(adminToken)).Register(ctx, r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		svc.Stop()
		_ = store.Close()
	})
	return srv
}

func TestGeneratedPlansAreValid(t *testing.T) {
	Convey("Given generated plans", t, func() {
		cfg := &Config{Respondents: 50, TerminalStep: 6, EmailRatio: 1}
		rng := rand.New(rand.NewPCG(1, 2)) //nolint:gosec // test
		plans := generatePlans(context.Background(), cfg, rng)

		Convey("Then every respondent has one step per wizard page", func() {
			So(plans, ShouldHaveLength, 50)
			for _, p := range plans {
				So(p.Steps, ShouldHaveLength, 6)
				So(p.Steps[5].CurrentStep, ShouldEqual, 6)
				So(p.Steps[5].Contact, ShouldNotBeNil)
			}
		})

		Convey("Then respondents get distinct client addresses", func() {
			seen := map[string]bool{}
			for _, p := range plans {
				seen[p.ClientIP] = true
			}
			So(seen, ShouldHaveLength, 50)
		})

		Convey("Then every step passes server validation", func() {
			for _, p := range plans {
				for _, s := range p.Steps {
					data, err := json.Marshal(s)
					So(err, ShouldBeNil)
					var sub model.Submission
					So(json.Unmarshal(data, &sub), ShouldBeNil)
					So(validation.Struct(sub), ShouldBeNil)
				}
			}
		})
	})
}

func TestCompare(t *testing.T) {
	Convey("Given a plan and a stored record", t, func() {
		done := "2026-01-01T00:00:00Z"
		p := Plan{Steps: []Step{
			{CurrentStep: 1, UserType: "client"},
			{CurrentStep: 2, Location: &Location{City: "Austin", State: "TX"}},
		}}
		got := Response{UserType: "client", CurrentStep: 2, IsComplete: true, CompletedAt: &done, Location: &Location{City: "Austin", State: "TX"}}

		Convey("Then a faithful record passes", func() {
			So(compare(2, p, got), ShouldBeNil)
		})

		Convey("Then an incomplete record fails", func() {
			got.IsComplete = false
			So(compare(2, p, got), ShouldNotBeNil)
		})

		Convey("Then a lost answer fails", func() {
			got.Location = nil
			So(compare(2, p, got), ShouldNotBeNil)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a running backend with distinct client addresses", t, func() {
		srv := newBackend(t, ratelimit.Rule{Limit: 10, Window: time.Minute})
		out := filepath.Join(t.TempDir(), "plans.json")
		cfg := &Config{
			BaseURL:     srv.URL,
			Respondents: 20,
			Workers:     4,
			AdminToken:  adminToken,
			SpoofIPs:    true,
			EmailRatio:  0.5,
			OutputFile:  out,
		}

		stats, err := Run(context.Background(), cfg)

		Convey("Then every respondent completes and verifies", func() {
			So(err, ShouldBeNil)
			So(stats.StepsSubmitted, ShouldEqual, 120)
			So(stats.StepsFailed, ShouldEqual, 0)
			So(stats.Completed, ShouldEqual, 20)
			So(stats.Verified, ShouldEqual, 20)
			So(stats.VerifyFailed, ShouldEqual, 0)
		})

		Convey("Then the plans are saved", func() {
			data, err := os.ReadFile(out)
			So(err, ShouldBeNil)
			var plans []Plan
			So(json.Unmarshal(data, &plans), ShouldBeNil)
			So(plans, ShouldHaveLength, 20)
		})
	})

	Convey("Given one client address and a short window", t, func() {
		srv := newBackend(t, ratelimit.Rule{Limit: 10, Window: time.Second})
		cfg := &Config{BaseURL: srv.URL, Respondents: 2, Workers: 1, AdminToken: adminToken}

		stats, err := Run(context.Background(), cfg)

		Convey("Then throttled steps are retried after Retry-After", func() {
			So(err, ShouldBeNil)
			So(stats.StepsFailed, ShouldEqual, 0)
			So(stats.Completed, ShouldEqual, 2)
			So(stats.Verified, ShouldEqual, 2)
		})
	})

	Convey("Given no backend", t, func() {
		_, err := Run(context.Background(), &Config{BaseURL: "http://127.0.0.1:1", Respondents: 1, Timeout: time.Second})

		Convey("Then the health check fails the run", func() {
			So(err, ShouldNotBeNil)
		})
	})
}
