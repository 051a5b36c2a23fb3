package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/kindred/internal/adapters/notify"
	"github.com/okian/kindred/internal/adapters/repository"
	service "github.com/okian/kindred/internal/app"
	"github.com/okian/kindred/internal/config"
	"github.com/okian/kindred/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("KINDRED_ADDR", ":8080")
	t.Setenv("KINDRED_SURVEY_RATE_LIMIT", "5")
	t.Setenv("KINDRED_NOTIFY_WORKERS", "2")

	convey.Convey("Given environment overrides", t, func() {
		cfg, err := config.Load(context.Background())

		convey.Convey("Then they replace the defaults", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.SurveyRateLimit, convey.ShouldEqual, 5)
			convey.So(cfg.NotifyWorkers, convey.ShouldEqual, 2)
		})

		convey.Convey("Then the limiter applies the survey rule", func() {
			l := newLimiter(cfg)
			convey.So(l.Rule("POST /survey").Limit, convey.ShouldEqual, 5)
			convey.So(l.Rule("POST /survey").Window, convey.ShouldEqual, time.Minute)
			convey.So(l.Rule("POST /waitlist/join").Limit, convey.ShouldEqual, cfg.DefaultRateLimit)
		})
	})
}

func TestNewMailer(t *testing.T) {
	convey.Convey("Given a config", t, func() {
		cfg := config.New()

		convey.Convey("When no API key is set", func() {
			convey.Convey("Then mail is only logged", func() {
				_, ok := newMailer(cfg).(*notify.LogMailer)
				convey.So(ok, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When an API key is set", func() {
			cfg.EmailAPIKey = "re_test"
			convey.Convey("Then mail goes to the email API", func() {
				_, ok := newMailer(cfg).(*notify.HTTPMailer)
				convey.So(ok, convey.ShouldBeTrue)
			})
		})
	})
}

func TestRouter(t *testing.T) {
	convey.Convey("Given the assembled router", t, func() {
		ctx := context.Background()
		cfg := config.New()
		cfg.AdminToken = "admin"

		store, err := repository.Open(ctx, "")
		convey.So(err, convey.ShouldBeNil)
		limiter := newLimiter(cfg)
		svc := service.New(service.WithStore(store), service.WithLimiter(limiter), service.WithMailer(newMailer(cfg)))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer func() {
			svc.Stop()
			_ = store.Close()
		}()
		r := newRouter(ctx, cfg, svc, limiter)

		do := func(method, path, body string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(method, path, strings.NewReader(body))
			if body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			return rec
		}

		convey.Convey("Then the landing page is served", func() {
			rec := do(http.MethodGet, "/", "")
			convey.So(rec.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(rec.Body.String(), convey.ShouldContainSubstring, "<form")
		})

		convey.Convey("Then the API docs are served", func() {
			convey.So(do(http.MethodGet, "/openapi.yaml", "").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(do(http.MethodGet, "/api-docs", "").Code, convey.ShouldEqual, http.StatusOK)
		})

		convey.Convey("Then health reports ok", func() {
			rec := do(http.MethodGet, "/healthz", "")
			convey.So(rec.Code, convey.ShouldEqual, http.StatusOK)
		})

		convey.Convey("Then a survey step is accepted", func() {
			rec := do(http.MethodPost, "/survey", `{"currentStep":1,"userType":"client"}`)
			convey.So(rec.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(rec.Body.String(), convey.ShouldContainSubstring, `"responseId"`)
		})

		convey.Convey("Then admin reads require the token", func() {
			convey.So(do(http.MethodGet, "/survey", "").Code, convey.ShouldEqual, http.StatusUnauthorized)
		})
	})
}

func TestSystemMetrics(t *testing.T) {
	convey.Convey("Given the system metrics updater", t, func() {
		convey.Convey("Then a single update does not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})

		convey.Convey("Then the loop returns when the context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			done := make(chan struct{})
			go func() {
				startSystemMetricsUpdater(ctx)
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("updater did not stop")
			}
		})
	})
}
