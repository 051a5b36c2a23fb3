package ratelimit_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/okian/kindred/internal/ratelimit"
	"github.com/okian/kindred/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func initLogger(t *testing.T) {
	t.Helper()
	if err := logger.Init(); err != nil {
		t.Fatalf("init logger: %v", err)
	}
}

const surveyRoute = "POST /survey"

func newLimiter(clock *fakeClock, opts ...ratelimit.Option) *ratelimit.Limiter {
	base := []ratelimit.Option{
		ratelimit.WithClock(clock.Now),
		ratelimit.WithRule(surveyRoute, ratelimit.Rule{Limit: 10, Window: time.Minute}),
		ratelimit.WithDefaultRule(ratelimit.Rule{Limit: 100, Window: time.Minute}),
	}
	return ratelimit.New(append(base, opts...)...)
}

func TestLimiterAdmit(t *testing.T) {
	initLogger(t)

	Convey("Given a limiter of 10 requests per 60s on the survey route", t, func() {
		clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		l := newLimiter(clock)

		Convey("When ten requests arrive within the window", func() {
			var last ratelimit.Decision
			for i := 0; i < 10; i++ {
				last = l.Admit("1.2.3.4", surveyRoute)
				So(last.Allowed, ShouldBeTrue)
				clock.Advance(time.Second)
			}

			Convey("Then the tenth leaves nothing remaining", func() {
				So(last.Remaining, ShouldEqual, 0)
				So(last.Limit, ShouldEqual, 10)
			})

			Convey("Then the eleventh is denied with a retry-after within the window", func() {
				d := l.Admit("1.2.3.4", surveyRoute)
				So(d.Allowed, ShouldBeFalse)
				So(d.RetryAfter, ShouldBeGreaterThan, 0)
				So(d.RetryAfter, ShouldBeLessThanOrEqualTo, time.Minute)
				So(d.RetryAfterSeconds(), ShouldEqual, 50)
			})

			Convey("Then another identity is unaffected", func() {
				So(l.Admit("5.6.7.8", surveyRoute).Allowed, ShouldBeTrue)
			})

			Convey("Then another route uses its own budget", func() {
				d := l.Admit("1.2.3.4", "POST /waitlist/join")
				So(d.Allowed, ShouldBeTrue)
				So(d.Limit, ShouldEqual, 100)
			})

			Convey("Then after the window elapses the count restarts at one", func() {
				So(l.Admit("1.2.3.4", surveyRoute).Allowed, ShouldBeFalse)
				clock.Advance(time.Minute)
				d := l.Admit("1.2.3.4", surveyRoute)
				So(d.Allowed, ShouldBeTrue)
				So(d.Remaining, ShouldEqual, 9)
			})
		})

		Convey("When the window is almost over", func() {
			for i := 0; i < 11; i++ {
				l.Admit("1.2.3.4", surveyRoute)
			}
			clock.Advance(59*time.Second + 500*time.Millisecond)
			d := l.Admit("1.2.3.4", surveyRoute)

			Convey("Then retry-after is rounded up to one second", func() {
				So(d.Allowed, ShouldBeFalse)
				So(d.RetryAfter, ShouldEqual, time.Second)
			})
		})
	})
}

func TestLimiterConcurrency(t *testing.T) {
	initLogger(t)

	Convey("Given many goroutines hitting one key", t, func() {
		clock := &fakeClock{now: time.Unix(0, 0)}
		l := newLimiter(clock)

		var wg sync.WaitGroup
		var mu sync.Mutex
		allowed := 0
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if l.Admit("9.9.9.9", surveyRoute).Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly the limit is admitted", func() {
			So(allowed, ShouldEqual, 10)
		})
	})
}

func TestLimiterSweep(t *testing.T) {
	initLogger(t)

	Convey("Given windows for several identities", t, func() {
		clock := &fakeClock{now: time.Unix(0, 0)}
		l := newLimiter(clock, ratelimit.WithSweepEvery(0), ratelimit.WithShards(4))
		for i := 0; i < 20; i++ {
			l.Admit(fmt.Sprintf("10.0.0.%d", i), surveyRoute)
		}
		So(l.Len(), ShouldEqual, 20)

		Convey("When sweeping before expiry", func() {
			Convey("Then nothing is removed", func() {
				So(l.Sweep(), ShouldEqual, 0)
			})
		})

		Convey("When sweeping after expiry", func() {
			clock.Advance(2 * time.Minute)
			l.Admit("10.0.1.1", surveyRoute)

			Convey("Then only expired windows are removed", func() {
				So(l.Sweep(), ShouldEqual, 20)
				So(l.Len(), ShouldEqual, 1)
			})
		})
	})

	Convey("Given opportunistic sweeping on every admission", t, func() {
		clock := &fakeClock{now: time.Unix(0, 0)}
		l := newLimiter(clock, ratelimit.WithSweepEvery(1), ratelimit.WithShards(1))
		l.Admit("a", surveyRoute)
		clock.Advance(2 * time.Minute)
		l.Admit("b", surveyRoute)

		Convey("Then the expired window is dropped", func() {
			So(l.Len(), ShouldEqual, 1)
		})
	})

	Convey("Given a started limiter", t, func() {
		clock := &fakeClock{now: time.Unix(0, 0)}
		l := newLimiter(clock, ratelimit.WithSweepInterval(5*time.Millisecond))
		l.Admit("a", surveyRoute)
		l.Start(context.Background())
		clock.Advance(2 * time.Minute)

		Convey("Then the background sweep removes expired windows", func() {
			deadline := time.Now().Add(time.Second)
			for l.Len() > 0 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			l.Stop()
			So(l.Len(), ShouldEqual, 0)
		})

		Convey("Then Stop is idempotent", func() {
			l.Stop()
			So(func() { l.Stop() }, ShouldNotPanic)
		})
	})
}

func TestMiddleware(t *testing.T) {
	initLogger(t)

	Convey("Given the middleware with a limit of 2", t, func() {
		clock := &fakeClock{now: time.Unix(0, 0)}
		l := ratelimit.New(ratelimit.WithClock(clock.Now), ratelimit.WithDefaultRule(ratelimit.Rule{Limit: 2, Window: time.Minute}))
		h := ratelimit.Middleware(l, nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		do := func() *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodPost, "/survey", nil)
			req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			return rec
		}

		Convey("Then allowed requests carry remaining budget", func() {
			rec := do()
			So(rec.Code, ShouldEqual, http.StatusNoContent)
			So(rec.Header().Get("X-RateLimit-Limit"), ShouldEqual, "2")
			So(rec.Header().Get("X-RateLimit-Remaining"), ShouldEqual, "1")
		})

		Convey("Then the third request is rejected with Retry-After", func() {
			do()
			do()
			rec := do()
			So(rec.Code, ShouldEqual, http.StatusTooManyRequests)
			So(rec.Header().Get("Retry-After"), ShouldEqual, "60")
		})
	})
}

func TestClientIdentity(t *testing.T) {
	Convey("Given requests from behind proxies", t, func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.1:5555"

		Convey("Then the peer address is the fallback", func() {
			So(ratelimit.ClientIdentity(req), ShouldEqual, "192.0.2.1")
		})

		Convey("Then X-Real-IP beats the peer", func() {
			req.Header.Set("X-Real-IP", "198.51.100.2")
			So(ratelimit.ClientIdentity(req), ShouldEqual, "198.51.100.2")
		})

		Convey("Then the first forwarded hop wins", func() {
			req.Header.Set("X-Real-IP", "198.51.100.2")
			req.Header.Set("X-Forwarded-For", " 203.0.113.9 ,198.51.100.2")
			So(ratelimit.ClientIdentity(req), ShouldEqual, "203.0.113.9")
		})
	})
}
