package api_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/kindred/internal/adapters/http/api"
	"github.com/okian/kindred/internal/adapters/repository"
	"github.com/okian/kindred/internal/domain/model"
	"github.com/okian/kindred/internal/domain/types"
	"github.com/okian/kindred/internal/domain/validation"
	"github.com/okian/kindred/internal/ratelimit"
	"github.com/okian/kindred/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type fakeDeps struct {
	lastSub    model.Submission
	lastFilter types.ListFilter
	lastPage   types.PageRequest
	lastUnsub  string
	submitErr  error
	getErr     error
	joinErr    error
	unsubErr   error
	records    map[string]*model.SurveyResponse
}

func newFakeDeps() *fakeDeps {
	return &fakeDeps{records: map[string]*model.SurveyResponse{}}
}

func (f *fakeDeps) SubmitStep(_ context.Context, sub model.Submission) (types.SubmitResult, error) {
	f.lastSub = sub
	if f.submitErr != nil {
		return types.SubmitResult{}, f.submitErr
	}
	if err := validation.Struct(sub); err != nil {
		return types.SubmitResult{}, err
	}
	rec := &model.SurveyResponse{ResponseID: "r-1", UserType: sub.UserType, CurrentStep: sub.CurrentStep}
	return types.SubmitResult{Record: rec, Created: true}, nil
}

func (f *fakeDeps) GetResponse(_ context.Context, id string) (*model.SurveyResponse, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, repository.ErrNotFound)
	}
	return rec, nil
}

func (f *fakeDeps) ListResponses(_ context.Context, fl types.ListFilter, p types.PageRequest) (types.Page[model.SurveyResponse], error) {
	f.lastFilter, f.lastPage = fl, p
	p = p.Normalize(100)
	return types.NewPage([]model.SurveyResponse{{ResponseID: "r-1"}}, p, 1), nil
}

func (f *fakeDeps) Stats(context.Context) (types.Stats, error) {
	return types.Stats{TotalResponses: 3, CompletedResponses: 1}, nil
}

func (f *fakeDeps) JoinWaitlist(_ context.Context, j model.WaitlistJoin) (model.WaitlistEntry, error) {
	if f.joinErr != nil {
		return model.WaitlistEntry{}, f.joinErr
	}
	return j.Entry(time.Unix(0, 0)), nil
}

func (f *fakeDeps) Unsubscribe(_ context.Context, email string) error {
	f.lastUnsub = email
	return f.unsubErr
}

type staticStats map[string]any

func (s staticStats) GetStats() map[string]any { return s }

type body struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Errors  []struct {
		Field string `json:"field"`
	} `json:"errors"`
}

func newHandler(deps api.Dependencies, opts ...api.Option) http.Handler {
	r := api.NewRouter([]string{"*"})
	api.NewServer(deps, staticStats{"started": true}, opts...).Register(context.Background(), r)
	return r
}

func do(h http.Handler, method, path, payload string, hdr ...string) (*httptest.ResponseRecorder, body) {
	var req *http.Request
	if payload == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var b body
	_ = json.Unmarshal(rec.Body.Bytes(), &b)
	return rec, b
}

func TestSubmitSurvey(t *testing.T) {
	Convey("Given the API over fake dependencies", t, func() {
		deps := newFakeDeps()
		h := newHandler(deps)

		Convey("When a valid first step is posted", func() {
			rec, b := do(h, http.MethodPost, "/survey", `{"userType":"client","currentStep":1}`,
				"X-Forwarded-For", "203.0.113.5", "User-Agent", "wizard/1.0")

			Convey("Then the record comes back in the success envelope", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(b.Success, ShouldBeTrue)
				var r model.SurveyResponse
				So(json.Unmarshal(b.Data, &r), ShouldBeNil)
				So(r.ResponseID, ShouldEqual, "r-1")
			})

			Convey("Then provenance is taken from the request", func() {
				So(deps.lastSub.IPAddress, ShouldEqual, "203.0.113.5")
				So(deps.lastSub.UserAgent, ShouldEqual, "wizard/1.0")
			})

			Convey("Then security headers are set", func() {
				So(rec.Header().Get("X-Content-Type-Options"), ShouldEqual, "nosniff")
			})
		})

		Convey("When the body has an unknown field", func() {
			rec, b := do(h, http.MethodPost, "/survey", `{"userType":"client","currentStep":1,"shoeSize":44}`)

			Convey("Then it is a bad request", func() {
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
				So(b.Success, ShouldBeFalse)
				So(b.Code, ShouldEqual, "bad_request")
			})
		})

		Convey("When the body is not JSON", func() {
			rec, _ := do(h, http.MethodPost, "/survey", `nope`)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When a field fails validation", func() {
			rec, b := do(h, http.MethodPost, "/survey", `{"userType":"client","currentStep":1,"contact":{"email":"bad"}}`)

			Convey("Then the failing fields are listed", func() {
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
				So(b.Code, ShouldEqual, "validation_error")
				So(len(b.Errors), ShouldBeGreaterThan, 0)
				So(b.Errors[0].Field, ShouldEqual, "contact.email")
			})
		})

		Convey("When the store is unavailable", func() {
			deps.submitErr = fmt.Errorf("upsert: %w", repository.ErrUnavailable)
			rec, b := do(h, http.MethodPost, "/survey", `{"userType":"client","currentStep":1}`)

			Convey("Then the failure is retryable", func() {
				So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(b.Code, ShouldEqual, "unavailable")
			})
		})

		Convey("When an unexpected error occurs", func() {
			deps.submitErr = fmt.Errorf("boom")
			rec, b := do(h, http.MethodPost, "/survey", `{"userType":"client","currentStep":1}`)

			Convey("Then internals are not leaked", func() {
				So(rec.Code, ShouldEqual, http.StatusInternalServerError)
				So(b.Message, ShouldEqual, "internal error")
			})
		})
	})
}

func TestSurveyRateLimit(t *testing.T) {
	Convey("Given the survey route limited to 10 per minute", t, func() {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		l := ratelimit.New(
			ratelimit.WithClock(func() time.Time { return now }),
			ratelimit.WithRule("POST /survey", ratelimit.Rule{Limit: 10, Window: time.Minute}),
		)
		h := newHandler(newFakeDeps(), api.WithLimiter(l))

		for i := 0; i < 10; i++ {
			rec, _ := do(h, http.MethodPost, "/survey", `{"userType":"client","currentStep":1}`, "X-Real-IP", "198.51.100.1")
			So(rec.Code, ShouldEqual, http.StatusOK)
		}

		Convey("Then the eleventh is rejected with retry information", func() {
			rec, b := do(h, http.MethodPost, "/survey", `{"userType":"client","currentStep":1}`, "X-Real-IP", "198.51.100.1")
			So(rec.Code, ShouldEqual, http.StatusTooManyRequests)
			So(b.Success, ShouldBeFalse)
			So(b.Code, ShouldEqual, "rate_limited")
			So(b.Message, ShouldEqual, "too many requests, please try again later")
			So(rec.Header().Get("Retry-After"), ShouldEqual, "60")
		})

		Convey("Then other clients and routes are unaffected", func() {
			rec, _ := do(h, http.MethodPost, "/survey", `{"userType":"client","currentStep":1}`, "X-Real-IP", "198.51.100.2")
			So(rec.Code, ShouldEqual, http.StatusOK)
			rec, _ = do(h, http.MethodPost, "/waitlist/join", `{"email":"a@example.com"}`, "X-Real-IP", "198.51.100.1")
			So(rec.Code, ShouldEqual, http.StatusCreated)
		})
	})
}

func TestAdminRoutes(t *testing.T) {
	Convey("Given admin routes behind a token", t, func() {
		deps := newFakeDeps()
		deps.records["abc"] = &model.SurveyResponse{ResponseID: "abc", UserType: model.UserTypeBoth}
		h := newHandler(deps, api.WithAdminToken("s3cret"))
		auth := []string{"Authorization", "Bearer s3cret"}

		Convey("Then requests without the token are rejected", func() {
			rec, b := do(h, http.MethodGet, "/survey", "")
			So(rec.Code, ShouldEqual, http.StatusUnauthorized)
			So(b.Code, ShouldEqual, "unauthorized")
			rec, _ = do(h, http.MethodGet, "/survey/abc", "", "Authorization", "Bearer wrong")
			So(rec.Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("Then a known response is returned", func() {
			rec, b := do(h, http.MethodGet, "/survey/abc", "", auth...)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(string(b.Data), ShouldContainSubstring, `"responseId":"abc"`)
		})

		Convey("Then an unknown response is 404", func() {
			rec, b := do(h, http.MethodGet, "/survey/zzz", "", auth...)
			So(rec.Code, ShouldEqual, http.StatusNotFound)
			So(b.Code, ShouldEqual, "not_found")
		})

		Convey("Then list query parameters become a filter", func() {
			rec, b := do(h, http.MethodGet, "/survey?page=2&limit=5&userType=client&isComplete=true&betaInterest=false&source=tiktok&state=TX&from=2026-01-01&to=2026-01-31", "", auth...)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(b.Success, ShouldBeTrue)
			So(deps.lastPage, ShouldResemble, types.PageRequest{Page: 2, Limit: 5})
			So(deps.lastFilter.UserType, ShouldEqual, model.UserTypeClient)
			So(*deps.lastFilter.IsComplete, ShouldBeTrue)
			So(*deps.lastFilter.BetaInterest, ShouldBeFalse)
			So(deps.lastFilter.Source, ShouldEqual, "tiktok")
			So(deps.lastFilter.State, ShouldEqual, "TX")
			So(deps.lastFilter.From.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)), ShouldBeTrue)
			So(deps.lastFilter.To.After(time.Date(2026, 1, 31, 23, 59, 0, 0, time.UTC)), ShouldBeTrue)
		})

		Convey("Then malformed list parameters are rejected", func() {
			rec, _ := do(h, http.MethodGet, "/survey?isComplete=maybe", "", auth...)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			rec, _ = do(h, http.MethodGet, "/survey?from=yesterday", "", auth...)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			rec, _ = do(h, http.MethodGet, "/survey?page=x", "", auth...)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Then stats are served", func() {
			rec, b := do(h, http.MethodGet, "/survey/stats", "", auth...)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(string(b.Data), ShouldContainSubstring, `"totalResponses":3`)
		})
	})
}

func TestWaitlistRoutes(t *testing.T) {
	Convey("Given the waitlist routes", t, func() {
		deps := newFakeDeps()
		h := newHandler(deps)

		Convey("Then a join answers 201", func() {
			rec, b := do(h, http.MethodPost, "/waitlist/join", `{"email":"New@Example.com","name":"Nia"}`)
			So(rec.Code, ShouldEqual, http.StatusCreated)
			So(string(b.Data), ShouldContainSubstring, "new@example.com")
		})

		Convey("Then a duplicate join answers 409", func() {
			deps.joinErr = fmt.Errorf("join: %w", repository.ErrDuplicate)
			rec, b := do(h, http.MethodPost, "/waitlist/join", `{"email":"a@example.com"}`)
			So(rec.Code, ShouldEqual, http.StatusConflict)
			So(b.Code, ShouldEqual, "duplicate")
		})

		Convey("Then unsubscribe always succeeds", func() {
			rec, b := do(h, http.MethodPost, "/email/unsubscribe", `{"email":"who@example.com"}`)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(b.Success, ShouldBeTrue)
			So(deps.lastUnsub, ShouldEqual, "who@example.com")

			deps.unsubErr = repository.ErrUnavailable
			rec, b = do(h, http.MethodPost, "/email/unsubscribe", `{"email":"who@example.com"}`)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(b.Success, ShouldBeTrue)
		})
	})
}

func TestHealthAndMetrics(t *testing.T) {
	Convey("Given the API", t, func() {
		h := newHandler(newFakeDeps())

		Convey("Then /healthz reports ok", func() {
			rec, _ := do(h, http.MethodGet, "/healthz", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `"status":"ok"`)
		})

		Convey("Then /metrics serves prometheus text", func() {
			do(h, http.MethodGet, "/healthz", "")
			rec, _ := do(h, http.MethodGet, "/metrics", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, "http_requests_total")
		})

		Convey("Then unknown routes use the envelope", func() {
			rec, b := do(h, http.MethodGet, "/nope", "")
			So(rec.Code, ShouldEqual, http.StatusNotFound)
			So(b.Success, ShouldBeFalse)
		})
	})
}

func TestErrorKinds(t *testing.T) {
	Convey("Given wrapped API errors", t, func() {
		cause := fmt.Errorf("x: %w", repository.ErrNotFound)
		err := api.WrapKind("api.op", api.ErrBadRequest, cause)

		Convey("Then both kind and cause match", func() {
			So(err.Error(), ShouldContainSubstring, "api.op")
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			So(errors.Is(api.NewKind("op", api.ErrUnauthorized), api.ErrUnauthorized), ShouldBeTrue)
			So(errors.Is(api.NewKind("POST /survey", api.ErrRateLimited), api.ErrRateLimited), ShouldBeTrue)
			So(api.Wrap("op", nil), ShouldBeNil)
		})
	})
}
