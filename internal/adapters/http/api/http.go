// Package api declares the HTTP routes of the survey funnel.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"

	"github.com/okian/kindred/internal/adapters/repository"
	"github.com/okian/kindred/internal/domain/model"
	"github.com/okian/kindred/internal/domain/types"
	"github.com/okian/kindred/internal/domain/validation"
	"github.com/okian/kindred/internal/ratelimit"
	"github.com/okian/kindred/pkg/logger"
)

const maxBodyBytes = 64 << 10

// Dependencies required by HTTP handlers. The app service implements it.
type Dependencies interface {
	SubmitStep(ctx context.Context, sub model.Submission) (types.SubmitResult, error)
	GetResponse(ctx context.Context, id string) (*model.SurveyResponse, error)
	ListResponses(ctx context.Context, f types.ListFilter, p types.PageRequest) (types.Page[model.SurveyResponse], error)
	Stats(ctx context.Context) (types.Stats, error)

	JoinWaitlist(ctx context.Context, join model.WaitlistJoin) (model.WaitlistEntry, error)
	Unsubscribe(ctx context.Context, email string) error
}

// StatsProvider exposes runtime statistics for /healthz.
type StatsProvider interface {
	GetStats() map[string]any
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps       Dependencies
	stats      StatsProvider
	limiter    *ratelimit.Limiter
	adminToken string
	logger     logger.Logger

	health   *HealthHandler
	survey   *SurveyHandler
	waitlist *WaitlistHandler
}

// Option configures a Server.
type Option func(*Server)

// WithLimiter enables per-client rate limiting on the public routes.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithAdminToken requires "Authorization: Bearer <token>" on admin routes.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates the API server with all handlers.
func NewServer(deps Dependencies, stats StatsProvider, opts ...Option) *Server {
	s := &Server{deps: deps, stats: stats, logger: logger.Get().Named("api")}
	for _, opt := range opts {
		opt(s)
	}
	s.health = NewHealthHandler(stats)
	s.survey = NewSurveyHandler(deps, s.logger)
	s.waitlist = NewWaitlistHandler(deps, s.logger)
	return s
}

// NewRouter returns a chi router with the middleware shared by every route.
func NewRouter(allowedOrigins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))
	r.Use(SecurityHeaders)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

// Register attaches the API routes to r.
func (s *Server) Register(_ context.Context, r chi.Router) {
	r.With(MetricsMiddleware).Get("/healthz", s.health.HandleHealth)
	r.Handle("/metrics", s.health.MetricsHandler())

	r.Group(func(r chi.Router) {
		r.Use(MetricsMiddleware)

		r.With(s.rateLimit("POST /survey")).Post("/survey", s.survey.HandleSubmit)
		r.With(s.rateLimit("POST /waitlist/join")).Post("/waitlist/join", s.waitlist.HandleJoin)
		r.With(s.rateLimit("POST /email/unsubscribe")).Post("/email/unsubscribe", s.waitlist.HandleUnsubscribe)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit("admin"))
			r.Use(AdminAuth(s.adminToken))
			r.Get("/survey", s.survey.HandleList)
			r.Get("/survey/stats", s.survey.HandleStats)
			r.Get("/survey/{responseId}", s.survey.HandleGet)
		})
	})
}

// rateLimit admits requests under a fixed route key so every path variant of
// a route shares one budget per client.
func (s *Server) rateLimit(route string) func(http.Handler) http.Handler {
	if s.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return ratelimit.Middleware(s.limiter,
		func(*http.Request) string { return route },
		func(w http.ResponseWriter, r *http.Request, d ratelimit.Decision) {
			s.logger.Debug(r.Context(), "rate limited",
				logger.String("route", route),
				logger.String("client", ratelimit.ClientIdentity(r)),
				logger.Int("retryAfter", d.RetryAfterSeconds()),
			)
			writeFailure(r.Context(), s.logger, w, NewKind(route, ErrRateLimited))
		},
	)
}

type envelope struct {
	Success bool                    `json:"success"`
	Data    any                     `json:"data,omitempty"`
	Message string                  `json:"message,omitempty"`
	Code    string                  `json:"code,omitempty"`
	Errors  []validation.FieldError `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, envelope{Success: false, Code: code, Message: msg})
}

// writeFailure maps err onto the envelope and status code.
func writeFailure(ctx context.Context, log logger.Logger, w http.ResponseWriter, err error) {
	var ve *validation.RequestValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, envelope{Code: "validation_error", Message: ve.Error(), Errors: ve.Fields})
	case errors.Is(err, model.ErrValidation), errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", causeMessage(err))
	case errors.Is(err, ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid admin token")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, repository.ErrDuplicate):
		writeError(w, http.StatusConflict, "duplicate", "already exists")
	case errors.Is(err, ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
	case errors.Is(err, repository.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		log.Warn(ctx, "store unavailable", logger.Error(err))
		writeError(w, http.StatusServiceUnavailable, "unavailable", "temporarily unavailable, please retry")
	default:
		log.Error(ctx, "request failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

// causeMessage drops the operation prefix of api errors for client display.
func causeMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Err != nil {
		return ae.Err.Error()
	}
	return err.Error()
}

// decodeJSON reads a single JSON object, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("body must contain a single JSON object")
	}
	return nil
}
