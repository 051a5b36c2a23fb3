package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/kindred/internal/domain/model"
	"github.com/okian/kindred/internal/domain/types"
	"github.com/okian/kindred/internal/ratelimit"
	"github.com/okian/kindred/pkg/logger"
)

// SurveyHandler serves the wizard submission and the admin reads.
type SurveyHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewSurveyHandler creates a survey handler.
func NewSurveyHandler(deps Dependencies, l logger.Logger) *SurveyHandler {
	return &SurveyHandler{deps: deps, logger: l}
}

// HandleSubmit handles POST /survey.
func (h *SurveyHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_survey"
	var sub model.Submission
	if err := decodeJSON(w, r, &sub); err != nil {
		writeFailure(r.Context(), h.logger, w, WrapKind(op, ErrBadRequest, err))
		return
	}
	sub.IPAddress = ratelimit.ClientIdentity(r)
	sub.UserAgent = r.UserAgent()

	res, err := h.deps.SubmitStep(r.Context(), sub)
	if err != nil {
		writeFailure(r.Context(), h.logger, w, Wrap(op, err))
		return
	}
	writeData(w, http.StatusOK, res.Record)
}

// HandleGet handles GET /survey/{responseId}.
func (h *SurveyHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_survey"
	id := strings.TrimSpace(chi.URLParam(r, "responseId"))
	if id == "" {
		writeFailure(r.Context(), h.logger, w, NewKind(op, ErrBadRequest))
		return
	}
	rec, err := h.deps.GetResponse(r.Context(), id)
	if err != nil {
		writeFailure(r.Context(), h.logger, w, Wrap(op, err))
		return
	}
	writeData(w, http.StatusOK, rec)
}

// HandleList handles GET /survey.
func (h *SurveyHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_surveys"
	f, p, err := parseListQuery(r.URL.Query())
	if err != nil {
		writeFailure(r.Context(), h.logger, w, WrapKind(op, ErrBadRequest, err))
		return
	}
	page, err := h.deps.ListResponses(r.Context(), f, p)
	if err != nil {
		writeFailure(r.Context(), h.logger, w, Wrap(op, err))
		return
	}
	writeData(w, http.StatusOK, page)
}

// HandleStats handles GET /survey/stats.
func (h *SurveyHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Stats(r.Context())
	if err != nil {
		writeFailure(r.Context(), h.logger, w, Wrap("api.survey_stats", err))
		return
	}
	writeData(w, http.StatusOK, st)
}

func parseListQuery(q url.Values) (types.ListFilter, types.PageRequest, error) {
	var (
		f   types.ListFilter
		p   types.PageRequest
		err error
	)
	if p.Page, err = intParam(q, "page"); err != nil {
		return f, p, err
	}
	if p.Limit, err = intParam(q, "limit"); err != nil {
		return f, p, err
	}
	f.UserType = model.UserType(strings.TrimSpace(q.Get("userType")))
	if f.IsComplete, err = boolParam(q, "isComplete"); err != nil {
		return f, p, err
	}
	if f.BetaInterest, err = boolParam(q, "betaInterest"); err != nil {
		return f, p, err
	}
	f.Source = strings.TrimSpace(q.Get("source"))
	f.State = strings.TrimSpace(q.Get("state"))
	if f.From, err = timeParam(q, "from", false); err != nil {
		return f, p, err
	}
	if f.To, err = timeParam(q, "to", true); err != nil {
		return f, p, err
	}
	return f, p, nil
}

func intParam(q url.Values, key string) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func boolParam(q url.Values, key string) (*bool, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return nil, nil //nolint:nilnil // absent filter
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be true or false", key)
	}
	return &b, nil
}

// timeParam accepts RFC 3339 or a calendar date. A date used as an upper
// bound covers the whole day.
func timeParam(q url.Values, key string, endOfDay bool) (*time.Time, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return nil, nil //nolint:nilnil // absent filter
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, fmt.Errorf("%s must be RFC 3339 or YYYY-MM-DD", key)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
