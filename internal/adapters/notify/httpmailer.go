package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/okian/kindred/pkg/logger"
	"github.com/okian/kindred/pkg/metrics"
)

const breakerName = "email-api"

// HTTPMailer posts messages to a JSON email API (Resend-compatible payload)
// through a circuit breaker.
type HTTPMailer struct {
	endpoint string
	apiKey   string
	from     string
	client   *http.Client
	cb       *gobreaker.CircuitBreaker[struct{}]
	log      logger.Logger
}

// HTTPMailerOption configures an HTTPMailer.
type HTTPMailerOption func(*HTTPMailer, *gobreaker.Settings)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPMailerOption {
	return func(m *HTTPMailer, _ *gobreaker.Settings) {
		if c != nil {
			m.client = c
		}
	}
}

// WithBreakerTimeout sets how long the breaker stays open before probing.
func WithBreakerTimeout(d time.Duration) HTTPMailerOption {
	return func(_ *HTTPMailer, st *gobreaker.Settings) {
		if d > 0 {
			st.Timeout = d
		}
	}
}

// WithMailerLogger sets the mailer's logger.
func WithMailerLogger(l logger.Logger) HTTPMailerOption {
	return func(m *HTTPMailer, _ *gobreaker.Settings) {
		if l != nil {
			m.log = l
		}
	}
}

type sendRequest struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// NewHTTPMailer builds a mailer for endpoint. The breaker opens after five
// consecutive transient failures.
func NewHTTPMailer(endpoint, apiKey, from string, opts ...HTTPMailerOption) *HTTPMailer {
	m := &HTTPMailer{
		endpoint: endpoint,
		apiKey:   apiKey,
		from:     from,
		client:   &http.Client{Timeout: 15 * time.Second},
		log:      logger.Get().Named("mailer"),
	}
	st := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		// A rejected payload says nothing about the provider's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrPermanent)
		},
	}
	for _, opt := range opts {
		opt(m, &st)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		m.log.Warn(context.Background(), "circuit breaker state change",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
		metrics.UpdateCircuitBreakerState(name, stateValue(to))
	}
	m.cb = gobreaker.NewCircuitBreaker[struct{}](st)
	metrics.UpdateCircuitBreakerState(breakerName, 0)
	return m
}

// Send implements Mailer.
func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	start := time.Now()
	_, err := m.cb.Execute(func() (struct{}, error) {
		return struct{}{}, m.post(ctx, msg)
	})
	metrics.RecordNotifyLatency(float64(time.Since(start).Milliseconds()))
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("email api unavailable: %w", err)
	}
	return err
}

// State reports the breaker state.
func (m *HTTPMailer) State() gobreaker.State {
	return m.cb.State()
}

func (m *HTTPMailer) post(ctx context.Context, msg Message) error {
	body, err := json.Marshal(sendRequest{
		From:    m.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		Headers: map[string]string{"X-Entity-Ref-ID": msg.ID},
	})
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrPermanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.ID)
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s: %w", msg.ID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("send %s: status %d: %s", msg.ID, resp.StatusCode, snippet)
	default:
		return fmt.Errorf("%w: send %s: status %d: %s", ErrPermanent, msg.ID, resp.StatusCode, snippet)
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
