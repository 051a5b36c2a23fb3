package funnelsim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

var errRateLimited = errors.New("rate limited")

// client talks to the funnel API.
type client struct {
	http    *http.Client
	baseURL string
	token   string
}

func newClient(cfg *Config) *client {
	return &client{
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		token:   cfg.AdminToken,
	}
}

// rateLimitError carries the server's Retry-After.
type rateLimitError struct {
	retryAfter time.Duration
}

func (e *rateLimitError) Error() string { return fmt.Sprintf("rate limited, retry after %s", e.retryAfter) }
func (e *rateLimitError) Unwrap() error { return errRateLimited }

func (c *client) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}

func (c *client) submit(ctx context.Context, clientIP string, s Step) (Response, error) { //nolint:gocritic // hugeParam
	body, err := json.Marshal(s)
	if err != nil {
		return Response{}, fmt.Errorf("marshal step: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/survey", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if clientIP != "" {
		req.Header.Set("X-Forwarded-For", clientIP)
	}
	return c.do(req)
}

func (c *client) get(ctx context.Context, id string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/survey/"+id, http.NoBody)
	if err != nil {
		return Response{}, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.do(req)
}

func (c *client) do(req *http.Request) (Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return Response{}, &rateLimitError{retryAfter: time.Duration(max(secs, 1)) * time.Second}
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Response{}, fmt.Errorf("status %d: decode: %w", resp.StatusCode, err)
	}
	if !env.Success {
		return Response{}, fmt.Errorf("status %d: %s (%s)", resp.StatusCode, env.Message, env.Code)
	}
	return env.Data, nil
}
