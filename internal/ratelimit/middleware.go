package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
)

// RouteFunc maps a request to the route key rules are registered under.
type RouteFunc func(r *http.Request) string

// DenyFunc writes the response for a rejected request. Rate headers are
// already set when it is called.
type DenyFunc func(w http.ResponseWriter, r *http.Request, d Decision)

// RouteKey is the default RouteFunc: "METHOD /path".
func RouteKey(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

// Middleware admits each request through l before calling next.
func Middleware(l *Limiter, route RouteFunc, deny DenyFunc) func(http.Handler) http.Handler {
	if route == nil {
		route = RouteKey
	}
	if deny == nil {
		deny = func(w http.ResponseWriter, _ *http.Request, _ Decision) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Admit(ClientIdentity(r), route(r))
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if !d.Allowed {
				h.Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds()))
				deny(w, r, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIdentity picks the first X-Forwarded-For hop, then X-Real-IP, then
// the peer address. Forwarded headers are taken at face value.
func ClientIdentity(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
