// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Defaults live in New(); Load layers a YAML file and the environment on top.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DBPath is the badger data directory. Empty runs the store in memory.
	DBPath string `koanf:"db_path"`

	// Outbound email API.
	EmailAPIURL string `koanf:"email_api_url"`
	EmailAPIKey string `koanf:"email_api_key"`
	EmailFrom   string `koanf:"email_from"`
	// AdminEmail receives operator notifications for completed surveys.
	AdminEmail string `koanf:"admin_email"`
	// AdminToken guards the admin read routes when set.
	AdminToken string `koanf:"admin_token"`
	// BaseURL is used for links embedded in emails.
	BaseURL string `koanf:"base_url"`

	// TerminalStep is the wizard step that marks a response complete.
	TerminalStep int `koanf:"terminal_step"`

	SurveyRateLimit          int `koanf:"survey_rate_limit"`
	SurveyRateWindowSeconds  int `koanf:"survey_rate_window_seconds"`
	DefaultRateLimit         int `koanf:"default_rate_limit"`
	DefaultRateWindowSeconds int `koanf:"default_rate_window_seconds"`
	// RateLimitSweepSeconds is the period of the background sweep of expired windows.
	RateLimitSweepSeconds int `koanf:"rate_limit_sweep_interval_seconds"`

	NotifyWorkers     int `koanf:"notify_workers"`
	NotifyQueueSize   int `koanf:"notify_queue_size"`
	NotifyTimeoutMS   int `koanf:"notify_timeout_ms"`
	NotifyMaxAttempts int `koanf:"notify_max_attempts"`

	// MaxPageLimit caps GET /survey?limit.
	MaxPageLimit int `koanf:"max_page_limit"`

	// CORSOrigins is a comma separated allow-list for the public wizard.
	CORSOrigins string `koanf:"cors_origins"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                 "info",
		LogFormat:                "text",
		Addr:                     ":9080",
		DBPath:                   "",
		EmailAPIURL:              "https://api.resend.com/emails",
		EmailFrom:                "Kindred <hello@kindred.example>",
		BaseURL:                  "http://localhost:9080",
		TerminalStep:             6,
		SurveyRateLimit:          10,
		SurveyRateWindowSeconds:  60,
		DefaultRateLimit:         100,
		DefaultRateWindowSeconds: 60,
		RateLimitSweepSeconds:    300,
		NotifyWorkers:            4,
		NotifyQueueSize:          1024,
		NotifyTimeoutMS:          10_000,
		NotifyMaxAttempts:        3,
		MaxPageLimit:             100,
		CORSOrigins:              "*",
	}
}

// AllowedOrigins splits CORSOrigins into a trimmed list.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// SurveyWindow returns the survey route window as a duration.
func (c *Config) SurveyWindow() time.Duration {
	return time.Duration(c.SurveyRateWindowSeconds) * time.Second
}

// DefaultWindow returns the default route window as a duration.
func (c *Config) DefaultWindow() time.Duration {
	return time.Duration(c.DefaultRateWindowSeconds) * time.Second
}

// SweepInterval returns the limiter sweep period.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.RateLimitSweepSeconds) * time.Second
}

// NotifyTimeout returns the per-message send timeout.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutMS) * time.Millisecond
}
