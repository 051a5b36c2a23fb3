package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "KINDRED_"
	envFileVar = "KINDRED_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if KINDRED_CONFIG is set
//  3. env (prefix KINDRED_)
func Load(_ context.Context) (*Config, error) {
	base := New()
	k := koanf.New(".")

	if path := os.Getenv(envFileVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrLoadConfig, path, err)
		}
	}

	// KINDRED_SURVEY_RATE_LIMIT -> survey_rate_limit (flat keys matching koanf tags).
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.TerminalStep < 1:
		return fmt.Errorf("%w: terminal_step must be >= 1", ErrInvalidConfig)
	case c.SurveyRateLimit < 1 || c.SurveyRateWindowSeconds < 1:
		return fmt.Errorf("%w: survey rate limit and window must be positive", ErrInvalidConfig)
	case c.DefaultRateLimit < 1 || c.DefaultRateWindowSeconds < 1:
		return fmt.Errorf("%w: default rate limit and window must be positive", ErrInvalidConfig)
	case c.MaxPageLimit < 1:
		return fmt.Errorf("%w: max_page_limit must be >= 1", ErrInvalidConfig)
	case c.EmailAPIKey != "" && strings.TrimSpace(c.EmailFrom) == "":
		return fmt.Errorf("%w: email_from is required when email_api_key is set", ErrInvalidConfig)
	}
	return nil
}
