package service

import (
	"fmt"

	"github.com/okian/kindred/internal/adapters/repository"
)

// ErrNotStarted is returned by operations called before Start or after Stop.
// It matches repository.ErrUnavailable so callers treat it as retryable.
var ErrNotStarted = fmt.Errorf("service not started: %w", repository.ErrUnavailable)
