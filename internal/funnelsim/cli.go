package funnelsim

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/kindred/pkg/logger"
)

const logFilePermission = 0o600

// SetupLogging sends structured logs to stdout and to logFile. An empty
// logFile gets a timestamped name.
func SetupLogging(logFile string, verbose bool) error {
	if logFile == "" {
		logFile = "funnel_sim_" + time.Now().Format("20060102_150405") + ".log"
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	if err := logger.Init(logger.WithWriter(io.MultiWriter(os.Stdout, file))); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`Kindred Funnel Simulator
========================

Walks simulated respondents through the survey wizard and verifies
the records the server stored.

Usage:
  go run ./cmd/funnel-sim [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -respondents int
        Number of simulated respondents (default 200)
  -workers int
        Respondents in flight at once (default 8)
  -terminal-step int
        Step that completes the wizard (default 6)
  -timeout duration
        HTTP request timeout (default 10s)
  -admin-token string
        Bearer token used to read back responses (enables verification)
  -email-ratio float
        Share of respondents that leave an email (default 0.5)
  -spoof-ip
        Send a distinct X-Forwarded-For per respondent (default true)
  -output string
        Save the generated plans as JSON
  -log string
        Log file (default: funnel_sim_TIMESTAMP.log)
  -verbose
        Enable debug logging
  -help
        Show this help message

Examples:
  go run ./cmd/funnel-sim -respondents 1000 -workers 32
  go run ./cmd/funnel-sim -admin-token secret -output plans.json
  go run ./cmd/funnel-sim -spoof-ip=false -respondents 3
`)
}
