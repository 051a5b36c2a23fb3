package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/okian/kindred/internal/funnelsim"
)

const (
	defaultRespondents = 200
	defaultWorkers     = 8
	defaultTimeout     = 10 * time.Second
	defaultRunTimeout  = 10 * time.Minute
)

func main() {
	var (
		baseURL      = flag.String("url", "http://localhost:9080", "Base URL of the service")
		respondents  = flag.Int("respondents", defaultRespondents, "Number of simulated respondents")
		workers      = flag.Int("workers", defaultWorkers, "Respondents in flight at once")
		terminalStep = flag.Int("terminal-step", 6, "Step that completes the wizard")
		timeout      = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		adminToken   = flag.String("admin-token", "", "Bearer token used to read back responses")
		emailRatio   = flag.Float64("email-ratio", 0.5, "Share of respondents that leave an email")
		spoofIP      = flag.Bool("spoof-ip", true, "Send a distinct X-Forwarded-For per respondent")
		outputFile   = flag.String("output", "", "Save the generated plans as JSON")
		logFile      = flag.String("log", "", "Log file (default: funnel_sim_TIMESTAMP.log)")
		verbose      = flag.Bool("verbose", false, "Enable debug logging")
		help         = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		funnelsim.ShowHelp()
		return
	}

	if err := funnelsim.SetupLogging(*logFile, *verbose); err != nil {
		_, _ = os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	cfg := &funnelsim.Config{
		BaseURL:      *baseURL,
		Respondents:  *respondents,
		Workers:      *workers,
		TerminalStep: *terminalStep,
		Timeout:      *timeout,
		AdminToken:   *adminToken,
		SpoofIPs:     *spoofIP,
		EmailRatio:   *emailRatio,
		OutputFile:   *outputFile,
		Verbose:      *verbose,
	}

	stats, err := funnelsim.Run(ctx, cfg)
	if err != nil {
		_, _ = os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
	if stats.StepsFailed > 0 || stats.VerifyFailed > 0 {
		cancel()
		os.Exit(2)
	}
}
