package funnelsim

import (
	"context"
	"fmt"

	"github.com/okian/kindred/pkg/logger"
)

// verifyAll reads back every respondent that finished walking and checks the
// stored record. Without an admin token only the walk outcomes count.
func verifyAll(ctx context.Context, c *client, cfg *Config, outcomes []outcome) (verified, failed int) {
	log := logger.Get()
	for _, o := range outcomes {
		if o.err != nil || o.responseID == "" {
			continue
		}
		if err := verifyOne(ctx, c, cfg, o); err != nil {
			failed++
			log.Warn(ctx, "verification failed",
				logger.String("response_id", o.responseID),
				logger.Error(err),
			)
			continue
		}
		verified++
	}
	return verified, failed
}

func verifyOne(ctx context.Context, c *client, cfg *Config, o outcome) error { //nolint:gocritic // hugeParam
	got, err := c.get(ctx, o.responseID)
	if err != nil {
		return err
	}
	return compare(cfg.TerminalStep, o.plan, got)
}

// compare checks the merged record against what the plan submitted.
func compare(terminal int, p Plan, got Response) error { //nolint:gocritic // hugeParam
	if !got.IsComplete || got.CompletedAt == nil {
		return fmt.Errorf("not complete")
	}
	if got.CurrentStep != terminal {
		return fmt.Errorf("currentStep %d, want %d", got.CurrentStep, terminal)
	}
	for _, s := range p.Steps {
		if s.UserType != "" && got.UserType != s.UserType {
			return fmt.Errorf("userType %q, want %q", got.UserType, s.UserType)
		}
		if s.EventTypes != nil && len(got.EventTypes) != len(s.EventTypes) {
			return fmt.Errorf("eventTypes %v, want %v", got.EventTypes, s.EventTypes)
		}
		if s.Location != nil && (got.Location == nil || *got.Location != *s.Location) {
			return fmt.Errorf("location %+v, want %+v", got.Location, s.Location)
		}
		if s.Contact != nil && (got.Contact == nil || got.Contact.Email != s.Contact.Email) {
			return fmt.Errorf("contact %+v, want %+v", got.Contact, s.Contact)
		}
	}
	return nil
}
