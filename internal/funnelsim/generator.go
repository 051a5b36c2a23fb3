package funnelsim

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/okian/kindred/pkg/logger"
)

var (
	userTypes   = []string{"client", "provider", "both", "undecided"}                                     //nolint:gochecknoglobals // answer pools
	eventTypes  = []string{"dinner", "weddings", "corporate", "travel", "social", "cultural", "sports"}   //nolint:gochecknoglobals
	frequencies = []string{"one-time", "occasional", "monthly", "weekly"}                                  //nolint:gochecknoglobals
	safety      = []string{"verification", "background-check", "reviews", "public-meeting"}                //nolint:gochecknoglobals
	cities      = []Location{{"Austin", "TX"}, {"Denver", "CO"}, {"Brooklyn", "NY"}, {"Oakland", "CA"}}    //nolint:gochecknoglobals
	sources     = []string{"instagram", "tiktok", "friend", "search"}                                      //nolint:gochecknoglobals
)

// generatePlans builds one plan per respondent.
func generatePlans(ctx context.Context, cfg *Config, rng *rand.Rand) []Plan {
	logger.Get().Info(ctx, "generating respondent plans", logger.Int("respondents", cfg.Respondents))
	plans := make([]Plan, cfg.Respondents)
	for i := range plans {
		plans[i] = generatePlan(i, cfg, rng)
	}
	return plans
}

func generatePlan(index int, cfg *Config, rng *rand.Rand) Plan {
	label := uuid.NewString()
	p := Plan{
		Label:    label,
		ClientIP: fmt.Sprintf("10.%d.%d.%d", (index>>16)&0xff, (index>>8)&0xff, index&0xff),
	}
	for step := 1; step <= cfg.TerminalStep; step++ {
		p.Steps = append(p.Steps, answersFor(step, cfg, label, rng))
	}
	return p
}

// answersFor fills the fields the wizard page asks on each step. Steps past
// the sixth only carry the step number.
func answersFor(step int, cfg *Config, label string, rng *rand.Rand) Step {
	s := Step{CurrentStep: step}
	switch step {
	case 1:
		s.UserType = pick(rng, userTypes)
		s.Source = pick(rng, sources)
	case 2:
		s.EventTypes = sample(rng, eventTypes, 1+rng.IntN(3))
	case 3:
		s.BookingFrequency = pick(rng, frequencies)
		lo := 20 + 10*rng.IntN(5)
		s.PriceComfort = &PriceComfort{HourlyMin: lo, HourlyMax: lo + 10*(1+rng.IntN(5)), Currency: "USD"}
	case 4:
		s.SafetyPriorities = sample(rng, safety, 1+rng.IntN(len(safety)))
	case 5:
		loc := pick(rng, cities)
		s.Location = &loc
	case 6:
		if rng.Float64() < cfg.EmailRatio {
			s.Contact = &Contact{Name: "Sim " + label[:8], Email: "sim+" + label[:8] + "@example.com"}
		}
		beta := rng.IntN(2) == 0
		s.BetaInterest = &beta
	}
	return s
}

func pick[T any](rng *rand.Rand, from []T) T {
	return from[rng.IntN(len(from))]
}

func sample(rng *rand.Rand, from []string, n int) []string {
	if n > len(from) {
		n = len(from)
	}
	idx := rng.Perm(len(from))[:n]
	out := make([]string, n)
	for i, j := range idx {
		out[i] = from[j]
	}
	return out
}
