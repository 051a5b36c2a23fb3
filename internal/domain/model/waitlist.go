package model

import (
	"strings"
	"time"
)

// WaitlistEntry is an email captured outside the survey wizard.
type WaitlistEntry struct {
	Email          string     `json:"email"`
	Name           string     `json:"name,omitempty"`
	UserType       UserType   `json:"userType,omitempty"`
	Source         string     `json:"source,omitempty"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"createdAt"`
	UnsubscribedAt *time.Time `json:"unsubscribedAt,omitempty"`
	IPAddress      string     `json:"ipAddress,omitempty"`
	UserAgent      string     `json:"userAgent,omitempty"`
}

// WaitlistJoin is the payload accepted by the join endpoint.
type WaitlistJoin struct {
	Email    string   `json:"email" validate:"required,email,max=254"`
	Name     string   `json:"name,omitempty" validate:"omitempty,max=120"`
	UserType UserType `json:"userType,omitempty" validate:"omitempty,oneof=client provider both undecided"`
	Source   string   `json:"source,omitempty" validate:"omitempty,max=64"`

	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

// Entry builds an active waitlist entry from the join request.
func (j WaitlistJoin) Entry(now time.Time) WaitlistEntry {
	return WaitlistEntry{
		Email:     NormalizeEmail(j.Email),
		Name:      strings.TrimSpace(j.Name),
		UserType:  j.UserType,
		Source:    j.Source,
		Active:    true,
		CreatedAt: now.UTC(),
		IPAddress: j.IPAddress,
		UserAgent: j.UserAgent,
	}
}

// NormalizeEmail is the canonical key form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
