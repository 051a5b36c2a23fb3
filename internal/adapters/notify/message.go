// Package notify renders and delivers the funnel's transactional emails.
package notify

import (
	"context"
	"errors"
)

// Kind identifies a notification template.
type Kind string

// Notification kinds.
const (
	KindSurveyConfirmation Kind = "survey_confirmation"
	KindBetaWaitlist       Kind = "beta_waitlist"
	KindAdminNewResponse   Kind = "admin_new_response"
	KindWaitlistWelcome    Kind = "waitlist_welcome"
)

// Message is one rendered email.
type Message struct {
	// ID is deterministic per kind and subject so a redelivery can be detected.
	ID      string
	Kind    Kind
	To      string
	Subject string
	HTML    string
	Text    string
}

// MessageID builds the identifier for kind about key (a response id or email).
func MessageID(kind Kind, key string) string {
	return string(kind) + ":" + key
}

// ErrPermanent marks a delivery failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent delivery failure")

// Mailer delivers a rendered message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f MailerFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }
