// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
	"time"
)

// UserType is the respondent's role in the marketplace.
type UserType string

// Known user types.
const (
	UserTypeClient    UserType = "client"
	UserTypeProvider  UserType = "provider"
	UserTypeBoth      UserType = "both"
	UserTypeUndecided UserType = "undecided"
)

// UserTypes lists every accepted UserType in display order.
var UserTypes = []UserType{UserTypeClient, UserTypeProvider, UserTypeBoth, UserTypeUndecided} //nolint:gochecknoglobals // enum table

// Valid reports whether u is one of the known user types.
func (u UserType) Valid() bool {
	for _, t := range UserTypes {
		if u == t {
			return true
		}
	}
	return false
}

// DefaultTerminalStep is the wizard step that completes a response.
const DefaultTerminalStep = 6

// Contact is the respondent's contact block. It is replaced wholesale on merge.
type Contact struct {
	Name  string `json:"name,omitempty" validate:"omitempty,max=120"`
	Email string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Phone string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

// Location is replaced wholesale on merge.
type Location struct {
	City    string `json:"city,omitempty" validate:"omitempty,max=120"`
	State   string `json:"state,omitempty" validate:"omitempty,max=64"`
	Country string `json:"country,omitempty" validate:"omitempty,max=64"`
}

// PriceComfort captures the hourly range a respondent is comfortable with.
type PriceComfort struct {
	HourlyMin *int   `json:"hourlyMin,omitempty" validate:"omitempty,gte=0,lte=100000"`
	HourlyMax *int   `json:"hourlyMax,omitempty" validate:"omitempty,gte=0,lte=100000"`
	Currency  string `json:"currency,omitempty" validate:"omitempty,len=3"`
}

// Answers is the typed answer bag collected across wizard steps.
// A nil field means "not submitted" and leaves the stored value untouched;
// a non-nil field (including an empty slice) replaces it.
type Answers struct {
	EventTypes       []string      `json:"eventTypes,omitempty" validate:"omitempty,max=8,dive,oneof=dinner weddings corporate travel social cultural sports other"`
	BookingFrequency *string       `json:"bookingFrequency,omitempty" validate:"omitempty,oneof=one-time occasional monthly weekly"`
	PriceComfort     *PriceComfort `json:"priceComfort,omitempty"`
	SafetyPriorities []string      `json:"safetyPriorities,omitempty" validate:"omitempty,max=6,dive,oneof=verification background-check reviews public-meeting in-app-messaging emergency-contact"`
	Contact          *Contact      `json:"contact,omitempty"`
	Location         *Location     `json:"location,omitempty"`
	BetaInterest     *bool         `json:"betaInterest,omitempty"`
	Feedback         *string       `json:"feedback,omitempty" validate:"omitempty,max=2000"`
	Source           *string       `json:"source,omitempty" validate:"omitempty,max=64"`
}

// MergeInto copies every submitted field of a onto dst. Top level fields are
// last-write-wins; nested objects replace the stored object entirely.
func (a Answers) MergeInto(dst *Answers) {
	if a.EventTypes != nil {
		dst.EventTypes = append([]string{}, a.EventTypes...)
	}
	if a.BookingFrequency != nil {
		dst.BookingFrequency = ptr(*a.BookingFrequency)
	}
	if a.PriceComfort != nil {
		pc := *a.PriceComfort
		dst.PriceComfort = &pc
	}
	if a.SafetyPriorities != nil {
		dst.SafetyPriorities = append([]string{}, a.SafetyPriorities...)
	}
	if a.Contact != nil {
		c := *a.Contact
		dst.Contact = &c
	}
	if a.Location != nil {
		l := *a.Location
		dst.Location = &l
	}
	if a.BetaInterest != nil {
		dst.BetaInterest = ptr(*a.BetaInterest)
	}
	if a.Feedback != nil {
		dst.Feedback = ptr(*a.Feedback)
	}
	if a.Source != nil {
		dst.Source = ptr(*a.Source)
	}
}

// SurveyResponse is one respondent's persisted wizard state.
type SurveyResponse struct {
	ResponseID  string     `json:"responseId"`
	UserType    UserType   `json:"userType"`
	CurrentStep int        `json:"currentStep"`
	IsComplete  bool       `json:"isComplete"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Answers

	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Submission is a single wizard step as received from a client.
// ResponseID is only a lookup hint; the server owns identifier assignment.
type Submission struct {
	ResponseID  string   `json:"responseId,omitempty" validate:"omitempty,max=64"`
	UserType    UserType `json:"userType,omitempty" validate:"omitempty,oneof=client provider both undecided"`
	CurrentStep int      `json:"currentStep" validate:"required,gte=1"`

	Answers

	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

// NewSurveyResponse seeds a record from the submission that creates it.
// The caller applies the submission afterwards.
func NewSurveyResponse(id string, sub Submission, now time.Time) (*SurveyResponse, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: response id is required", ErrValidation)
	}
	if !sub.UserType.Valid() {
		return nil, fmt.Errorf("%w: userType is required to start a survey", ErrValidation)
	}
	return &SurveyResponse{
		ResponseID: id,
		UserType:   sub.UserType,
		CreatedAt:  now.UTC(),
	}, nil
}

// Apply merges sub into r and evaluates completion against terminalStep.
// It reports whether this write moved the record from incomplete to complete.
func (r *SurveyResponse) Apply(sub Submission, terminalStep int, now time.Time) bool {
	now = now.UTC()
	if sub.UserType != "" {
		r.UserType = sub.UserType
	}
	if sub.CurrentStep > r.CurrentStep {
		r.CurrentStep = sub.CurrentStep
	}
	sub.Answers.MergeInto(&r.Answers)
	if sub.IPAddress != "" {
		r.IPAddress = sub.IPAddress
	}
	if sub.UserAgent != "" {
		r.UserAgent = sub.UserAgent
	}
	r.UpdatedAt = now

	if r.IsComplete || sub.CurrentStep != terminalStep {
		return false
	}
	r.IsComplete = true
	r.CompletedAt = &now
	return true
}

// Email returns the respondent's email, if one was submitted.
func (r *SurveyResponse) Email() string {
	if r.Contact == nil {
		return ""
	}
	return strings.TrimSpace(r.Contact.Email)
}

// WantsBeta reports whether the respondent opted into the beta.
func (r *SurveyResponse) WantsBeta() bool {
	return r.BetaInterest != nil && *r.BetaInterest
}

func ptr[T any](v T) *T { return &v }
