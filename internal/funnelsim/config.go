// Package funnelsim drives simulated respondents through the survey wizard
// over HTTP and verifies what the server persisted.
package funnelsim

import "time"

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL      string        // Base URL of the service
	Respondents  int           // Number of simulated respondents
	Workers      int           // Concurrent respondents in flight
	TerminalStep int           // Step that completes the wizard
	Timeout      time.Duration // HTTP request timeout
	AdminToken   string        // Bearer token for the admin reads
	SpoofIPs     bool          // Give each respondent its own X-Forwarded-For address
	EmailRatio   float64       // Share of respondents that leave an email
	OutputFile   string        // Where to save the plans, empty to skip
	Verbose      bool
}

// Step is one wizard submission as sent to POST /survey.
type Step struct {
	ResponseID       string        `json:"responseId,omitempty"`
	UserType         string        `json:"userType,omitempty"`
	CurrentStep      int           `json:"currentStep"`
	EventTypes       []string      `json:"eventTypes,omitempty"`
	BookingFrequency string        `json:"bookingFrequency,omitempty"`
	SafetyPriorities []string      `json:"safetyPriorities,omitempty"`
	Location         *Location     `json:"location,omitempty"`
	Contact          *Contact      `json:"contact,omitempty"`
	PriceComfort     *PriceComfort `json:"priceComfort,omitempty"`
	BetaInterest     *bool         `json:"betaInterest,omitempty"`
	Source           string        `json:"source,omitempty"`
}

// Location mirrors the server's location answer.
type Location struct {
	City  string `json:"city,omitempty"`
	State string `json:"state,omitempty"`
}

// Contact mirrors the server's contact answer.
type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// PriceComfort mirrors the server's price answer.
type PriceComfort struct {
	HourlyMin int    `json:"hourlyMin"`
	HourlyMax int    `json:"hourlyMax"`
	Currency  string `json:"currency"`
}

// Plan is everything one respondent will submit.
type Plan struct {
	Label    string `json:"label"`
	ClientIP string `json:"clientIp"`
	Steps    []Step `json:"steps"`
}

// Response is the subset of the persisted record the run checks.
type Response struct {
	ResponseID  string   `json:"responseId"`
	UserType    string   `json:"userType"`
	CurrentStep int      `json:"currentStep"`
	IsComplete  bool     `json:"isComplete"`
	CompletedAt *string  `json:"completedAt"`
	EventTypes  []string `json:"eventTypes"`
	Location    *Location `json:"location"`
	Contact     *Contact  `json:"contact"`
}

type envelope struct {
	Success bool     `json:"success"`
	Data    Response `json:"data"`
	Message string   `json:"message"`
	Code    string   `json:"code"`
}

// Stats holds run statistics.
type Stats struct {
	Respondents    int
	StepsSubmitted int
	StepsFailed    int
	RateLimited    int
	Completed      int
	Verified       int
	VerifyFailed   int
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
}
