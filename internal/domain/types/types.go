// Package types contains common types used across the application
package types

import (
	"strings"
	"time"

	"github.com/okian/kindred/internal/domain/model"
)

// DefaultPageLimit is the page size used when a request asks for none.
const DefaultPageLimit = 10

// Page is one page of a newest-first listing.
type Page[T any] struct {
	Items       []T  `json:"items"`
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	PrevPage    *int `json:"prevPage"`
	NextPage    *int `json:"nextPage"`
	TotalItems  int  `json:"totalItems"`
}

// PageRequest is a 1-based page request.
type PageRequest struct {
	Page  int
	Limit int
}

// Normalize clamps the request: page<1 becomes 1, limit<1 becomes the
// default and limit is capped at maxLimit when maxLimit is positive.
func (p PageRequest) Normalize(maxLimit int) PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageLimit
	}
	if maxLimit > 0 && p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p
}

// Offset is the number of matching items before this page.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.Limit
}

// NewPage wraps items with navigation computed from the total match count.
func NewPage[T any](items []T, req PageRequest, totalItems int) Page[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := 0
	if req.Limit > 0 {
		totalPages = (totalItems + req.Limit - 1) / req.Limit
	}

	var prevPage, nextPage *int
	if req.Page > 1 {
		p := req.Page - 1
		prevPage = &p
	}
	if req.Page < totalPages {
		p := req.Page + 1
		nextPage = &p
	}

	return Page[T]{
		Items:       items,
		CurrentPage: req.Page,
		TotalPages:  totalPages,
		PrevPage:    prevPage,
		NextPage:    nextPage,
		TotalItems:  totalItems,
	}
}

// ListFilter selects survey responses; every set field must match.
type ListFilter struct {
	UserType     model.UserType
	IsComplete   *bool
	BetaInterest *bool
	Source       string
	State        string
	From         *time.Time
	To           *time.Time
}

// Match reports whether r satisfies every filter that is set.
func (f ListFilter) Match(r *model.SurveyResponse) bool {
	if f.UserType != "" && r.UserType != f.UserType {
		return false
	}
	if f.IsComplete != nil && r.IsComplete != *f.IsComplete {
		return false
	}
	if f.BetaInterest != nil && r.WantsBeta() != *f.BetaInterest {
		return false
	}
	if f.Source != "" && (r.Source == nil || !strings.EqualFold(*r.Source, f.Source)) {
		return false
	}
	if f.State != "" && (r.Location == nil || !strings.EqualFold(r.Location.State, f.State)) {
		return false
	}
	if f.From != nil && r.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && r.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

// Stats summarizes the funnel for the admin view.
type Stats struct {
	TotalResponses     int                    `json:"totalResponses"`
	CompletedResponses int                    `json:"completedResponses"`
	CompletionRate     float64                `json:"completionRate"`
	ByUserType         map[model.UserType]int `json:"byUserType"`
	BetaInterest       int                    `json:"betaInterest"`
	WaitlistActive     int                    `json:"waitlistActive"`
	WaitlistTotal      int                    `json:"waitlistTotal"`
}

// Add folds one response into the summary.
func (s *Stats) Add(r *model.SurveyResponse) {
	if s.ByUserType == nil {
		s.ByUserType = make(map[model.UserType]int)
	}
	s.TotalResponses++
	s.ByUserType[r.UserType]++
	if r.IsComplete {
		s.CompletedResponses++
	}
	if r.WantsBeta() {
		s.BetaInterest++
	}
	if s.TotalResponses > 0 {
		s.CompletionRate = float64(s.CompletedResponses) / float64(s.TotalResponses)
	}
}

// SubmitResult is the persisted record after a step submission.
type SubmitResult struct {
	Record *model.SurveyResponse
	// Created is set when this submission started a new response.
	Created bool
	// Completed is set only on the submission that completed the response.
	Completed bool
}
