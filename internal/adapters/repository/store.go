// Package repository defines the record store interface, its errors and the
// badger-backed implementation.
package repository

import (
	"context"
	"time"

	"github.com/okian/kindred/internal/domain/model"
	"github.com/okian/kindred/internal/domain/types"
)

// Mutation edits a survey response inside the store's write transaction.
// It receives nil when no record exists for the id and returns the record to
// persist. An error aborts the write and is returned unchanged.
// A Mutation may run more than once when the transaction is retried.
type Mutation func(existing *model.SurveyResponse) (*model.SurveyResponse, error)

// UpsertResult describes a completed upsert.
type UpsertResult struct {
	Record  *model.SurveyResponse
	Created bool
}

// Store provides read/write access to survey responses and the waitlist.
type Store interface {
	// UpsertResponse loads the record for id (if any), applies m and writes
	// the result atomically. Concurrent upserts for the same id serialize.
	UpsertResponse(ctx context.Context, id string, m Mutation) (UpsertResult, error)
	// GetResponse returns ErrNotFound for unknown ids.
	GetResponse(ctx context.Context, id string) (*model.SurveyResponse, error)
	// ListResponses returns matches newest first by createdAt.
	ListResponses(ctx context.Context, f types.ListFilter, p types.PageRequest) (types.Page[model.SurveyResponse], error)
	// Stats summarizes every stored response and waitlist entry.
	Stats(ctx context.Context) (types.Stats, error)

	// JoinWaitlist creates the entry or returns ErrDuplicate.
	JoinWaitlist(ctx context.Context, e model.WaitlistEntry) error
	// Unsubscribe deactivates an entry. It reports whether anything changed.
	Unsubscribe(ctx context.Context, email string, at time.Time) (bool, error)

	Close() error
}
