package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/okian/kindred/internal/domain/model"
	"github.com/okian/kindred/internal/domain/types"
	"github.com/okian/kindred/pkg/logger"
	"github.com/okian/kindred/pkg/metrics"
)

// Key layout.
//
//	survey:<id>                              SurveyResponse JSON
//	idx:created:<ts>:<id>                    every response
//	idx:type:<userType>:<ts>:<id>            by current userType
//	idx:complete:<ts>:<id>                   completed responses
//	waitlist:<email>                         WaitlistEntry JSON
//
// <ts> is createdAt in zero padded unix nanoseconds, so a reverse scan over an
// index prefix yields newest first.
const (
	surveyPrefix      = "survey:"
	createdIdxPrefix  = "idx:created:"
	typeIdxPrefix     = "idx:type:"
	completeIdxPrefix = "idx:complete:"
	waitlistPrefix    = "waitlist:"
)

// BadgerStore is a Store on top of an embedded badger database.
type BadgerStore struct {
	db       *badger.DB
	inMemory bool
	log      logger.Logger

	maxRetries          int
	maintenanceInterval time.Duration

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// abortError carries an error raised by a Mutation out of the transaction.
type abortError struct{ err error }

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// Open opens (or creates) the database at path. An empty path keeps all data
// in memory, which is what tests and throwaway runs use.
func Open(ctx context.Context, path string, opts ...Option) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger: %w", ErrUnavailable, err)
	}
	s := &BadgerStore{
		db:                  db,
		inMemory:            path == "",
		log:                 logger.Get().Named("store"),
		maxRetries:          10,
		maintenanceInterval: 5 * time.Minute,
		stopChan:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startMaintenance(ctx)
	return s, nil
}

// Close stops background maintenance and closes the database.
func (s *BadgerStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return s.db.Close()
}

// UpsertResponse implements Store.UpsertResponse. Badger's serializable
// transactions detect concurrent writers to the same id; the loser is retried
// against the winner's state.
func (s *BadgerStore) UpsertResponse(ctx context.Context, id string, m Mutation) (UpsertResult, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("upsert", sinceMs(start)) }()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return UpsertResult{}, err
		}

		var res UpsertResult
		err := s.db.Update(func(txn *badger.Txn) error {
			var err error
			res, err = upsertTxn(txn, id, m)
			return err
		})
		if err == nil {
			return res, nil
		}

		var ae *abortError
		if errors.As(err, &ae) {
			return UpsertResult{}, ae.err
		}
		if errors.Is(err, badger.ErrConflict) {
			metrics.RecordStoreConflict()
			if attempt < s.maxRetries {
				continue
			}
			return UpsertResult{}, s.unavailable(ctx, "upsert", ErrConflict)
		}
		return UpsertResult{}, s.unavailable(ctx, "upsert", err)
	}
}

func upsertTxn(txn *badger.Txn, id string, m Mutation) (UpsertResult, error) {
	var existing *model.SurveyResponse
	if id != "" {
		rec, err := getResponse(txn, id)
		switch {
		case err == nil:
			existing = rec
		case errors.Is(err, ErrNotFound):
		default:
			return UpsertResult{}, err
		}
	}

	var oldType model.UserType
	oldComplete := false
	if existing != nil {
		oldType, oldComplete = existing.UserType, existing.IsComplete
	}

	next, err := m(existing)
	if err != nil {
		return UpsertResult{}, &abortError{err: err}
	}
	if next == nil || next.ResponseID == "" {
		return UpsertResult{}, &abortError{err: fmt.Errorf("%w: mutation produced no record", model.ErrValidation)}
	}

	created := existing == nil
	if created {
		if _, err := txn.Get(responseKey(next.ResponseID)); err == nil {
			return UpsertResult{}, &abortError{err: fmt.Errorf("%w: response %s", ErrDuplicate, next.ResponseID)}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return UpsertResult{}, err
		}
	} else {
		// Identity and creation time belong to the stored record.
		next.ResponseID = existing.ResponseID
		next.CreatedAt = existing.CreatedAt
	}

	data, err := json.Marshal(next)
	if err != nil {
		return UpsertResult{}, &abortError{err: fmt.Errorf("marshal response: %w", err)}
	}
	if err := txn.Set(responseKey(next.ResponseID), data); err != nil {
		return UpsertResult{}, err
	}

	ts, rid := next.CreatedAt, next.ResponseID
	if created {
		if err := txn.Set(createdIdxKey(ts, rid), nil); err != nil {
			return UpsertResult{}, err
		}
	}
	if created || oldType != next.UserType {
		if !created {
			if err := txn.Delete(typeIdxKey(oldType, ts, rid)); err != nil {
				return UpsertResult{}, err
			}
		}
		if err := txn.Set(typeIdxKey(next.UserType, ts, rid), nil); err != nil {
			return UpsertResult{}, err
		}
	}
	switch {
	case next.IsComplete && !oldComplete:
		if err := txn.Set(completeIdxKey(ts, rid), nil); err != nil {
			return UpsertResult{}, err
		}
	case !next.IsComplete && oldComplete:
		if err := txn.Delete(completeIdxKey(ts, rid)); err != nil {
			return UpsertResult{}, err
		}
	}

	return UpsertResult{Record: next, Created: created}, nil
}

// GetResponse implements Store.GetResponse.
func (s *BadgerStore) GetResponse(ctx context.Context, id string) (*model.SurveyResponse, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("get", sinceMs(start)) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *model.SurveyResponse
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = getResponse(txn, id)
		return err
	})
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, ErrNotFound):
		return nil, err
	default:
		return nil, s.unavailable(ctx, "get", err)
	}
}

// ListResponses implements Store.ListResponses. It walks the narrowest index
// the filter allows and applies the remaining predicates to each record.
func (s *BadgerStore) ListResponses(ctx context.Context, f types.ListFilter, p types.PageRequest) (types.Page[model.SurveyResponse], error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("list", sinceMs(start)) }()

	p = p.Normalize(0)
	prefix := createdIdxPrefix
	switch {
	case f.UserType != "":
		prefix = typeIdxPrefix + string(f.UserType) + ":"
	case f.IsComplete != nil && *f.IsComplete:
		prefix = completeIdxPrefix
	}

	items := make([]model.SurveyResponse, 0, p.Limit)
	total := 0
	offset := p.Offset()
	err := s.db.View(func(txn *badger.Txn) error {
		return scanReverse(txn, []byte(prefix), func(key []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := getResponse(txn, idFromIndexKey(key))
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if !f.Match(rec) {
				return nil
			}
			total++
			if total > offset && len(items) < p.Limit {
				items = append(items, *rec)
			}
			return nil
		})
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.Page[model.SurveyResponse]{}, ctxErr
		}
		return types.Page[model.SurveyResponse]{}, s.unavailable(ctx, "list", err)
	}
	return types.NewPage(items, p, total), nil
}

// Stats implements Store.Stats.
func (s *BadgerStore) Stats(ctx context.Context) (types.Stats, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("stats", sinceMs(start)) }()

	st := types.Stats{ByUserType: make(map[model.UserType]int)}
	err := s.db.View(func(txn *badger.Txn) error {
		err := scanValues(txn, []byte(surveyPrefix), func(val []byte) error {
			var r model.SurveyResponse
			if err := json.Unmarshal(val, &r); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			st.Add(&r)
			return nil
		})
		if err != nil {
			return err
		}
		return scanValues(txn, []byte(waitlistPrefix), func(val []byte) error {
			var e model.WaitlistEntry
			if err := json.Unmarshal(val, &e); err != nil {
				return fmt.Errorf("decode waitlist entry: %w", err)
			}
			st.WaitlistTotal++
			if e.Active {
				st.WaitlistActive++
			}
			return nil
		})
	})
	if err != nil {
		return types.Stats{}, s.unavailable(ctx, "stats", err)
	}
	return st, nil
}

// JoinWaitlist implements Store.JoinWaitlist.
func (s *BadgerStore) JoinWaitlist(ctx context.Context, e model.WaitlistEntry) error {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("waitlist_join", sinceMs(start)) }()

	e.Email = model.NormalizeEmail(e.Email)
	if e.Email == "" {
		return fmt.Errorf("%w: email is required", model.ErrValidation)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal waitlist entry: %w", err)
	}

	err = s.update(ctx, func(txn *badger.Txn) error {
		key := waitlistKey(e.Email)
		if _, err := txn.Get(key); err == nil {
			return &abortError{err: fmt.Errorf("%w: %s", ErrDuplicate, e.Email)}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	return s.classify(ctx, "waitlist_join", err)
}

// Unsubscribe implements Store.Unsubscribe.
func (s *BadgerStore) Unsubscribe(ctx context.Context, email string, at time.Time) (bool, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("unsubscribe", sinceMs(start)) }()

	changed := false
	err := s.update(ctx, func(txn *badger.Txn) error {
		changed = false
		key := waitlistKey(model.NormalizeEmail(email))
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var e model.WaitlistEntry
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
			return err
		}
		if !e.Active {
			return nil
		}
		at = at.UTC()
		e.Active = false
		e.UnsubscribedAt = &at
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		changed = true
		return txn.Set(key, data)
	})
	if err != nil {
		return false, s.classify(ctx, "unsubscribe", err)
	}
	return changed, nil
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		metrics.RecordStoreConflict()
		if attempt >= s.maxRetries {
			return ErrConflict
		}
	}
}

// classify unwraps errors raised on purpose inside a transaction and marks
// everything else as a store failure.
func (s *BadgerStore) classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *abortError
	if errors.As(err, &ae) {
		return ae.err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return s.unavailable(ctx, op, err)
}

func (s *BadgerStore) unavailable(ctx context.Context, op string, err error) error {
	s.log.Error(ctx, "store operation failed", logger.String("op", op), logger.Error(err))
	metrics.RecordErrorByComponent("store", op)
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func (s *BadgerStore) startMaintenance(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.maintenanceInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.maintain(ctx)
			}
		}
	}()
}

func (s *BadgerStore) maintain(ctx context.Context) {
	if !s.inMemory {
		// RunValueLogGC rewrites at most one file per call; loop until it has nothing to do.
		for s.db.RunValueLogGC(0.5) == nil {
		}
	}
	var responses, waitlist int
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if responses, err = countKeys(txn, []byte(surveyPrefix)); err != nil {
			return err
		}
		waitlist, err = countKeys(txn, []byte(waitlistPrefix))
		return err
	})
	if err != nil {
		s.log.Warn(ctx, "store maintenance failed", logger.Error(err))
		return
	}
	metrics.UpdateStoreRecords("survey_responses", responses)
	metrics.UpdateStoreRecords("waitlist", waitlist)
}

func getResponse(txn *badger.Txn, id string) (*model.SurveyResponse, error) {
	item, err := txn.Get(responseKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r model.SurveyResponse
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &r) }); err != nil {
		return nil, fmt.Errorf("decode response %s: %w", id, err)
	}
	return &r, nil
}

func scanReverse(txn *badger.Txn, prefix []byte, fn func(key []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = true
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := append(append([]byte{}, prefix...), 0xFF)
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		if err := fn(it.Item().KeyCopy(nil)); err != nil {
			return err
		}
	}
	return nil
}

func scanValues(txn *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func countKeys(txn *badger.Txn, prefix []byte) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return n, nil
}

func responseKey(id string) []byte { return []byte(surveyPrefix + id) }

func waitlistKey(email string) []byte { return []byte(waitlistPrefix + email) }

func tsKey(t time.Time) string { return fmt.Sprintf("%020d", t.UnixNano()) }

func createdIdxKey(t time.Time, id string) []byte {
	return []byte(createdIdxPrefix + tsKey(t) + ":" + id)
}

func typeIdxKey(u model.UserType, t time.Time, id string) []byte {
	return []byte(typeIdxPrefix + string(u) + ":" + tsKey(t) + ":" + id)
}

func completeIdxKey(t time.Time, id string) []byte {
	return []byte(completeIdxPrefix + tsKey(t) + ":" + id)
}

func idFromIndexKey(key []byte) string {
	k := string(key)
	return k[strings.LastIndexByte(k, ':')+1:]
}

func sinceMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

var _ Store = (*BadgerStore)(nil)
