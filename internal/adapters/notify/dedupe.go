package notify

import (
	"container/list"
	"context"
	"sync"
)

// Deduper remembers delivered message IDs so a message is sent at most once
// per process.
type Deduper interface {
	// SeenAndRecord reports whether id was already recorded and records it if not.
	SeenAndRecord(ctx context.Context, id string) bool
	// Unrecord forgets id so a failed delivery can be attempted again later.
	Unrecord(ctx context.Context, id string)
	Size() int
}

// boundedDeduper keeps the most recent maxSize IDs and evicts the oldest.
// maxSize <= 0 keeps everything.
type boundedDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // front = newest
	maxSize int
}

// DeduperOption configures NewDeduper.
type DeduperOption func(*boundedDeduper)

// WithMaxSize bounds how many IDs are remembered.
func WithMaxSize(n int) DeduperOption {
	return func(d *boundedDeduper) {
		d.maxSize = n
	}
}

// NewDeduper returns an in-memory Deduper remembering up to 50000 IDs by default.
func NewDeduper(opts ...DeduperOption) Deduper {
	d := &boundedDeduper{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		maxSize: 50_000,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *boundedDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	if d.maxSize > 0 && d.order.Len() >= d.maxSize {
		if oldest := d.order.Back(); oldest != nil {
			delete(d.seen, oldest.Value.(string))
			d.order.Remove(oldest)
		}
	}
	d.seen[id] = d.order.PushFront(id)
	return false
}

func (d *boundedDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[id]; ok {
		d.order.Remove(el)
		delete(d.seen, id)
	}
}

func (d *boundedDeduper) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}
