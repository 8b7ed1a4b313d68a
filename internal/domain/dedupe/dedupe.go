// Package dedupe tracks tuning submission idempotency keys.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/okian/calmmind/internal/domain/model"
)

// Deduper records idempotency keys so a replayed submission is applied at
// most once, and caches the response produced for each key.
type Deduper interface {
	// SeenAndRecord atomically checks if key was seen and records it if not.
	// Returns true if key was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, key string) bool

	// Remember attaches the response for a recorded key. Unknown keys are ignored.
	Remember(ctx context.Context, key string, resp model.TuningResponse)

	// Lookup returns the remembered response for key, if any.
	Lookup(ctx context.Context, key string) (model.TuningResponse, bool)

	// Unrecord removes a key, allowing it to be retried. Used when the
	// submission recorded under it failed.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// node is one entry of the recency list.
type node struct {
	key  string
	resp *model.TuningResponse
	prev *node
	next *node
}

func (n *node) reset() {
	*n = node{}
}

// inMemoryDeduper keeps keys in a map plus a doubly linked list ordered
// newest first. In bounded mode (maxSize > 0) the oldest key is evicted
// when full; otherwise the map grows without limit.
type inMemoryDeduper struct {
	mu       sync.Mutex
	seen     map[string]*node
	head     *node // newest
	tail     *node // oldest
	maxSize  int
	size     atomic.Int64
	nodePool sync.Pool
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50000,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[string]*node)
	d.nodePool = sync.Pool{
		New: func() interface{} {
			return &node{}
		},
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[key]; exists {
		return true
	}

	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}

	n := d.nodePool.Get().(*node)
	n.key = key
	d.pushFront(n)
	d.seen[key] = n
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Remember(_ context.Context, key string, resp model.TuningResponse) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, ok := d.seen[key]; ok {
		n.resp = &resp
	}
}

func (d *inMemoryDeduper) Lookup(_ context.Context, key string) (model.TuningResponse, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.seen[key]
	if !ok || n.resp == nil {
		return model.TuningResponse{}, false
	}
	return *n.resp, true
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, ok := d.seen[key]; ok {
		d.remove(n)
	}
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}

// Must be called with d.mu held.
func (d *inMemoryDeduper) pushFront(n *node) {
	n.next = d.head
	if d.head != nil {
		d.head.prev = n
	}
	d.head = n
	if d.tail == nil {
		d.tail = n
	}
}

// Must be called with d.mu held.
func (d *inMemoryDeduper) remove(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		d.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		d.tail = n.prev
	}
	delete(d.seen, n.key)
	n.reset()
	d.nodePool.Put(n)
	d.size.Add(-1)
}

// Must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	if d.tail != nil {
		d.remove(d.tail)
	}
}
