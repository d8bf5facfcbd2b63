// breadcrumbs.go implements the bounded breadcrumb trail attached to events.

package bugwatch

import (
	"sync"
	"time"
)

// DefaultMaxBreadcrumbs is the trail capacity when none is configured.
const DefaultMaxBreadcrumbs = 100

// Trail is a bounded ring buffer of breadcrumbs. When full, adding a
// breadcrumb evicts the oldest one. Trail is safe for concurrent use.
type Trail struct {
	mu       sync.Mutex
	crumbs   []Breadcrumb
	maxSize  int
	writeIdx int
}

// NewTrail returns a trail holding at most capacity breadcrumbs.
// A capacity of zero or less selects DefaultMaxBreadcrumbs.
func NewTrail(capacity int) *Trail {
	if capacity <= 0 {
		capacity = DefaultMaxBreadcrumbs
	}
	return &Trail{maxSize: capacity}
}

// Add appends a breadcrumb, evicting the oldest if the trail is full.
// A zero timestamp is set to now and empty type and level get defaults.
func (t *Trail) Add(b Breadcrumb) {
	if b.Timestamp.IsZero() {
		b.Timestamp = time.Now().UTC()
	}
	if b.Type == "" {
		b.Type = "default"
	}
	if b.Level == "" {
		b.Level = LevelInfo
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.crumbs) < t.maxSize {
		t.crumbs = append(t.crumbs, b)
		return
	}

	// Full: overwrite the oldest, which sits at writeIdx
	t.crumbs[t.writeIdx] = b
	t.writeIdx = (t.writeIdx + 1) % t.maxSize
}

// Snapshot returns an independent copy of the trail in chronological order.
// It returns nil for an empty trail.
func (t *Trail) Snapshot() []Breadcrumb {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.crumbs) == 0 {
		return nil
	}

	result := make([]Breadcrumb, len(t.crumbs))
	n := copy(result, t.crumbs[t.writeIdx:])
	copy(result[n:], t.crumbs[:t.writeIdx])
	for i := range result {
		result[i].Data = cloneData(result[i].Data)
	}
	return result
}

// Clear removes all breadcrumbs.
func (t *Trail) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.crumbs = nil
	t.writeIdx = 0
}

// Len returns the number of breadcrumbs currently held.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.crumbs)
}

// Cap returns the trail capacity.
func (t *Trail) Cap() int {
	return t.maxSize
}
