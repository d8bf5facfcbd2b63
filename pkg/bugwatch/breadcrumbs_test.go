// Tests for the breadcrumb ring buffer.
package bugwatch

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTrailAdd_EvictsOldest verifies FIFO behavior when the trail is full.
func TestTrailAdd_EvictsOldest(t *testing.T) {
	trail := NewTrail(3)

	trail.Add(Breadcrumb{Category: "c", Message: "first"})
	trail.Add(Breadcrumb{Category: "c", Message: "second"})
	trail.Add(Breadcrumb{Category: "c", Message: "third"})
	assert.Equal(t, 3, trail.Len(), "trail should have 3 breadcrumbs")

	trail.Add(Breadcrumb{Category: "c", Message: "fourth"})
	assert.Equal(t, 3, trail.Len(), "trail should still have 3 breadcrumbs")

	all := trail.Snapshot()
	require.Len(t, all, 3)
	assert.Equal(t, "second", all[0].Message, "oldest surviving breadcrumb first")
	assert.Equal(t, "third", all[1].Message)
	assert.Equal(t, "fourth", all[2].Message, "newest breadcrumb last")
}

// TestTrailBound verifies that after N > capacity adds the trail holds exactly
// the last capacity breadcrumbs in insertion order.
func TestTrailBound(t *testing.T) {
	const capacity = 10
	for _, n := range []int{1, 9, 10, 11, 25, 101} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			trail := NewTrail(capacity)
			for i := 0; i < n; i++ {
				trail.Add(Breadcrumb{Message: fmt.Sprintf("crumb-%d", i)})
			}

			all := trail.Snapshot()
			want := min(n, capacity)
			require.Len(t, all, want)
			for i, b := range all {
				assert.Equal(t, fmt.Sprintf("crumb-%d", n-want+i), b.Message)
			}
		})
	}
}

func TestTrailSnapshot_IsIndependentCopy(t *testing.T) {
	trail := NewTrail(5)
	trail.Add(Breadcrumb{Message: "original"})

	snap := trail.Snapshot()
	snap[0].Message = "mutated"
	trail.Add(Breadcrumb{Message: "later"})

	again := trail.Snapshot()
	require.Len(t, again, 2)
	assert.Equal(t, "original", again[0].Message)
	assert.Len(t, snap, 1, "earlier snapshot must not grow")
}

func TestTrailSnapshot_CopiesData(t *testing.T) {
	trail := NewTrail(5)
	trail.Add(Breadcrumb{Message: "query", Data: map[string]any{
		"table":  "users",
		"params": map[string]any{"id": 7},
	}})

	snap := trail.Snapshot()
	snap[0].Data["table"] = "mutated"
	snap[0].Data["params"].(map[string]any)["id"] = 8

	again := trail.Snapshot()
	assert.Equal(t, "users", again[0].Data["table"])
	assert.Equal(t, 7, again[0].Data["params"].(map[string]any)["id"])
}

func TestTrailAdd_Defaults(t *testing.T) {
	trail := NewTrail(5)
	before := time.Now().UTC()
	trail.Add(Breadcrumb{Category: "db", Message: "query"})

	got := trail.Snapshot()[0]
	assert.Equal(t, "default", got.Type)
	assert.Equal(t, LevelInfo, got.Level)
	assert.False(t, got.Timestamp.Before(before), "timestamp should be set to now")

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	trail.Add(Breadcrumb{Type: "http", Level: LevelWarning, Timestamp: ts})
	got = trail.Snapshot()[1]
	assert.Equal(t, "http", got.Type)
	assert.Equal(t, LevelWarning, got.Level)
	assert.Equal(t, ts, got.Timestamp)
}

func TestTrailClear(t *testing.T) {
	trail := NewTrail(2)
	trail.Add(Breadcrumb{Message: "a"})
	trail.Add(Breadcrumb{Message: "b"})
	trail.Add(Breadcrumb{Message: "c"})

	trail.Clear()
	assert.Equal(t, 0, trail.Len())
	assert.Nil(t, trail.Snapshot())

	trail.Add(Breadcrumb{Message: "d"})
	assert.Equal(t, []string{"d"}, messages(trail.Snapshot()))
}

func TestNewTrail_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultMaxBreadcrumbs, NewTrail(0).Cap())
	assert.Equal(t, DefaultMaxBreadcrumbs, NewTrail(-3).Cap())
	assert.Equal(t, 7, NewTrail(7).Cap())
}

func TestTrail_ConcurrentAdd(t *testing.T) {
	trail := NewTrail(50)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				trail.Add(Breadcrumb{Message: "x"})
				_ = trail.Snapshot()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, trail.Len())
}

func messages(crumbs []Breadcrumb) []string {
	out := make([]string, 0, len(crumbs))
	for _, b := range crumbs {
		out = append(out, b.Message)
	}
	return out
}
