package grid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordgrid/internal/domain"
	"recordgrid/internal/grid"
)

func TestRecordCache_ReplaceShowsFirstPage(t *testing.T) {
	c := grid.NewRecordCache(20)
	c.Replace(makeRows(45))

	assert.Len(t, c.Window(), 20)
	assert.Equal(t, 45, c.Len())
	assert.False(t, c.Exhausted())
}

func TestRecordCache_ReplaceEmpty(t *testing.T) {
	c := grid.NewRecordCache(20)
	c.Replace(nil)

	assert.Empty(t, c.Window())
	assert.True(t, c.Exhausted())
	assert.Equal(t, grid.ExtendResult{Added: 0, Exhausted: true}, c.ExtendWindow(20))
}

func TestRecordCache_ReplaceIsIdempotent(t *testing.T) {
	rows := makeRows(30)
	c := grid.NewRecordCache(20)

	c.Replace(rows)
	first := c.Window()
	c.ExtendWindow(20)
	c.Replace(rows)

	assert.Equal(t, first, c.Window())
	assert.Equal(t, 20, c.WindowEnd())
}

func TestRecordCache_ExtendReachesEndInCeilCalls(t *testing.T) {
	for _, pageSize := range []int{1, 3, 7, 20} {
		for _, n := range []int{0, 1, 19, 20, 21, 45, 100} {
			c := grid.NewRecordCache(pageSize)
			c.Replace(makeRows(n))
			// Replace already performed the first extend.
			calls := 0
			if n > 0 {
				calls = 1
			}
			for !c.Exhausted() {
				before := c.WindowEnd()
				res := c.ExtendWindow(pageSize)
				calls++
				require.LessOrEqual(t, c.WindowEnd(), n)
				require.Equal(t, c.WindowEnd()-before, res.Added)
				require.LessOrEqual(t, res.Added, pageSize)
			}
			want := (n + pageSize - 1) / pageSize
			assert.Equal(t, want, calls, "pageSize=%d n=%d", pageSize, n)
			assert.Equal(t, n, c.WindowEnd())
		}
	}
}

func TestRecordCache_ExtendPastEndIsNoop(t *testing.T) {
	c := grid.NewRecordCache(20)
	c.Replace(makeRows(45))

	assert.Equal(t, grid.ExtendResult{Added: 20, Exhausted: false}, c.ExtendWindow(20))
	assert.Equal(t, grid.ExtendResult{Added: 5, Exhausted: true}, c.ExtendWindow(20))
	assert.Equal(t, grid.ExtendResult{Added: 0, Exhausted: true}, c.ExtendWindow(20))
	assert.Len(t, c.Window(), 45)
}

func TestRecordCache_WindowIsCapacityClipped(t *testing.T) {
	c := grid.NewRecordCache(2)
	c.Replace(makeRows(5))

	w := c.Window()
	w = append(w, domain.Row{"Id": "injected"})
	assert.Len(t, w, 3)

	c.ExtendWindow(2)
	assert.Equal(t, "3", c.Window()[2].ID())
}

func TestRecordCache_ClearAndHas(t *testing.T) {
	c := grid.NewRecordCache(20)
	c.Replace(makeRows(3))

	assert.True(t, c.Has("2"))
	assert.False(t, c.Has("99"))

	c.Clear()
	assert.False(t, c.Has("2"))
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.WindowEnd())
}

func TestRecordCache_HasSeesHiddenRows(t *testing.T) {
	c := grid.NewRecordCache(2)
	c.Replace(makeRows(10))

	assert.True(t, c.Has("9"))
}
