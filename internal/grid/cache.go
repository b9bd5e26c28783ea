package grid

import (
	"sync"

	"recordgrid/internal/domain"
)

// ExtendResult reports how many rows an ExtendWindow call exposed.
type ExtendResult struct {
	Added     int  `json:"added"`
	Exhausted bool `json:"exhausted"`
}

// RecordCache holds one fetched snapshot and a visible prefix of it.
// Invariant: 0 <= windowEnd <= len(all).
type RecordCache struct {
	mu        sync.RWMutex
	pageSize  int
	all       []domain.Row
	ids       map[string]struct{}
	windowEnd int
}

// NewRecordCache creates an empty cache that exposes pageSize rows per extend.
func NewRecordCache(pageSize int) *RecordCache {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &RecordCache{pageSize: pageSize, ids: map[string]struct{}{}}
}

// Replace swaps in a new snapshot, resets the window and exposes the first page.
func (c *RecordCache) Replace(rows []domain.Row) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.all = rows
	c.ids = make(map[string]struct{}, len(rows))
	for _, r := range rows {
		c.ids[r.ID()] = struct{}{}
	}
	c.windowEnd = 0
	if len(rows) > 0 {
		c.extendLocked(c.pageSize)
	}
}

// ExtendWindow exposes up to pageSize more rows. Past the end it is a no-op.
func (c *RecordCache) ExtendWindow(pageSize int) ExtendResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	return c.extendLocked(pageSize)
}

func (c *RecordCache) extendLocked(pageSize int) ExtendResult {
	next := min(c.windowEnd+pageSize, len(c.all))
	added := next - c.windowEnd
	c.windowEnd = next
	return ExtendResult{Added: added, Exhausted: c.windowEnd >= len(c.all)}
}

// Window returns the visible prefix. The slice is capacity-clipped so an
// append by the caller cannot write into the hidden tail.
func (c *RecordCache) Window() []domain.Row {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.all[:c.windowEnd:c.windowEnd]
}

// Clear drops the snapshot.
func (c *RecordCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.all = nil
	c.ids = map[string]struct{}{}
	c.windowEnd = 0
}

// Has reports whether rowID is in the snapshot (visible or not).
func (c *RecordCache) Has(rowID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ids[rowID]
	return ok
}

func (c *RecordCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.all)
}

func (c *RecordCache) WindowEnd() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.windowEnd
}

// Exhausted is true once the window covers the whole snapshot.
func (c *RecordCache) Exhausted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.windowEnd >= len(c.all)
}

func (c *RecordCache) PageSize() int { return c.pageSize }
