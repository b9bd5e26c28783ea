package service

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/coocood/freecache"

	"recordgrid/internal/dbclient"
	"recordgrid/internal/domain"
)

// schemaCache keeps object and field listings per connection in freecache.
// Invalidate bumps a per-connection generation so old keys are never read
// again and age out on their own.
type schemaCache struct {
	cache *freecache.Cache
	ttl   int

	mu  sync.Mutex
	gen map[string]uint64
}

func newSchemaCache(sizeMB, ttlSeconds int) *schemaCache {
	if sizeMB <= 0 {
		sizeMB = 16
	}
	return &schemaCache{
		cache: freecache.NewCache(sizeMB * 1024 * 1024),
		ttl:   ttlSeconds,
		gen:   make(map[string]uint64),
	}
}

func (c *schemaCache) key(connID string, parts ...string) []byte {
	c.mu.Lock()
	g := c.gen[connID]
	c.mu.Unlock()
	k := connID + "|" + strconv.FormatUint(g, 10)
	for _, p := range parts {
		k += "|" + p
	}
	return []byte(k)
}

func (c *schemaCache) get(key []byte, out any) bool {
	if c.ttl <= 0 {
		return false
	}
	data, err := c.cache.Get(key)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

func (c *schemaCache) set(key []byte, v any) {
	if c.ttl <= 0 {
		return
	}
	if data, err := json.Marshal(v); err == nil {
		_ = c.cache.Set(key, data, c.ttl)
	}
}

// Invalidate drops every cached listing of connID.
func (c *schemaCache) Invalidate(connID string) {
	c.mu.Lock()
	c.gen[connID]++
	c.mu.Unlock()
}

// Stats reports cache hits and misses.
func (c *schemaCache) Stats() (hits, misses int64) {
	return c.cache.HitCount(), c.cache.MissCount()
}

// cachedBackend serves schema calls from the cache and passes record
// reads and writes straight to the connector.
type cachedBackend struct {
	dbclient.Connector
	connID string
	cache  *schemaCache
}

func (b *cachedBackend) ListObjects(ctx context.Context) ([]domain.ObjectDescriptor, error) {
	key := b.cache.key(b.connID, "objects")
	var objs []domain.ObjectDescriptor
	if b.cache.get(key, &objs) {
		return objs, nil
	}
	objs, err := b.Connector.ListObjects(ctx)
	if err != nil {
		return nil, err
	}
	b.cache.set(key, objs)
	return objs, nil
}

func (b *cachedBackend) ListFields(ctx context.Context, objectID string) ([]domain.FieldDescriptor, error) {
	key := b.cache.key(b.connID, "fields", objectID)
	var fields []domain.FieldDescriptor
	if b.cache.get(key, &fields) {
		return fields, nil
	}
	fields, err := b.Connector.ListFields(ctx, objectID)
	if err != nil {
		return nil, err
	}
	b.cache.set(key, fields)
	return fields, nil
}
