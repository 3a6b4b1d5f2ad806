// Package seqcache tracks two bounded, evictable mappings needed on every
// INSERT and reconstruction: the highest committed sequence number per
// group, and where a given (relation, seq) physically lives. Both tables
// tolerate eviction at any time — on a miss, the caller falls back to a
// relation scan (AuthoritativeMaxSeq) or an index probe, so losing an
// entry never corrupts anything, it only costs a slower path.
package seqcache

import (
	"context"
	"fmt"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/block/deltatbl/pkg/fingerprint"
)

// Locator identifies where a specific row lives on disk; opaque to this
// package, supplied and interpreted by the storage layer.
type Locator struct {
	Relation string
	Offset   int64
}

// groupKey identifies a group within a relation.
type groupKey struct {
	relation string
	fp       fingerprint.Fingerprint
}

// locatorKey identifies a specific physical row.
type locatorKey struct {
	relation string
	seq      uint64
}

// Cache holds the max-seq and locator tables for one backend. Both are
// bounded LRUs; size limits come from the relation configuration
// (seq_cache_size_mb / tid_cache_size_mb in the spec's terms, expressed
// here simply as entry counts since both map to small fixed-size values).
type Cache struct {
	mu        sync.Mutex
	maxSeq    *lru.Cache[groupKey, uint64]
	locators  *lru.Cache[locatorKey, Locator]
	preAllocs map[groupKey]uint64 // pending allocations, keyed by group, for Release rollback
}

// New builds a Cache with the given entry caps for each table.
func New(maxSeqEntries, locatorEntries int) (*Cache, error) {
	ms, err := lru.New[groupKey, uint64](maxSeqEntries)
	if err != nil {
		return nil, fmt.Errorf("seqcache: max-seq cache: %w", err)
	}
	loc, err := lru.New[locatorKey, Locator](locatorEntries)
	if err != nil {
		return nil, fmt.Errorf("seqcache: locator cache: %w", err)
	}
	return &Cache{
		maxSeq:    ms,
		locators:  loc,
		preAllocs: make(map[groupKey]uint64),
	}, nil
}

// ScanFunc performs the authoritative, visibility-aware scan for the
// highest committed seq of a group when nothing is cached. It is supplied
// by the storage layer, which alone knows how to query the relation under
// the caller's snapshot.
type ScanFunc func(ctx context.Context, relation string, fp fingerprint.Fingerprint) (uint64, error)

// Allocate returns the next seq to use for a new row in (relation, fp),
// recording the pre-allocation max so a failed INSERT can call Release to
// roll the allocation back. The caller must hold the per-fingerprint
// advisory lock before calling Allocate; this cache performs no locking
// of its own beyond protecting its internal maps.
func (c *Cache) Allocate(ctx context.Context, relation string, fp fingerprint.Fingerprint, scan ScanFunc) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := groupKey{relation, fp}
	cur, ok := c.maxSeq.Get(key)
	if !ok {
		scanned, err := scan(ctx, relation, fp)
		if err != nil {
			return 0, fmt.Errorf("seqcache: authoritative scan for %s: %w", relation, err)
		}
		cur = scanned
	}
	if cur == ^uint64(0) {
		return 0, fmt.Errorf("seqcache: seq overflow for relation %s", relation)
	}
	c.preAllocs[key] = cur
	next := cur + 1
	c.maxSeq.Add(key, next)
	return next, nil
}

// AllocateExplicit records a caller-supplied seq for a restore-style
// INSERT instead of auto-incrementing one. It is only ever reached when
// the relation's AllowExplicitSeq is set; the caller is responsible for
// that gate. seq must be strictly greater than the group's current max
// (an authoritative scan runs on a cache miss, same as Allocate) and must
// not exceed math.MaxInt64, since a seq that high would leave no room for
// the allocator to ever auto-assign above it again.
func (c *Cache) AllocateExplicit(ctx context.Context, relation string, fp fingerprint.Fingerprint, seq uint64, scan ScanFunc) error {
	if seq > math.MaxInt64 {
		return fmt.Errorf("seqcache: explicit seq %d exceeds the maximum allowed value for relation %s", seq, relation)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := groupKey{relation, fp}
	cur, ok := c.maxSeq.Get(key)
	if !ok {
		scanned, err := scan(ctx, relation, fp)
		if err != nil {
			return fmt.Errorf("seqcache: authoritative scan for %s: %w", relation, err)
		}
		cur = scanned
	}
	if seq <= cur {
		return fmt.Errorf("seqcache: explicit seq %d for relation %s must be greater than the group's current max %d", seq, relation, cur)
	}

	c.preAllocs[key] = cur
	c.maxSeq.Add(key, seq)
	return nil
}

// Release rolls back an allocation that was never committed (the INSERT
// failed somewhere downstream). It only decrements the cached max if this
// allocation was in fact the current top; if another backend has since
// allocated higher, the cache is left alone — the eventual authoritative
// scan on the next miss will reconcile it.
func (c *Cache) Release(relation string, fp fingerprint.Fingerprint, allocated uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := groupKey{relation, fp}
	pre, ok := c.preAllocs[key]
	if !ok {
		return
	}
	delete(c.preAllocs, key)
	if cur, ok := c.maxSeq.Get(key); ok && cur == allocated {
		c.maxSeq.Add(key, pre)
	}
}

// Commit clears the pending-allocation bookkeeping for a successful
// INSERT; after this, Release for the same seq is a no-op.
func (c *Cache) Commit(relation string, fp fingerprint.Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.preAllocs, groupKey{relation, fp})
}

// AuthoritativeMaxSeq forces a rescan and repopulates the cache, used
// after a crash or whenever the caller doesn't trust the cached value
// (spec: "a visibility-aware max scan is the authoritative fallback").
func (c *Cache) AuthoritativeMaxSeq(ctx context.Context, relation string, fp fingerprint.Fingerprint, scan ScanFunc) (uint64, error) {
	v, err := scan(ctx, relation, fp)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.maxSeq.Add(groupKey{relation, fp}, v)
	c.mu.Unlock()
	return v, nil
}

// PeekMaxSeq returns the cached max seq for a group without triggering a
// scan; ok is false on a cache miss.
func (c *Cache) PeekMaxSeq(relation string, fp fingerprint.Fingerprint) (seq uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSeq.Get(groupKey{relation, fp})
}

// InvalidateGroup drops the cached max-seq entry for a group, used after a
// DELETE recomputes it or after TRUNCATE.
func (c *Cache) InvalidateGroup(relation string, fp fingerprint.Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSeq.Remove(groupKey{relation, fp})
}

// SetLocator records where (relation, seq) physically lives.
func (c *Cache) SetLocator(relation string, seq uint64, loc Locator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locators.Add(locatorKey{relation, seq}, loc)
}

// Locate returns the cached locator for (relation, seq); ok is false on a
// miss, in which case the caller must fall back to an index probe.
func (c *Cache) Locate(relation string, seq uint64) (loc Locator, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locators.Get(locatorKey{relation, seq})
}

// InvalidateRelation drops every cached entry that belongs to relation,
// used on TRUNCATE and DROP.
func (c *Cache) InvalidateRelation(relation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.maxSeq.Keys() {
		if k.relation == relation {
			c.maxSeq.Remove(k)
		}
	}
	for _, k := range c.locators.Keys() {
		if k.relation == relation {
			c.locators.Remove(k)
		}
	}
	for k := range c.preAllocs {
		if k.relation == relation {
			delete(c.preAllocs, k)
		}
	}
}
