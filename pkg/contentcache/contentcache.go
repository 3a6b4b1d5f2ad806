// Package contentcache is the shared LRU of reconstructed column payloads
// (spec component E). It sits in front of the reconstruction walker: a
// hit returns bytes for a (fingerprint, seq, column) triple without
// touching the insert cache or walking a delta chain.
//
// The cache is striped to bound lock contention: each stripe owns its own
// LRU list and capacity, selected by hashing the key with xxhash. This
// mirrors a sharded connection pool more than a single global mutex.
package contentcache

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/block/deltatbl/pkg/fingerprint"
)

const defaultStripes = 32

// Key identifies one cached reconstructed payload.
type Key struct {
	Relation string
	FP       fingerprint.Fingerprint
	Seq      uint64
	ColIdx   int
}

func (k Key) stripeHash() uint64 {
	h := xxhash.New()
	h.WriteString(k.Relation)
	h.Write(k.FP[:])
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], k.Seq)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(k.ColIdx))
	h.Write(buf[:])
	return h.Sum64()
}

// Stats are aggregated across stripes on query.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Skips     uint64
	Entries   int
}

type stripe struct {
	mu        sync.Mutex
	lru       *lru.Cache[Key, []byte]
	hits      uint64
	misses    uint64
	skips     uint64
	evictions uint64
}

// Cache is the striped content cache.
type Cache struct {
	stripes      []*stripe
	maxEntrySize int
}

// New creates a Cache with the given number of stripes (0 selects the
// default of 32), an overall entry cap split evenly across stripes, and
// maxEntrySize as the largest payload worth caching (spec: larger
// payloads are rejected and counted as a skip rather than evicting
// everything else to make room).
func New(stripes, totalEntryCap, maxEntrySize int) (*Cache, error) {
	if stripes <= 0 {
		stripes = defaultStripes
	}
	perStripe := totalEntryCap / stripes
	if perStripe < 1 {
		perStripe = 1
	}
	c := &Cache{maxEntrySize: maxEntrySize, stripes: make([]*stripe, stripes)}
	for i := range c.stripes {
		s := &stripe{}
		l, err := lru.NewWithEvict[Key, []byte](perStripe, func(Key, []byte) { s.evictions++ })
		if err != nil {
			return nil, err
		}
		s.lru = l
		c.stripes[i] = s
	}
	return c, nil
}

func (c *Cache) stripeFor(k Key) *stripe {
	return c.stripes[k.stripeHash()%uint64(len(c.stripes))]
}

// Probe returns a copy of the cached bytes for key, if present, moving it
// to the front of its stripe's LRU.
func (c *Cache) Probe(key Key) ([]byte, bool) {
	s := c.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.lru.Get(key)
	if !ok {
		s.misses++
		return nil, false
	}
	s.hits++
	out := make([]byte, len(b))
	copy(out, b)
	return out, true
}

// Insert adds bytes for key, evicting from the stripe's LRU tail as
// needed. Payloads over maxEntrySize are rejected (counted as a skip)
// rather than evicting the rest of the stripe to make room for one
// outsized entry.
func (c *Cache) Insert(key Key, bytes []byte) {
	if c.maxEntrySize > 0 && len(bytes) > c.maxEntrySize {
		s := c.stripeFor(key)
		s.mu.Lock()
		s.skips++
		s.mu.Unlock()
		return
	}
	s := c.stripeFor(key)
	cp := make([]byte, len(bytes))
	copy(cp, bytes)
	s.mu.Lock()
	s.lru.Add(key, cp)
	s.mu.Unlock()
}

// Invalidate drops every entry for relation/fp with seq >= fromSeq,
// across all stripes. Used after an INSERT's cascade-safety write and
// after a DELETE cascade.
func (c *Cache) Invalidate(relation string, fp fingerprint.Fingerprint, fromSeq uint64) {
	for _, s := range c.stripes {
		s.mu.Lock()
		for _, k := range s.lru.Keys() {
			if k.Relation == relation && k.FP == fp && k.Seq >= fromSeq {
				s.lru.Remove(k)
			}
		}
		s.mu.Unlock()
	}
}

// InvalidateRelation drops every entry for relation, across all stripes.
func (c *Cache) InvalidateRelation(relation string) {
	for _, s := range c.stripes {
		s.mu.Lock()
		for _, k := range s.lru.Keys() {
			if k.Relation == relation {
				s.lru.Remove(k)
			}
		}
		s.mu.Unlock()
	}
}

// StatsSnapshot aggregates hit/miss/skip/entry counts across stripes.
func (c *Cache) StatsSnapshot() Stats {
	var out Stats
	for _, s := range c.stripes {
		s.mu.Lock()
		out.Hits += s.hits
		out.Misses += s.misses
		out.Skips += s.skips
		out.Evictions += s.evictions
		out.Entries += s.lru.Len()
		s.mu.Unlock()
	}
	return out
}
