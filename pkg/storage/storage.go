// Package storage converts between logical row values and the physical
// wire format of versioned, delta-compressed delta columns, and runs the
// write/read/delete pipelines that tie the sequence cache, insert cache,
// content cache, encode pool, and patch codec together (spec component
// G). It knows nothing about a relation's non-delta columns or its SQL
// DDL; those are the caller's (pkg/tableaccess's) concern. Storage only
// needs three things from the caller per operation: how to read a
// physical row's delta cell by locator, how to locate a row by (relation,
// fingerprint, seq), and how to write one.
//
// Group key values are pass-by-reference in the host engine (they may
// live on a page buffer the caller releases as soon as this package
// returns). Every exported entry point takes the group fingerprint only
// after the caller has already computed it via pkg/fingerprint, which
// itself requires the value to have been copied out of page memory — see
// pkg/fingerprint's package doc. Storage never holds onto a []byte past
// the call that produced it without copying.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/siddontang/loggers"
	"golang.org/x/crypto/blake2b"

	"github.com/block/deltatbl/pkg/codec"
	"github.com/block/deltatbl/pkg/contentcache"
	"github.com/block/deltatbl/pkg/dbconn"
	"github.com/block/deltatbl/pkg/encodepool"
	"github.com/block/deltatbl/pkg/fingerprint"
	"github.com/block/deltatbl/pkg/insertcache"
	"github.com/block/deltatbl/pkg/seqcache"
)

// cellResult is one delta column's encoded cell, tagged with its index so
// results from the encode pool (which may complete out of order across
// workers) can be placed back into column order.
type cellResult struct {
	colIdx int
	cell   []byte
}

// Engine runs the write/read/delete pipelines on top of the sequence,
// insert, and content caches and the encode pool. One Engine is shared by
// every relation served by a backend; per-call behavior is parameterized
// by the RelationConfig and callbacks passed to each method.
type Engine struct {
	db      *sql.DB
	seq     *seqcache.Cache
	inserts *insertcache.Manager
	content *contentcache.Cache
	pool    *encodepool.Pool[cellResult]
	logger  loggers.Advanced
}

// New builds an Engine. encodeWorkers == 0 runs every column's encode
// inline in the calling goroutine, which is the right choice for
// single-delta-column relations or low-concurrency deployments.
func New(db *sql.DB, seq *seqcache.Cache, inserts *insertcache.Manager, content *contentcache.Cache, encodeWorkers int, logger loggers.Advanced) *Engine {
	return &Engine{
		db:      db,
		seq:     seq,
		inserts: inserts,
		content: content,
		pool:    encodepool.New[cellResult](encodeWorkers),
		logger:  logger,
	}
}

// Close stops the engine's encode worker pool. Safe to call once, at
// backend shutdown.
func (e *Engine) Close() {
	e.pool.Close()
}

// InvalidateRelation drops every cache entry belonging to relation, across
// all three caches. Used by TRUNCATE and DROP relation, neither of which
// can enumerate the groups that might be cached.
func (e *Engine) InvalidateRelation(relation string) {
	e.inserts.InvalidateRelation(relation)
	e.content.InvalidateRelation(relation)
	e.seq.InvalidateRelation(relation)
}

// ContentCacheStats reports the content cache's current counters, for the
// cache_stats administrative operation.
func (e *Engine) ContentCacheStats() contentcache.Stats {
	return e.content.StatsSnapshot()
}

// InsertCacheStats reports the insert cache's current slot usage, for the
// insert_cache_stats administrative operation.
func (e *Engine) InsertCacheStats() insertcache.Stats {
	return e.inserts.StatsSnapshot()
}

// lockName derives the GET_LOCK name for (relation, fp). MySQL advisory
// lock names are limited to 64 bytes, so the relation name and
// fingerprint are folded through a short hash rather than concatenated
// directly — a long relation name must never make locking silently stop
// working.
func lockName(relation string, fp fingerprint.Fingerprint) string {
	h, err := blake2b.New(8, nil)
	if err != nil {
		// blake2b.New only fails on an invalid key or output size, neither
		// of which varies here.
		panic(fmt.Sprintf("storage: blake2b init: %v", err))
	}
	h.Write([]byte(relation))
	h.Write(fp[:])
	return fmt.Sprintf("dt:%x", h.Sum(nil))
}

func toCodecBases(bases []insertcache.Base) []codec.Base {
	out := make([]codec.Base, len(bases))
	for i, b := range bases {
		out[i] = codec.Base{Tag: b.Tag, Bytes: b.Bytes}
	}
	return out
}

// acquireLock wraps dbconn.AcquireFingerprintLock with storage's own
// lock-name derivation.
func (e *Engine) acquireLock(ctx context.Context, relation string, fp fingerprint.Fingerprint) (*dbconn.FingerprintLock, error) {
	lock, err := dbconn.AcquireFingerprintLock(ctx, e.db, e.logger, lockName(relation, fp), 0)
	if err != nil {
		return nil, fmt.Errorf("storage: acquiring advisory lock for %s: %w", relation, err)
	}
	return lock, nil
}
