package storage

import (
	"context"
	"fmt"

	"github.com/block/deltatbl/pkg/codec"
	"github.com/block/deltatbl/pkg/fingerprint"
	"github.com/block/deltatbl/pkg/insertcache"
	"github.com/block/deltatbl/pkg/seqcache"
)

// WriteRowFunc persists one physical row: the caller's non-delta columns
// (already known to it, not passed here), plus the hidden bookkeeping
// (seq, fp) and the wire-encoded delta cells this package computed. It
// returns the locator the row was written at.
type WriteRowFunc func(ctx context.Context, seq uint64, fp fingerprint.Fingerprint, cells [][]byte) (locator int64, err error)

// Insert runs the write pipeline: acquire the advisory lock, allocate a
// seq, fetch encode bases from the insert cache (cold-filling it first if
// this is the slot's first use), encode every delta column — across the
// encode pool if configured — call write to persist the physical row,
// and finally make the new row visible to future encodes by pushing and
// committing it into the insert cache.
//
// Any failure after seq allocation releases the seq and discards any
// pushed-but-uncommitted insert-cache entries before returning, per the
// rollback discipline described in the package doc.
func (e *Engine) Insert(ctx context.Context, cfg RelationConfig, fp fingerprint.Fingerprint, columns [][]byte, deps Deps, write WriteRowFunc) (seq uint64, err error) {
	return e.insert(ctx, cfg, fp, 0, columns, deps, write)
}

// InsertAt is Insert with a caller-supplied seq instead of an
// auto-allocated one, for restoring a previously exported snapshot at its
// original sequence numbers. It is only valid when cfg.AllowExplicitSeq
// is set, and explicitSeq must be strictly greater than the group's
// current max seq; both are enforced here, not by the caller.
func (e *Engine) InsertAt(ctx context.Context, cfg RelationConfig, fp fingerprint.Fingerprint, explicitSeq uint64, columns [][]byte, deps Deps, write WriteRowFunc) (seq uint64, err error) {
	if !cfg.AllowExplicitSeq {
		return 0, fmt.Errorf("storage: relation %s does not allow an explicit seq on insert", cfg.Relation)
	}
	if explicitSeq == 0 {
		return 0, fmt.Errorf("storage: explicit seq for relation %s must be >= 1", cfg.Relation)
	}
	return e.insert(ctx, cfg, fp, explicitSeq, columns, deps, write)
}

// insert is the shared write pipeline behind Insert and InsertAt.
// explicitSeq == 0 means auto-allocate; any other value is a caller-
// supplied seq already known to pass InsertAt's gate.
func (e *Engine) insert(ctx context.Context, cfg RelationConfig, fp fingerprint.Fingerprint, explicitSeq uint64, columns [][]byte, deps Deps, write WriteRowFunc) (seq uint64, err error) {
	if err := cfg.validate(len(columns)); err != nil {
		return 0, err
	}

	lock, err := e.acquireLock(ctx, cfg.Relation, fp)
	if err != nil {
		return 0, err
	}
	defer func() {
		if relErr := lock.Release(ctx); relErr != nil {
			e.logger.Errorf("storage: releasing advisory lock for %s: %v", cfg.Relation, relErr)
		}
	}()

	if explicitSeq == 0 {
		seq, err = e.seq.Allocate(ctx, cfg.Relation, fp, deps.ScanMaxSeq)
		if err != nil {
			return 0, err
		}
	} else {
		if err = e.seq.AllocateExplicit(ctx, cfg.Relation, fp, explicitSeq, deps.ScanMaxSeq); err != nil {
			return 0, err
		}
		seq = explicitSeq
	}
	releaseSeq := true
	defer func() {
		if releaseSeq {
			e.seq.Release(cfg.Relation, fp, seq)
		}
	}()

	slot, isNew := e.inserts.GetSlot(cfg.Relation, fp, cfg.CompressDepth, len(cfg.DeltaColumns))
	if isNew && seq > 1 {
		if err := e.populateSlot(ctx, cfg, fp, slot, seq, deps); err != nil {
			return 0, fmt.Errorf("storage: populating insert-cache slot for %s: %w", cfg.Relation, err)
		}
	}

	cells, err := e.encodeRow(ctx, cfg, slot, seq, columns)
	if err != nil {
		return 0, err
	}

	locator, err := write(ctx, seq, fp, cells)
	if err != nil {
		insertcache.DiscardUncommitted(slot)
		return 0, fmt.Errorf("storage: writing physical row for %s: %w", cfg.Relation, err)
	}

	for i := range cells {
		insertcache.Push(slot, seq, i, columns[i])
	}
	insertcache.CommitEntry(slot, seq)
	e.seq.SetLocator(cfg.Relation, seq, seqcache.Locator{Relation: cfg.Relation, Offset: locator})
	e.seq.Commit(cfg.Relation, fp)
	releaseSeq = false

	return seq, nil
}

// encodeRow produces the wire-encoded cell for every delta column of a
// row being inserted at seq, forcing a keyframe on mandatory keyframe
// boundaries regardless of what the codec would have chosen.
func (e *Engine) encodeRow(ctx context.Context, cfg RelationConfig, slot *insertcache.Slot, seq uint64, columns [][]byte) ([][]byte, error) {
	forceKeyframe := cfg.IsKeyframeSeq(seq)
	jobs := make([]func() cellResult, len(cfg.DeltaColumns))
	for i := range cfg.DeltaColumns {
		i := i
		target := columns[i]
		jobs[i] = func() cellResult {
			if forceKeyframe {
				return cellResult{colIdx: i, cell: EncodeCell(0, false, target)}
			}
			bases := toCodecBases(insertcache.GetBases(slot, seq, i))
			res := codec.Encode(bases, target, cfg.UseSecondaryCompression)
			return cellResult{colIdx: i, cell: EncodeCell(res.Tag, res.Deflated, res.Bytes)}
		}
	}
	results, err := e.pool.Run(ctx, jobs)
	if err != nil {
		return nil, fmt.Errorf("storage: encoding row for %s: %w", cfg.Relation, err)
	}
	cells := make([][]byte, len(cfg.DeltaColumns))
	for _, r := range results {
		cells[r.colIdx] = r.cell
	}
	return cells, nil
}

// populateSlot cold-fills slot's rings by reconstructing each delta
// column for the most recent min(D, newSeq-1) rows of the group.
func (e *Engine) populateSlot(ctx context.Context, cfg RelationConfig, fp fingerprint.Fingerprint, slot *insertcache.Slot, newSeq uint64, deps Deps) error {
	depth := uint64(cfg.CompressDepth)
	start := uint64(1)
	if newSeq > depth+1 {
		start = newSeq - depth
	}
	rows := make([]insertcache.PopulateRow, 0, depth)
	for s := start; s < newSeq; s++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		cols := make([][]byte, len(cfg.DeltaColumns))
		for i := range cfg.DeltaColumns {
			b, err := e.resolve(ctx, cfg, fp, s, i, deps)
			if err != nil {
				return err
			}
			cols[i] = b
		}
		rows = append(rows, insertcache.PopulateRow{Seq: s, Columns: cols})
	}
	insertcache.Populate(slot, rows)
	return nil
}
