package storage

import (
	"context"
	"fmt"

	"github.com/block/deltatbl/pkg/codec"
	"github.com/block/deltatbl/pkg/contentcache"
	"github.com/block/deltatbl/pkg/fingerprint"
)

// Reconstruct resolves the logical value of one delta column cell already
// fetched by the caller's scan. cell is the raw wire-encoded bytes at
// (fp, seq, colIdx); if it decodes to a keyframe, the raw payload is
// returned directly. Otherwise the content cache is probed, and on a miss
// the base chain is walked back (recursively, through further deltas if
// necessary) until a keyframe or a cached value is found, decoding
// forward from there. The final result is inserted into the content
// cache before returning.
func (e *Engine) Reconstruct(ctx context.Context, cfg RelationConfig, fp fingerprint.Fingerprint, seq uint64, colIdx int, cell []byte, deps Deps) ([]byte, error) {
	tag, deflated, delta, err := DecodeCell(cell)
	if err != nil {
		return nil, err
	}
	if tag == 0 {
		return delta, nil
	}

	key := contentcache.Key{Relation: cfg.Relation, FP: fp, Seq: seq, ColIdx: colIdx}
	if hit, ok := e.content.Probe(key); ok {
		return hit, nil
	}

	baseSeq := seq - uint64(tag)
	baseBytes, err := e.resolve(ctx, cfg, fp, baseSeq, colIdx, deps)
	if err != nil {
		return nil, fmt.Errorf("storage: resolving base seq %d for %s: %w", baseSeq, cfg.Relation, err)
	}
	out, err := codec.Decode(baseBytes, tag, delta, deflated)
	if err != nil {
		return nil, fmt.Errorf("storage: decoding seq %d col %d for %s: %w", seq, colIdx, cfg.Relation, err)
	}
	e.content.Insert(key, out)
	return out, nil
}

// resolve returns the fully-reconstructed bytes for (fp, seq, colIdx),
// recursing through the base chain as needed, probing/populating the
// content cache at every step so a chain only costs one real walk past
// the first cache hit.
func (e *Engine) resolve(ctx context.Context, cfg RelationConfig, fp fingerprint.Fingerprint, seq uint64, colIdx int, deps Deps) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := contentcache.Key{Relation: cfg.Relation, FP: fp, Seq: seq, ColIdx: colIdx}
	if hit, ok := e.content.Probe(key); ok {
		return hit, nil
	}

	loc, ok := e.seq.Locate(cfg.Relation, seq)
	if !ok {
		located, err := deps.Locate(ctx, cfg.Relation, fp, seq)
		if err != nil {
			return nil, fmt.Errorf("storage: locating %s seq %d: %w", cfg.Relation, seq, err)
		}
		loc = located
		e.seq.SetLocator(cfg.Relation, seq, loc)
	}

	gotFP, gotSeq, cell, err := deps.ReadCell(ctx, loc, colIdx)
	if err != nil {
		return nil, fmt.Errorf("storage: reading %s at locator %d: %w", cfg.Relation, loc.Offset, err)
	}
	if gotFP != fp || gotSeq != seq {
		return nil, fmt.Errorf("storage: locator for %s seq %d resolved to a different row (got seq %d)", cfg.Relation, seq, gotSeq)
	}

	tag, deflated, delta, err := DecodeCell(cell)
	if err != nil {
		return nil, err
	}
	if tag == 0 {
		e.content.Insert(key, delta)
		return delta, nil
	}

	baseBytes, err := e.resolve(ctx, cfg, fp, seq-uint64(tag), colIdx, deps)
	if err != nil {
		return nil, err
	}
	out, err := codec.Decode(baseBytes, tag, delta, deflated)
	if err != nil {
		return nil, fmt.Errorf("storage: decoding %s seq %d col %d: %w", cfg.Relation, seq, colIdx, err)
	}
	e.content.Insert(key, out)
	return out, nil
}
