package storage

import (
	"context"
	"fmt"

	"github.com/block/deltatbl/pkg/fingerprint"
)

// DeleteRowsFunc physically removes every row of relation/fp with
// seq >= fromSeq within the caller's transaction, returning the number of
// rows removed.
type DeleteRowsFunc func(ctx context.Context, relation string, fp fingerprint.Fingerprint, fromSeq uint64) (int64, error)

// Delete runs the cascade-delete pipeline: physically remove every row in
// the group from fromSeq onward, then invalidate every cache that might
// hold stale entries referencing the removed rows — the insert cache's
// slot for this group entirely (it may hold committed bases among the
// deleted rows), the content cache from fromSeq onward, and the sequence
// cache's max-seq entry for the group (the next scan repopulates it
// authoritatively).
//
// fp must already be a value copied out of any page buffer by the
// caller, per the package doc.
func (e *Engine) Delete(ctx context.Context, cfg RelationConfig, fp fingerprint.Fingerprint, fromSeq uint64, del DeleteRowsFunc) (int64, error) {
	if fromSeq == 0 {
		return 0, fmt.Errorf("storage: delete from seq 0 is not valid for relation %s", cfg.Relation)
	}

	n, err := del(ctx, cfg.Relation, fp, fromSeq)
	if err != nil {
		return 0, fmt.Errorf("storage: cascading delete for %s from seq %d: %w", cfg.Relation, fromSeq, err)
	}

	e.inserts.Evict(cfg.Relation, fp)
	e.content.Invalidate(cfg.Relation, fp, fromSeq)
	e.seq.InvalidateGroup(cfg.Relation, fp)

	return n, nil
}
