package storage

import (
	"context"

	"github.com/block/deltatbl/pkg/fingerprint"
	"github.com/block/deltatbl/pkg/seqcache"
)

// Deps are the relation-I/O callbacks storage needs from the caller, who
// alone knows the physical table's full schema (non-delta columns, hidden
// bookkeeping column names, indexes). Every method runs against whatever
// transaction the caller's closures were bound to.
type Deps struct {
	// ScanMaxSeq is the visibility-aware authoritative scan for the
	// highest committed seq in a group, used on a sequence-cache miss.
	ScanMaxSeq seqcache.ScanFunc

	// ReadCell loads the fingerprint, seq, and wire-encoded cell for
	// colIdx at a known locator.
	ReadCell func(ctx context.Context, loc seqcache.Locator, colIdx int) (fp fingerprint.Fingerprint, seq uint64, cell []byte, err error)

	// Locate finds the locator of the row holding (relation, fp, seq),
	// used on a locator-cache miss (an index probe in the caller's
	// physical table).
	Locate func(ctx context.Context, relation string, fp fingerprint.Fingerprint, seq uint64) (seqcache.Locator, error)
}
