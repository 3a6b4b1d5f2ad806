package tableaccess

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/siddontang/loggers"

	"github.com/block/deltatbl/pkg/fingerprint"
	"github.com/block/deltatbl/pkg/seqcache"
	"github.com/block/deltatbl/pkg/storage"
)

// ErrVacuumFullNotSupported is returned by Vacuum when full is set: VACUUM
// FULL would rewrite the table outside of seq order, which would break
// every delta column's base-chain invariant.
var ErrVacuumFullNotSupported = errors.New("tableaccess: VACUUM FULL is not supported")

// ErrUpdateNotSupported is returned by UpdateTuple unconditionally.
// Versioned rows are immutable once written; the only supported mutation
// path is INSERT (a new seq) followed eventually by a cascading DELETE.
var ErrUpdateNotSupported = errors.New("tableaccess: UPDATE is not supported on a delta-versioned relation")

// Adapter implements the storage-callback surface against a MySQL
// physical table, delegating all delta-column machinery to a shared
// storage.Engine.
type Adapter struct {
	db     *sql.DB
	engine *storage.Engine
	logger loggers.Advanced
}

// NewAdapter builds an Adapter. One Adapter is shared by every relation
// served by a backend, same as the storage.Engine it wraps.
func NewAdapter(db *sql.DB, engine *storage.Engine, logger loggers.Advanced) *Adapter {
	return &Adapter{db: db, engine: engine, logger: logger}
}

// deps builds the storage.Deps closures for schema, scoped to tx so every
// read they do honors the caller's transaction isolation.
func (a *Adapter) deps(tx *sql.Tx, schema Schema) storage.Deps {
	relation := schema.Relation
	return storage.Deps{
		ScanMaxSeq: func(ctx context.Context, relation string, fp fingerprint.Fingerprint) (uint64, error) {
			var max sql.NullInt64
			q := fmt.Sprintf("SELECT MAX(`__seq`) FROM `%s` WHERE `__fp` = ?", relation)
			if err := tx.QueryRowContext(ctx, q, fp[:]).Scan(&max); err != nil {
				return 0, err
			}
			if !max.Valid {
				return 0, nil
			}
			return uint64(max.Int64), nil
		},
		ReadCell: func(ctx context.Context, loc seqcache.Locator, colIdx int) (fingerprint.Fingerprint, uint64, []byte, error) {
			col := schema.DeltaColumns[colIdx]
			q := fmt.Sprintf("SELECT `__fp`, `__seq`, `%s` FROM `%s` WHERE `__locator` = ?", col, relation)
			var fpBytes []byte
			var seq uint64
			var cell []byte
			if err := tx.QueryRowContext(ctx, q, loc.Offset).Scan(&fpBytes, &seq, &cell); err != nil {
				return fingerprint.Fingerprint{}, 0, nil, err
			}
			var fp fingerprint.Fingerprint
			copy(fp[:], fpBytes)
			return fp, seq, cell, nil
		},
		Locate: func(ctx context.Context, relation string, fp fingerprint.Fingerprint, seq uint64) (seqcache.Locator, error) {
			q := fmt.Sprintf("SELECT `__locator` FROM `%s` WHERE `__fp` = ? AND `__seq` = ?", relation)
			var locator int64
			if err := tx.QueryRowContext(ctx, q, fp[:], seq).Scan(&locator); err != nil {
				return seqcache.Locator{}, err
			}
			return seqcache.Locator{Relation: relation, Offset: locator}, nil
		},
	}
}
