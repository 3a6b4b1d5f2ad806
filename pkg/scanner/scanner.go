package scanner

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/block/deltatbl/pkg/tableaccess"
)

// VisitFunc is called once per reconstructed tuple a parallel scan
// encounters. Implementations must be safe for concurrent use: Scan runs
// one VisitFunc call per chunk goroutine at a time, with up to
// Concurrency chunk goroutines at once.
type VisitFunc func(ctx context.Context, tuple *tableaccess.Tuple) error

// Bounds returns the relation's current `__locator` extent, the span
// Scan splits into chunks. A relation with no rows reports ok == false.
func Bounds(ctx context.Context, db *sql.DB, relation string) (lower, upper int64, ok bool, err error) {
	row := db.QueryRowContext(ctx, fmt.Sprintf("SELECT MIN(`__locator`), MAX(`__locator`) FROM `%s`", relation))
	var lowerN, upperN sql.NullInt64
	if err := row.Scan(&lowerN, &upperN); err != nil {
		return 0, 0, false, fmt.Errorf("scanner: reading locator bounds of %s: %w", relation, err)
	}
	if !lowerN.Valid {
		return 0, 0, false, nil
	}
	return lowerN.Int64, upperN.Int64, true, nil
}

// Options configures a parallel Scan.
type Options struct {
	// Concurrency bounds how many chunks run at once. A value <= 0 means 1
	// (sequential).
	Concurrency int64
	// Target is the dynamic chunker's per-chunk wall-clock target; 0 uses
	// DefaultTarget.
	Target time.Duration
}

// Scan walks every row of schema's relation, in chunks of `__locator`
// bounded by a semaphore.Weighted, running up to opts.Concurrency chunks
// at once. Each chunk opens its own *sql.Tx and pkg/tableaccess.Scan, so
// a chunk's rows are read under the host's normal MVCC rules exactly as
// a sequential scan would see them; the chunking only partitions the
// locator space, it does not change visibility.
//
// Used by the refresh_stats, warm_cache, and vacuum administrative
// operations, all of which need a full, or nearly full, relation walk
// without holding one long-lived transaction.
func Scan(ctx context.Context, db *sql.DB, adapter *tableaccess.Adapter, schema tableaccess.Schema, opts Options, visit VisitFunc) error {
	lower, upper, ok, err := Bounds(ctx, db, schema.Relation)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	chunker := NewChunker(lower, upper, opts.Target)
	sem := semaphore.NewWeighted(concurrency)
	group, gctx := errgroup.WithContext(ctx)

	for {
		chunk, ok := chunker.Next()
		if !ok {
			break
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		group.Go(func() error {
			defer sem.Release(1)
			rows, took, err := scanChunk(gctx, db, adapter, schema, chunk, visit)
			chunker.Feedback(rows, took)
			return err
		})
	}

	return group.Wait()
}

func scanChunk(ctx context.Context, db *sql.DB, adapter *tableaccess.Adapter, schema tableaccess.Schema, chunk Chunk, visit VisitFunc) (rows int64, took time.Duration, err error) {
	start := time.Now()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("scanner: opening chunk transaction for %s: %w", schema.Relation, err)
	}
	defer tx.Rollback() //nolint:errcheck

	s, err := adapter.BeginScan(ctx, tx, schema, chunk.WhereFragment())
	if err != nil {
		return 0, 0, err
	}
	defer s.EndScan() //nolint:errcheck

	for {
		tuple, ok, err := s.Next()
		if err != nil {
			return rows, time.Since(start), err
		}
		if !ok {
			break
		}
		if err := visit(ctx, tuple); err != nil {
			return rows, time.Since(start), err
		}
		rows++
	}
	return rows, time.Since(start), tx.Commit()
}
