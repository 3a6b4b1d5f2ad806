// Package statsaccum accumulates per-group row/size/tag statistics within
// one transaction and flushes them to the persisted group_stats table in
// a batch of per-group upserts at the pre-commit hook — O(groups)
// regardless of how many rows the transaction touched (spec §4.H).
//
// Flush runs a handful of groups' upserts together in one short,
// retryable transaction; once there are enough groups to be worth it, it
// fans them out with errgroup, each group's upsert as its own short,
// independently retryable transaction — the same split
// subscription.flushDeltaMap uses between its single-threaded and
// parallel paths. Stats rows don't need
// to commit atomically with the row data they describe: they're an
// approximate, self-healing aggregate (refresh_stats can always rescan
// and overwrite them), so there's nothing to gain from holding them in
// the same transaction and every reason to let independent groups flush
// concurrently.
package statsaccum

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/block/deltatbl/pkg/dbconn"
	"github.com/block/deltatbl/pkg/fingerprint"
)

// parallelFlushThreshold is the group count at or above which Flush fans out
// across goroutines instead of running upserts back to back.
const parallelFlushThreshold = 8

// DefaultStatsTable is the table name used when a caller doesn't need a
// different one (tests, and cmd/deltatblctl's stats/refresh_stats
// operations).
const DefaultStatsTable = "deltatbl_group_stats"

// CreateStatsTable bootstraps the persisted stats store Flush writes
// into. Safe to call repeatedly; a no-op once the table exists.
func CreateStatsTable(ctx context.Context, db *sql.DB, table string) error {
	if table == "" {
		table = DefaultStatsTable
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS `+"`%s`"+` (
		relation VARCHAR(255) NOT NULL,
		fingerprint BINARY(16) NOT NULL,
		row_count BIGINT NOT NULL DEFAULT 0,
		keyframe_count BIGINT NOT NULL DEFAULT 0,
		max_seq BIGINT UNSIGNED NOT NULL DEFAULT 0,
		raw_size_bytes BIGINT NOT NULL DEFAULT 0,
		compressed_size_bytes BIGINT NOT NULL DEFAULT 0,
		sum_delta_tags BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (relation, fingerprint)
	)`, table)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("statsaccum: creating stats table: %w", err)
	}
	return nil
}

type groupKey struct {
	relation string
	fp       fingerprint.Fingerprint
}

// Delta is the net change to one group's stats accumulated so far in the
// current transaction. A flushed Delta is added into the persisted row,
// never replaces it outright.
type Delta struct {
	RowCount            int64
	KeyframeCount       int64
	MaxSeq              uint64
	RawSizeBytes        int64
	CompressedSizeBytes int64
	SumDeltaTags        int64
}

// ColumnStat is one delta column's encode outcome, folded into a group's
// Delta by RecordInsert/RecordDelete.
type ColumnStat struct {
	IsKeyframe     bool
	Tag            uint16
	RawSize        int
	CompressedSize int
}

// Accumulator is backend-private and scoped to one transaction: build one
// per transaction, record every INSERT/DELETE against it, Flush once at
// the pre-commit hook, then discard it.
type Accumulator struct {
	mu     sync.Mutex
	deltas map[groupKey]*Delta
}

// New creates an empty Accumulator.
func New() *Accumulator {
	return &Accumulator{deltas: make(map[groupKey]*Delta)}
}

func (a *Accumulator) get(relation string, fp fingerprint.Fingerprint) *Delta {
	key := groupKey{relation, fp}
	d, ok := a.deltas[key]
	if !ok {
		d = &Delta{}
		a.deltas[key] = d
	}
	return d
}

// RecordInsert folds one inserted row's per-column encode outcomes into
// the group's running delta: +1 row, +1 per keyframe column, the new max
// seq, and the raw/compressed sizes and tag of every delta column.
func (a *Accumulator) RecordInsert(relation string, fp fingerprint.Fingerprint, seq uint64, columns []ColumnStat) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.get(relation, fp)
	d.RowCount++
	if seq > d.MaxSeq {
		d.MaxSeq = seq
	}
	for _, c := range columns {
		if c.IsKeyframe {
			d.KeyframeCount++
		}
		d.RawSizeBytes += int64(c.RawSize)
		d.CompressedSizeBytes += int64(c.CompressedSize)
		d.SumDeltaTags += int64(c.Tag)
	}
}

// RecordDelete subtracts rows removed rows from the group's running
// delta. columns, when the caller has it on hand (a cascade typically
// must decode the removed rows anyway, to answer the host's row count),
// must be the summed per-column contribution of exactly those rows.
// Passing nil still correctly decrements row_count; the size/keyframe/tag
// fields are then left slightly stale until the next refresh_stats
// rescan reconciles them.
func (a *Accumulator) RecordDelete(relation string, fp fingerprint.Fingerprint, rows int64, columns []ColumnStat) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.get(relation, fp)
	d.RowCount -= rows
	for _, c := range columns {
		if c.IsKeyframe {
			d.KeyframeCount--
		}
		d.RawSizeBytes -= int64(c.RawSize)
		d.CompressedSizeBytes -= int64(c.CompressedSize)
		d.SumDeltaTags -= int64(c.Tag)
	}
}

// Len reports how many distinct groups have a pending delta.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.deltas)
}

// Flush upserts every accumulated group delta into the named stats table.
// table must already exist with a unique key on (relation, fingerprint).
func (a *Accumulator) Flush(ctx context.Context, db *sql.DB, dbConfig *dbconn.DBConfig, table string) error {
	a.mu.Lock()
	snapshot := make(map[groupKey]Delta, len(a.deltas))
	for k, d := range a.deltas {
		snapshot[k] = *d
	}
	a.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	stmts := make([]string, 0, len(snapshot))
	for k, d := range snapshot {
		stmts = append(stmts, upsertStmt(table, k, d))
	}

	if len(stmts) < parallelFlushThreshold {
		if _, err := dbconn.RetryableTransaction(ctx, db, false, dbConfig, stmts...); err != nil {
			return fmt.Errorf("statsaccum: flushing %d group(s): %w", len(stmts), err)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, stmt := range stmts {
		stmt := stmt
		g.Go(func() error {
			_, err := dbconn.RetryableTransaction(gctx, db, false, dbConfig, stmt)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("statsaccum: flushing %d group(s): %w", len(stmts), err)
	}
	return nil
}

// upsertStmt builds a self-contained statement rather than a
// parameterized one: dbconn.RetryableTransaction takes plain SQL text (it
// may retry the same statement several times across fresh transactions),
// so values are inlined here instead. relation is assumed already
// validated as a plain SQL identifier by pkg/confreg before it ever
// reaches this package; the single-quote escape is defense in depth, not
// the primary safety boundary.
func upsertStmt(table string, k groupKey, d Delta) string {
	relation := strings.ReplaceAll(k.relation, "'", "''")
	return fmt.Sprintf(
		"INSERT INTO `%s` (relation, fingerprint, row_count, keyframe_count, max_seq, raw_size_bytes, compressed_size_bytes, sum_delta_tags) "+
			"VALUES ('%s', UNHEX('%x'), %d, %d, %d, %d, %d, %d) "+
			"ON DUPLICATE KEY UPDATE "+
			"row_count = row_count + %d, "+
			"keyframe_count = keyframe_count + %d, "+
			"max_seq = GREATEST(max_seq, %d), "+
			"raw_size_bytes = raw_size_bytes + %d, "+
			"compressed_size_bytes = compressed_size_bytes + %d, "+
			"sum_delta_tags = sum_delta_tags + %d",
		table, relation, k.fp[:],
		d.RowCount, d.KeyframeCount, d.MaxSeq, d.RawSizeBytes, d.CompressedSizeBytes, d.SumDeltaTags,
		d.RowCount, d.KeyframeCount, d.MaxSeq, d.RawSizeBytes, d.CompressedSizeBytes, d.SumDeltaTags,
	)
}
