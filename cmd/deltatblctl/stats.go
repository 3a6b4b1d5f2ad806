package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/block/deltatbl/pkg/dbconn"
	"github.com/block/deltatbl/pkg/fingerprint"
	"github.com/block/deltatbl/pkg/statsaccum"
	"github.com/block/deltatbl/pkg/storage"
)

// StatsCmd prints a relation's aggregated per-group stats (spec §6
// "stats"), reading the persisted group_stats-style table.
type StatsCmd struct {
	Common

	Relation string `arg:"" help:"Relation name."`
}

func (c *StatsCmd) Run() error {
	db, err := c.open()
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := context.Background()

	if err := statsaccum.CreateStatsTable(ctx, db, c.statsTable()); err != nil {
		return err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		"SELECT HEX(fingerprint), row_count, keyframe_count, max_seq, raw_size_bytes, compressed_size_bytes, sum_delta_tags FROM `%s` WHERE relation = ? ORDER BY row_count DESC",
		c.statsTable()), c.Relation)
	if err != nil {
		return err
	}
	defer rows.Close()

	fmt.Printf("%-34s %10s %10s %10s %12s %12s %12s\n", "fingerprint", "rows", "keyframes", "max_seq", "raw_bytes", "compressed", "sum_tags")
	for rows.Next() {
		var fp string
		var rowCount, keyframeCount, maxSeq, rawSize, compressedSize, sumTags int64
		if err := rows.Scan(&fp, &rowCount, &keyframeCount, &maxSeq, &rawSize, &compressedSize, &sumTags); err != nil {
			return err
		}
		fmt.Printf("%-34s %10d %10d %10d %12d %12d %12d\n", fp, rowCount, keyframeCount, maxSeq, rawSize, compressedSize, sumTags)
	}
	return rows.Err()
}

// RefreshStatsCmd fully rescans a relation and rewrites its stats from
// scratch (spec §6 "refresh_stats"), replacing the incrementally
// accumulated figures with an authoritative recount. It reads the
// physical delta cells directly (rather than going through
// pkg/tableaccess's reconstruction path) since stats only need each
// cell's tag and raw/compressed length, not its reconstructed logical
// value.
type RefreshStatsCmd struct {
	Common

	Relation string `arg:"" help:"Relation name."`
}

func (c *RefreshStatsCmd) Run() error {
	db, err := c.open()
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := context.Background()

	if err := statsaccum.CreateStatsTable(ctx, db, c.statsTable()); err != nil {
		return err
	}

	schema, err := c.registry(db).GetSchema(ctx, c.Relation)
	if err != nil {
		return err
	}

	deltaCols := make([]string, 0, len(schema.DeltaColumns))
	for _, name := range schema.DeltaColumns {
		deltaCols = append(deltaCols, fmt.Sprintf("`%s`", name))
	}
	q := fmt.Sprintf("SELECT `__fp`, `__seq`, %s FROM `%s` ORDER BY `__fp`, `__seq`", strings.Join(deltaCols, ", "), c.Relation)
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	acc := statsaccum.New()
	for rows.Next() {
		var fpBytes []byte
		var seq uint64
		cells := make([][]byte, len(deltaCols))
		dest := make([]any, 0, len(deltaCols)+2)
		dest = append(dest, &fpBytes, &seq)
		for i := range cells {
			dest = append(dest, &cells[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		var fp fingerprint.Fingerprint
		copy(fp[:], fpBytes)

		columns := make([]statsaccum.ColumnStat, len(cells))
		for i, cell := range cells {
			tag, _, bytes, err := storage.DecodeCell(cell)
			if err != nil {
				return fmt.Errorf("deltatblctl: decoding %s.%s at seq %d: %w", c.Relation, schema.DeltaColumns[i], seq, err)
			}
			columns[i] = statsaccum.ColumnStat{
				IsKeyframe:     tag == 0,
				Tag:            tag,
				RawSize:        len(bytes),
				CompressedSize: len(cell),
			}
		}
		acc.RecordInsert(c.Relation, fp, seq, columns)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	stmt := fmt.Sprintf("DELETE FROM `%s` WHERE relation = ?", c.statsTable())
	if _, err := db.ExecContext(ctx, stmt, c.Relation); err != nil {
		return err
	}
	if err := acc.Flush(ctx, db, dbconn.NewDBConfig(), c.statsTable()); err != nil {
		return err
	}

	fmt.Printf("refreshed stats for %s: %d group(s)\n", c.Relation, acc.Len())
	return nil
}
