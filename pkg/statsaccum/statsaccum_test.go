package statsaccum_test

import (
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/block/deltatbl/pkg/coltype"
	"github.com/block/deltatbl/pkg/dbconn"
	"github.com/block/deltatbl/pkg/fingerprint"
	"github.com/block/deltatbl/pkg/statsaccum"
	"github.com/block/deltatbl/pkg/testutils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

const statsTable = "statsaccumt_group_stats"

func newStatsTable(t *testing.T) *sql.DB {
	t.Helper()
	db, err := dbconn.New(testutils.DSN(), dbconn.NewDBConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	testutils.RunSQL(t, fmt.Sprintf("DROP TABLE IF EXISTS `%s`", statsTable))
	testutils.RunSQL(t, fmt.Sprintf(`CREATE TABLE %s (
		relation VARCHAR(255) NOT NULL,
		fingerprint BINARY(16) NOT NULL,
		row_count BIGINT NOT NULL DEFAULT 0,
		keyframe_count BIGINT NOT NULL DEFAULT 0,
		max_seq BIGINT NOT NULL DEFAULT 0,
		raw_size_bytes BIGINT NOT NULL DEFAULT 0,
		compressed_size_bytes BIGINT NOT NULL DEFAULT 0,
		sum_delta_tags BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (relation, fingerprint)
	)`, statsTable))
	return db
}

func groupFP(t *testing.T, v int64) fingerprint.Fingerprint {
	t.Helper()
	fp, err := fingerprint.Compute(coltype.NewDatum(v, coltype.ColumnType{Kind: coltype.KindInt}))
	require.NoError(t, err)
	return fp
}

type statsRow struct {
	RowCount       int64
	KeyframeCount  int64
	MaxSeq         int64
	RawSize        int64
	CompressedSize int64
	SumTags        int64
}

func readStats(t *testing.T, db *sql.DB, relation string, fp fingerprint.Fingerprint) statsRow {
	t.Helper()
	var r statsRow
	err := db.QueryRow(
		fmt.Sprintf("SELECT row_count, keyframe_count, max_seq, raw_size_bytes, compressed_size_bytes, sum_delta_tags FROM `%s` WHERE relation = ? AND fingerprint = ?", statsTable),
		relation, fp[:]).Scan(&r.RowCount, &r.KeyframeCount, &r.MaxSeq, &r.RawSize, &r.CompressedSize, &r.SumTags)
	require.NoError(t, err)
	return r
}

func TestFlushInsertsNewGroup(t *testing.T) {
	db := newStatsTable(t)
	fp := groupFP(t, 1)

	acc := statsaccum.New()
	acc.RecordInsert("rel_a", fp, 1, []statsaccum.ColumnStat{{IsKeyframe: true, Tag: 0, RawSize: 40, CompressedSize: 40}})
	acc.RecordInsert("rel_a", fp, 2, []statsaccum.ColumnStat{{IsKeyframe: false, Tag: 1, RawSize: 40, CompressedSize: 6}})
	require.Equal(t, 1, acc.Len())

	require.NoError(t, acc.Flush(t.Context(), db, dbconn.NewDBConfig(), statsTable))

	got := readStats(t, db, "rel_a", fp)
	assert.Equal(t, int64(2), got.RowCount)
	assert.Equal(t, int64(1), got.KeyframeCount)
	assert.Equal(t, int64(2), got.MaxSeq)
	assert.Equal(t, int64(80), got.RawSize)
	assert.Equal(t, int64(46), got.CompressedSize)
	assert.Equal(t, int64(1), got.SumTags)
}

func TestFlushAccumulatesAcrossCalls(t *testing.T) {
	db := newStatsTable(t)
	fp := groupFP(t, 2)

	acc1 := statsaccum.New()
	acc1.RecordInsert("rel_b", fp, 1, []statsaccum.ColumnStat{{IsKeyframe: true, RawSize: 10, CompressedSize: 10}})
	require.NoError(t, acc1.Flush(t.Context(), db, dbconn.NewDBConfig(), statsTable))

	acc2 := statsaccum.New()
	acc2.RecordInsert("rel_b", fp, 2, []statsaccum.ColumnStat{{IsKeyframe: false, Tag: 1, RawSize: 10, CompressedSize: 3}})
	require.NoError(t, acc2.Flush(t.Context(), db, dbconn.NewDBConfig(), statsTable))

	got := readStats(t, db, "rel_b", fp)
	assert.Equal(t, int64(2), got.RowCount)
	assert.Equal(t, int64(1), got.KeyframeCount)
	assert.Equal(t, int64(2), got.MaxSeq)
	assert.Equal(t, int64(20), got.RawSize)
	assert.Equal(t, int64(13), got.CompressedSize)
}

func TestRecordDeleteWithoutColumnsOnlyAdjustsRowCount(t *testing.T) {
	db := newStatsTable(t)
	fp := groupFP(t, 3)

	acc1 := statsaccum.New()
	acc1.RecordInsert("rel_c", fp, 1, []statsaccum.ColumnStat{{IsKeyframe: true, RawSize: 50, CompressedSize: 50}})
	acc1.RecordInsert("rel_c", fp, 2, []statsaccum.ColumnStat{{IsKeyframe: false, Tag: 1, RawSize: 50, CompressedSize: 8}})
	require.NoError(t, acc1.Flush(t.Context(), db, dbconn.NewDBConfig(), statsTable))

	acc2 := statsaccum.New()
	acc2.RecordDelete("rel_c", fp, 1, nil)
	require.NoError(t, acc2.Flush(t.Context(), db, dbconn.NewDBConfig(), statsTable))

	got := readStats(t, db, "rel_c", fp)
	assert.Equal(t, int64(1), got.RowCount)
	// size/keyframe fields are untouched by a columns=nil delete, left for
	// a later rescan to reconcile.
	assert.Equal(t, int64(1), got.KeyframeCount)
	assert.Equal(t, int64(100), got.RawSize)
}

func TestFlushManyGroupsFansOut(t *testing.T) {
	db := newStatsTable(t)

	acc := statsaccum.New()
	const numGroups = 20
	for i := 0; i < numGroups; i++ {
		fp := groupFP(t, int64(1000+i))
		acc.RecordInsert("rel_fanout", fp, 1, []statsaccum.ColumnStat{{IsKeyframe: true, RawSize: 5, CompressedSize: 5}})
	}
	require.Equal(t, numGroups, acc.Len())

	require.NoError(t, acc.Flush(t.Context(), db, dbconn.NewDBConfig(), statsTable))

	var total int
	require.NoError(t, db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM `%s` WHERE relation = ?", statsTable), "rel_fanout").Scan(&total))
	assert.Equal(t, numGroups, total)
}

func TestFlushEmptyAccumulatorIsNoop(t *testing.T) {
	db := newStatsTable(t)
	acc := statsaccum.New()
	require.NoError(t, acc.Flush(t.Context(), db, dbconn.NewDBConfig(), statsTable))
}
