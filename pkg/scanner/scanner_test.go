package scanner_test

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/block/deltatbl/pkg/coltype"
	"github.com/block/deltatbl/pkg/contentcache"
	"github.com/block/deltatbl/pkg/dbconn"
	"github.com/block/deltatbl/pkg/fingerprint"
	"github.com/block/deltatbl/pkg/insertcache"
	"github.com/block/deltatbl/pkg/scanner"
	"github.com/block/deltatbl/pkg/seqcache"
	"github.com/block/deltatbl/pkg/storage"
	"github.com/block/deltatbl/pkg/tableaccess"
	"github.com/block/deltatbl/pkg/testutils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func newAdapter(t *testing.T) (*tableaccess.Adapter, *sql.DB) {
	t.Helper()
	db, err := dbconn.New(testutils.DSN(), dbconn.NewDBConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	seq, err := seqcache.New(64, 64)
	require.NoError(t, err)
	content, err := contentcache.New(0, 256, 1<<20)
	require.NoError(t, err)
	engine := storage.New(db, seq, insertcache.NewManager(16), content, 0, logrus.New())
	t.Cleanup(engine.Close)

	return tableaccess.NewAdapter(db, engine, logrus.New()), db
}

func testSchema(t *testing.T, relation string) tableaccess.Schema {
	t.Helper()
	cfg := storage.RelationConfig{
		Relation:         relation,
		DeltaColumns:     []string{"note"},
		KeyframeInterval: 3,
		CompressDepth:    2,
	}
	schema, err := tableaccess.NewSchema(cfg, "account_id", coltype.ColumnType{Kind: coltype.KindInt}, []tableaccess.ColumnDef{
		{Name: "account_id", SQLType: "BIGINT NOT NULL"},
		{Name: "note", SQLType: "LONGBLOB NOT NULL", IsDelta: true},
	})
	require.NoError(t, err)
	return schema
}

func groupFP(t *testing.T, v int64) fingerprint.Fingerprint {
	t.Helper()
	fp, err := fingerprint.Compute(coltype.NewDatum(v, coltype.ColumnType{Kind: coltype.KindInt}))
	require.NoError(t, err)
	return fp
}

func TestChunkerCoversWholeRange(t *testing.T) {
	c := scanner.NewChunker(1, 2500, time.Millisecond)
	var got []scanner.Chunk
	for {
		chunk, ok := c.Next()
		if !ok {
			break
		}
		got = append(got, chunk)
		c.Feedback(int64(chunk.Upper-chunk.Lower+1), time.Millisecond)
	}
	require.NotEmpty(t, got)
	assert.Equal(t, int64(1), got[0].Lower)
	assert.Equal(t, int64(2500), got[len(got)-1].Upper)
	assert.True(t, got[len(got)-1].Last)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].Upper+1, got[i].Lower)
	}
}

func TestChunkerEmptyRangeYieldsNothing(t *testing.T) {
	c := scanner.NewChunker(5, 4, 0)
	_, ok := c.Next()
	assert.False(t, ok)
}

func TestScanVisitsEveryRowAcrossChunks(t *testing.T) {
	a, db := newAdapter(t)
	schema := testSchema(t, "scnt1")
	ctx := t.Context()

	testutils.RunSQL(t, "DROP TABLE IF EXISTS scnt1")
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, a.CreateRelation(ctx, tx, schema))
	require.NoError(t, tx.Commit())

	for i := int64(0); i < 12; i++ {
		fp := groupFP(t, i)
		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		_, err = a.InsertTuple(ctx, tx, schema, fp, [][]byte{[]byte("1"), []byte("note")})
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
	}

	var mu sync.Mutex
	seen := 0
	err = scanner.Scan(ctx, db, a, schema, scanner.Options{Concurrency: 4}, func(_ context.Context, tup *tableaccess.Tuple) error {
		mu.Lock()
		defer mu.Unlock()
		seen++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 12, seen)
}

func TestScanEmptyRelationIsNoop(t *testing.T) {
	a, db := newAdapter(t)
	schema := testSchema(t, "scnt2")
	ctx := t.Context()

	testutils.RunSQL(t, "DROP TABLE IF EXISTS scnt2")
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, a.CreateRelation(ctx, tx, schema))
	require.NoError(t, tx.Commit())

	called := false
	err = scanner.Scan(ctx, db, a, schema, scanner.Options{}, func(context.Context, *tableaccess.Tuple) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}
