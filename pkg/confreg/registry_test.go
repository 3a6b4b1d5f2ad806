package confreg_test

import (
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/block/deltatbl/pkg/confreg"
	"github.com/block/deltatbl/pkg/dbconn"
	"github.com/block/deltatbl/pkg/testutils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func newRegistry(t *testing.T) (*confreg.Registry, *sql.DB) {
	t.Helper()
	db, err := dbconn.New(testutils.DSN(), dbconn.NewDBConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r := confreg.NewRegistry(db, "confregt_config")
	testutils.RunSQL(t, "DROP TABLE IF EXISTS confregt_config")
	require.NoError(t, r.CreateConfigTable(t.Context()))
	return r, db
}

func TestConfigureAndGetSchemaRoundTrip(t *testing.T) {
	r, db := newRegistry(t)
	ctx := t.Context()

	testutils.RunSQL(t, "DROP TABLE IF EXISTS confregt1")
	testutils.RunSQL(t, `CREATE TABLE confregt1 (
		account_id BIGINT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		snapshot LONGBLOB NOT NULL
	)`)

	spec := confreg.Spec{
		Relation:         "confregt1",
		GroupColumn:      "account_id",
		OrderColumn:      "updated_at",
		DeltaColumns:     []string{"snapshot"},
		KeyframeInterval: 10,
		CompressDepth:    3,
	}
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.Configure(ctx, tx, spec))
	require.NoError(t, tx.Commit())

	schema, err := r.GetSchema(ctx, "confregt1")
	require.NoError(t, err)
	assert.Equal(t, "confregt1", schema.Relation)
	assert.Equal(t, []string{"snapshot"}, schema.DeltaColumns)
	assert.Equal(t, uint32(10), schema.KeyframeInterval)
	assert.Equal(t, 3, schema.CompressDepth)
	assert.True(t, schema.UserColumns[2].IsDelta)
	assert.False(t, schema.UserColumns[0].IsDelta)
}

func TestConfigureRejectsNullableDeltaColumn(t *testing.T) {
	r, db := newRegistry(t)
	ctx := t.Context()

	testutils.RunSQL(t, "DROP TABLE IF EXISTS confregt2")
	testutils.RunSQL(t, `CREATE TABLE confregt2 (
		account_id BIGINT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		snapshot LONGBLOB NULL
	)`)

	spec := confreg.Spec{
		Relation:         "confregt2",
		GroupColumn:      "account_id",
		OrderColumn:      "updated_at",
		DeltaColumns:     []string{"snapshot"},
		KeyframeInterval: 5,
		CompressDepth:    2,
	}
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	err = r.Configure(ctx, tx, spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be NOT NULL")
}

func TestConfigureRejectsNonOrderableOrderColumn(t *testing.T) {
	r, db := newRegistry(t)
	ctx := t.Context()

	testutils.RunSQL(t, "DROP TABLE IF EXISTS confregt3")
	testutils.RunSQL(t, `CREATE TABLE confregt3 (
		account_id BIGINT NOT NULL,
		label VARCHAR(64) NOT NULL,
		snapshot LONGBLOB NOT NULL
	)`)

	spec := confreg.Spec{
		Relation:         "confregt3",
		GroupColumn:      "account_id",
		OrderColumn:      "label",
		DeltaColumns:     []string{"snapshot"},
		KeyframeInterval: 5,
		CompressDepth:    2,
	}
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	err = r.Configure(ctx, tx, spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integer or timestamp")
}

func TestConfigureRejectsUnknownColumn(t *testing.T) {
	r, db := newRegistry(t)
	ctx := t.Context()

	testutils.RunSQL(t, "DROP TABLE IF EXISTS confregt4")
	testutils.RunSQL(t, `CREATE TABLE confregt4 (
		account_id BIGINT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		snapshot LONGBLOB NOT NULL
	)`)

	spec := confreg.Spec{
		Relation:         "confregt4",
		GroupColumn:      "account_id",
		OrderColumn:      "updated_at",
		DeltaColumns:     []string{"does_not_exist"},
		KeyframeInterval: 5,
		CompressDepth:    2,
	}
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	err = r.Configure(ctx, tx, spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestInvalidateForcesReload(t *testing.T) {
	r, db := newRegistry(t)
	ctx := t.Context()

	testutils.RunSQL(t, "DROP TABLE IF EXISTS confregt5")
	testutils.RunSQL(t, `CREATE TABLE confregt5 (
		account_id BIGINT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		snapshot LONGBLOB NOT NULL
	)`)

	spec := confreg.Spec{
		Relation:         "confregt5",
		GroupColumn:      "account_id",
		OrderColumn:      "updated_at",
		DeltaColumns:     []string{"snapshot"},
		KeyframeInterval: 5,
		CompressDepth:    2,
	}
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.Configure(ctx, tx, spec))
	require.NoError(t, tx.Commit())

	_, err = r.GetSchema(ctx, "confregt5")
	require.NoError(t, err)

	tx2, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.DropRelationHook(ctx, tx2, "confregt5"))
	require.NoError(t, tx2.Commit())

	_, err = r.GetSchema(ctx, "confregt5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no configuration")
}
