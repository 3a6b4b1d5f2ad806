// Package tableaccess implements the host engine's storage-callback
// surface (spec component I): create/drop relation, scan, fetch/insert/
// delete tuple, update (always rejected), vacuum, analyze, truncate. It
// is the one package that knows a relation's full physical layout —
// hidden bookkeeping columns plus the user's own columns — and is the
// only caller of pkg/storage's Deps-injected pipelines.
//
// MVCC visibility is never implemented here: every method takes the
// caller's *sql.Tx and runs its reads and writes on it, so MySQL's own
// transaction isolation (set via sql.TxOptions.Isolation on that *sql.Tx)
// governs what the caller's snapshot sees, including its own
// uncommitted inserts and deletes. This package never opens a second,
// independent transaction to peek at data a scan's transaction
// wouldn't itself be allowed to see.
package tableaccess

import (
	"fmt"

	"github.com/block/deltatbl/pkg/coltype"
	"github.com/block/deltatbl/pkg/storage"
)

// ColumnDef describes one user-facing physical column. SQLType is only
// consulted by CreateRelation, and only for non-delta columns: delta
// columns are always physically LONGBLOB, holding the wire-encoded cell
// rather than the user's declared type.
type ColumnDef struct {
	Name    string
	SQLType string
	IsDelta bool
}

// Schema is everything tableaccess needs to read and write one relation's
// physical table. UserColumns must list every user-facing column in
// physical order, and the IsDelta-flagged entries must appear in exactly
// the same relative order as RelationConfig.DeltaColumns — pkg/confreg is
// responsible for building a Schema that honors this, and NewSchema
// checks it.
type Schema struct {
	storage.RelationConfig
	GroupColumn     string
	GroupColumnType coltype.ColumnType
	UserColumns     []ColumnDef
}

// NewSchema validates that cfg.DeltaColumns and the IsDelta-flagged
// entries of columns agree, both in membership and in order, and returns
// the assembled Schema.
func NewSchema(cfg storage.RelationConfig, groupColumn string, groupColumnType coltype.ColumnType, columns []ColumnDef) (Schema, error) {
	var deltaOrder []string
	for _, c := range columns {
		if c.IsDelta {
			deltaOrder = append(deltaOrder, c.Name)
		}
	}
	if len(deltaOrder) != len(cfg.DeltaColumns) {
		return Schema{}, fmt.Errorf("tableaccess: relation %s: %d delta columns in config but %d marked in schema", cfg.Relation, len(cfg.DeltaColumns), len(deltaOrder))
	}
	for i, name := range deltaOrder {
		if name != cfg.DeltaColumns[i] {
			return Schema{}, fmt.Errorf("tableaccess: relation %s: delta column order mismatch at position %d: config has %s, schema has %s", cfg.Relation, i, cfg.DeltaColumns[i], name)
		}
	}
	return Schema{
		RelationConfig:  cfg,
		GroupColumn:     groupColumn,
		GroupColumnType: groupColumnType,
		UserColumns:     columns,
	}, nil
}

func (s Schema) deltaColumnNames() []string {
	return s.DeltaColumns
}
