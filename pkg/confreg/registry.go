package confreg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/block/deltatbl/pkg/statement"
	"github.com/block/deltatbl/pkg/storage"
	"github.com/block/deltatbl/pkg/tableaccess"
)

// Registry is the relation-keyed configuration cache. One Registry is
// shared by every relation served by a backend. Lookup is on first use
// per relation per backend; after that, GetSchema is served from memory
// until the relation's configure operation or drop hook invalidates it.
type Registry struct {
	db          *sql.DB
	configTable string

	mu    sync.RWMutex
	cache map[string]tableaccess.Schema
}

// NewRegistry builds a Registry backed by configTable, which must already
// exist (see CreateConfigTable).
func NewRegistry(db *sql.DB, configTable string) *Registry {
	if configTable == "" {
		configTable = DefaultConfigTable
	}
	return &Registry{db: db, configTable: configTable, cache: make(map[string]tableaccess.Schema)}
}

// CreateConfigTable bootstraps the registry's persistent store. Safe to
// call repeatedly; a no-op once the table exists.
func (r *Registry) CreateConfigTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS `+"`%s`"+` (
		relation VARCHAR(255) NOT NULL PRIMARY KEY,
		group_column VARCHAR(255) NOT NULL,
		order_column VARCHAR(255) NOT NULL,
		delta_columns VARCHAR(2048) NOT NULL,
		keyframe_interval INT UNSIGNED NOT NULL,
		compress_depth INT NOT NULL,
		use_secondary_compression TINYINT(1) NOT NULL,
		allow_explicit_seq TINYINT(1) NOT NULL
	)`, r.configTable)
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("confreg: creating config table: %w", err)
	}
	return nil
}

// Configure validates spec against relation's live schema (via SHOW
// CREATE TABLE, parsed through pkg/statement) and persists it, replacing
// any prior configuration for the same relation. Must run on tx so it
// participates in whatever transaction the caller's DDL/configure
// statement is already inside.
func (r *Registry) Configure(ctx context.Context, tx *sql.Tx, spec Spec) error {
	if err := spec.validateStatic(); err != nil {
		return err
	}

	schema, err := r.buildSchema(ctx, tx, spec)
	if err != nil {
		return err
	}

	deltaColumns := strings.Join(spec.DeltaColumns, ",")
	stmt := fmt.Sprintf(`INSERT INTO `+"`%s`"+` (relation, group_column, order_column, delta_columns, keyframe_interval, compress_depth, use_secondary_compression, allow_explicit_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		group_column = VALUES(group_column),
		order_column = VALUES(order_column),
		delta_columns = VALUES(delta_columns),
		keyframe_interval = VALUES(keyframe_interval),
		compress_depth = VALUES(compress_depth),
		use_secondary_compression = VALUES(use_secondary_compression),
		allow_explicit_seq = VALUES(allow_explicit_seq)`, r.configTable)
	_, err = tx.ExecContext(ctx, stmt,
		spec.Relation, spec.GroupColumn, spec.OrderColumn, deltaColumns,
		spec.KeyframeInterval, spec.CompressDepth, spec.UseSecondaryCompression, spec.AllowExplicitSeq)
	if err != nil {
		return fmt.Errorf("confreg: persisting config for %s: %w", spec.Relation, err)
	}

	r.mu.Lock()
	r.cache[spec.Relation] = schema
	r.mu.Unlock()
	return nil
}

// GetSchema returns relation's cached Schema, loading and validating it
// from the persistent store and the relation's live columns on a cache
// miss.
func (r *Registry) GetSchema(ctx context.Context, relation string) (tableaccess.Schema, error) {
	r.mu.RLock()
	schema, ok := r.cache[relation]
	r.mu.RUnlock()
	if ok {
		return schema, nil
	}

	spec, err := r.loadSpec(ctx, relation)
	if err != nil {
		return tableaccess.Schema{}, err
	}
	schema, err = r.buildSchema(ctx, r.db, spec)
	if err != nil {
		return tableaccess.Schema{}, err
	}

	r.mu.Lock()
	r.cache[relation] = schema
	r.mu.Unlock()
	return schema, nil
}

// Invalidate drops relation's cached Schema, forcing the next GetSchema
// call to reload it.
func (r *Registry) Invalidate(relation string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, relation)
}

// DropRelationHook removes relation's persisted configuration row and
// invalidates its cache entry. Called when a relation is dropped.
func (r *Registry) DropRelationHook(ctx context.Context, tx *sql.Tx, relation string) error {
	stmt := fmt.Sprintf("DELETE FROM `%s` WHERE relation = ?", r.configTable)
	if _, err := tx.ExecContext(ctx, stmt, relation); err != nil {
		return fmt.Errorf("confreg: removing config for %s: %w", relation, err)
	}
	r.Invalidate(relation)
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *Registry) loadSpec(ctx context.Context, relation string) (Spec, error) {
	stmt := fmt.Sprintf("SELECT group_column, order_column, delta_columns, keyframe_interval, compress_depth, use_secondary_compression, allow_explicit_seq FROM `%s` WHERE relation = ?", r.configTable)
	var deltaColumns string
	spec := Spec{Relation: relation}
	err := r.db.QueryRowContext(ctx, stmt, relation).Scan(
		&spec.GroupColumn, &spec.OrderColumn, &deltaColumns,
		&spec.KeyframeInterval, &spec.CompressDepth, &spec.UseSecondaryCompression, &spec.AllowExplicitSeq)
	if err != nil {
		if err == sql.ErrNoRows {
			return Spec{}, fmt.Errorf("confreg: relation %s has no configuration", relation)
		}
		return Spec{}, fmt.Errorf("confreg: loading config for %s: %w", relation, err)
	}
	spec.DeltaColumns = strings.Split(deltaColumns, ",")
	return spec, nil
}

// buildSchema validates spec against relation's live CREATE TABLE and
// assembles the tableaccess.Schema the storage layer needs.
func (r *Registry) buildSchema(ctx context.Context, q querier, spec Spec) (tableaccess.Schema, error) {
	var createSQL string
	row := q.QueryRowContext(ctx, fmt.Sprintf("SHOW CREATE TABLE `%s`", spec.Relation))
	var ignoredName string
	if err := row.Scan(&ignoredName, &createSQL); err != nil {
		return tableaccess.Schema{}, fmt.Errorf("confreg: reading schema of %s: %w", spec.Relation, err)
	}

	ct, err := statement.ParseCreateTable(createSQL)
	if err != nil {
		return tableaccess.Schema{}, fmt.Errorf("confreg: parsing schema of %s: %w", spec.Relation, err)
	}
	parsedCols := ct.GetColumns()

	deltaSet := make(map[string]bool, len(spec.DeltaColumns))
	for _, name := range spec.DeltaColumns {
		deltaSet[name] = true
	}

	groupCol := parsedCols.ByName(spec.GroupColumn)
	if groupCol == nil {
		return tableaccess.Schema{}, fmt.Errorf("confreg: group column %s does not exist on %s", spec.GroupColumn, spec.Relation)
	}
	orderCol := parsedCols.ByName(spec.OrderColumn)
	if orderCol == nil {
		return tableaccess.Schema{}, fmt.Errorf("confreg: order column %s does not exist on %s", spec.OrderColumn, spec.Relation)
	}
	orderType := columnTypeFromSQL(orderCol.Type, orderCol.Collation)
	if !orderType.IsOrderable() {
		return tableaccess.Schema{}, fmt.Errorf("confreg: order column %s of %s must be an integer or timestamp type, got %s", spec.OrderColumn, spec.Relation, orderCol.Type)
	}

	columnDefs := make([]tableaccess.ColumnDef, 0, len(parsedCols))
	seenDelta := make(map[string]bool, len(spec.DeltaColumns))
	for _, col := range parsedCols {
		isDelta := deltaSet[col.Name]
		if isDelta {
			if col.Nullable {
				return tableaccess.Schema{}, fmt.Errorf("confreg: delta column %s of %s must be NOT NULL", col.Name, spec.Relation)
			}
			seenDelta[col.Name] = true
		}
		columnDefs = append(columnDefs, tableaccess.ColumnDef{
			Name:    col.Name,
			SQLType: col.Type,
			IsDelta: isDelta,
		})
	}
	for _, name := range spec.DeltaColumns {
		if !seenDelta[name] {
			return tableaccess.Schema{}, fmt.Errorf("confreg: delta column %s does not exist on %s", name, spec.Relation)
		}
	}

	cfg := storage.RelationConfig{
		Relation:                spec.Relation,
		DeltaColumns:            spec.DeltaColumns,
		KeyframeInterval:        spec.KeyframeInterval,
		CompressDepth:           spec.CompressDepth,
		UseSecondaryCompression: spec.UseSecondaryCompression,
		AllowExplicitSeq:        spec.AllowExplicitSeq,
	}
	groupColumnType := columnTypeFromSQL(groupCol.Type, groupCol.Collation)
	return tableaccess.NewSchema(cfg, spec.GroupColumn, groupColumnType, columnDefs)
}
