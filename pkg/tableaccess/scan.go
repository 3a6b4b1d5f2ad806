package tableaccess

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/block/deltatbl/pkg/fingerprint"
	"github.com/block/deltatbl/pkg/storage"
)

// Scan is a sequential scan over schema's physical table, reconstructing
// delta columns row by row. It runs entirely on the caller's *sql.Tx, so
// MySQL's own isolation level decides which physical rows it sees —
// including treating the scanning transaction's own uncommitted inserts
// and deletes exactly as MySQL's isolation level dictates, with no
// separate visibility logic layered on top here.
type Scan struct {
	rows   *sql.Rows
	schema Schema
	deps   storage.Deps
	engine *storage.Engine
	ctx    context.Context
}

// BeginScan opens a sequential scan over schema's relation. Parallel scan
// (spec §6's "begin/continue/end scan (sequential and parallel)") is
// built by having multiple backends each call BeginScan with a
// caller-supplied WHERE clause fragment restricting it to a chunk of
// `__locator`, handed out by pkg/scanner; this method only opens the
// underlying cursor for one such chunk (or the whole table when
// whereFragment is empty).
func (a *Adapter) BeginScan(ctx context.Context, tx *sql.Tx, schema Schema, whereFragment string) (*Scan, error) {
	cols := make([]string, 0, len(schema.UserColumns))
	for _, c := range schema.UserColumns {
		cols = append(cols, fmt.Sprintf("`%s`", c.Name))
	}
	q := fmt.Sprintf("SELECT `__locator`, `__seq`, `__fp`, %s FROM `%s`", strings.Join(cols, ", "), schema.Relation)
	if whereFragment != "" {
		q += " WHERE " + whereFragment
	}
	q += " ORDER BY `__locator`"

	rows, err := tx.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("tableaccess: beginning scan of %s: %w", schema.Relation, err)
	}
	return &Scan{rows: rows, schema: schema, deps: a.deps(tx, schema), engine: a.engine, ctx: ctx}, nil
}

// Next advances the scan and returns the next reconstructed tuple, or
// ok == false once the scan is exhausted.
func (s *Scan) Next() (tuple *Tuple, ok bool, err error) {
	if err := s.ctx.Err(); err != nil {
		return nil, false, err
	}
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	var locator int64
	var seq uint64
	var fpBytes []byte
	dest := make([]any, 0, len(s.schema.UserColumns)+3)
	dest = append(dest, &locator, &seq, &fpBytes)
	raw := make([][]byte, len(s.schema.UserColumns))
	for i := range raw {
		dest = append(dest, &raw[i])
	}
	if err := s.rows.Scan(dest...); err != nil {
		return nil, false, err
	}
	var fp fingerprint.Fingerprint
	copy(fp[:], fpBytes)

	values := make([][]byte, len(s.schema.UserColumns))
	deltaIdx := 0
	for i, c := range s.schema.UserColumns {
		if !c.IsDelta {
			values[i] = raw[i]
			continue
		}
		v, err := s.engine.Reconstruct(s.ctx, s.schema.RelationConfig, fp, seq, deltaIdx, raw[i], s.deps)
		if err != nil {
			return nil, false, fmt.Errorf("tableaccess: reconstructing %s.%s at seq %d: %w", s.schema.Relation, c.Name, seq, err)
		}
		values[i] = v
		deltaIdx++
	}

	return &Tuple{Locator: locator, Seq: seq, Values: values}, true, nil
}

// EndScan releases the scan's cursor. Safe to call once, always, even
// after Next has already reported exhaustion.
func (s *Scan) EndScan() error {
	return s.rows.Close()
}
