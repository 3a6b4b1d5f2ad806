package tableaccess

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/block/deltatbl/pkg/fingerprint"
)

// Tuple is one logical row as returned to the host: the hidden locator
// and seq the engine assigned, plus every user column's value in
// schema.UserColumns order — delta columns already reconstructed to
// their logical value, never the raw wire cell.
type Tuple struct {
	Locator int64
	Seq     uint64
	Values  [][]byte
}

// FetchTuple reads one physical row by locator and reconstructs any delta
// columns before returning it.
func (a *Adapter) FetchTuple(ctx context.Context, tx *sql.Tx, schema Schema, locator int64) (*Tuple, error) {
	cols := make([]string, 0, len(schema.UserColumns))
	for _, c := range schema.UserColumns {
		cols = append(cols, fmt.Sprintf("`%s`", c.Name))
	}
	q := fmt.Sprintf("SELECT `__seq`, `__fp`, %s FROM `%s` WHERE `__locator` = ?", strings.Join(cols, ", "), schema.Relation)

	dest := make([]any, 0, len(schema.UserColumns)+2)
	var seq uint64
	var fpBytes []byte
	dest = append(dest, &seq, &fpBytes)
	raw := make([][]byte, len(schema.UserColumns))
	for i := range raw {
		dest = append(dest, &raw[i])
	}
	if err := tx.QueryRowContext(ctx, q, locator).Scan(dest...); err != nil {
		return nil, fmt.Errorf("tableaccess: fetching %s locator %d: %w", schema.Relation, locator, err)
	}
	var fp fingerprint.Fingerprint
	copy(fp[:], fpBytes)

	deps := a.deps(tx, schema)
	values := make([][]byte, len(schema.UserColumns))
	deltaIdx := 0
	for i, c := range schema.UserColumns {
		if !c.IsDelta {
			values[i] = raw[i]
			continue
		}
		v, err := a.engine.Reconstruct(ctx, schema.RelationConfig, fp, seq, deltaIdx, raw[i], deps)
		if err != nil {
			return nil, fmt.Errorf("tableaccess: reconstructing %s.%s at seq %d: %w", schema.Relation, c.Name, seq, err)
		}
		values[i] = v
		deltaIdx++
	}

	return &Tuple{Locator: locator, Seq: seq, Values: values}, nil
}

// InsertTuple writes one logical row: non-delta columns as-is, delta
// columns through the storage engine's encode pipeline. values must be
// aligned with schema.UserColumns. fp must already be a value the caller
// copied out of any page buffer before calling (see pkg/fingerprint).
func (a *Adapter) InsertTuple(ctx context.Context, tx *sql.Tx, schema Schema, fp fingerprint.Fingerprint, values [][]byte) (*Tuple, error) {
	return a.insertTuple(ctx, tx, schema, fp, 0, values)
}

// InsertTupleAt is InsertTuple with a caller-supplied seq, for restoring a
// row at the sequence number it originally held. It errors unless
// schema.AllowExplicitSeq is set and explicitSeq is strictly greater than
// the group's current max seq.
func (a *Adapter) InsertTupleAt(ctx context.Context, tx *sql.Tx, schema Schema, fp fingerprint.Fingerprint, explicitSeq uint64, values [][]byte) (*Tuple, error) {
	if explicitSeq == 0 {
		return nil, fmt.Errorf("tableaccess: explicit seq for relation %s must be >= 1", schema.Relation)
	}
	return a.insertTuple(ctx, tx, schema, fp, explicitSeq, values)
}

func (a *Adapter) insertTuple(ctx context.Context, tx *sql.Tx, schema Schema, fp fingerprint.Fingerprint, explicitSeq uint64, values [][]byte) (*Tuple, error) {
	if len(values) != len(schema.UserColumns) {
		return nil, fmt.Errorf("tableaccess: relation %s expects %d column values, got %d", schema.Relation, len(schema.UserColumns), len(values))
	}

	deltaValues := make([][]byte, 0, len(schema.DeltaColumns))
	for i, c := range schema.UserColumns {
		if c.IsDelta {
			deltaValues = append(deltaValues, values[i])
		}
	}

	var locator int64
	write := func(ctx context.Context, seq uint64, fp fingerprint.Fingerprint, cells [][]byte) (int64, error) {
		cols := make([]string, 0, len(schema.UserColumns)+2)
		placeholders := make([]string, 0, len(schema.UserColumns)+2)
		args := make([]any, 0, len(schema.UserColumns)+2)
		cols = append(cols, "`__seq`", "`__fp`")
		placeholders = append(placeholders, "?", "?")
		args = append(args, seq, fp[:])

		deltaIdx := 0
		for i, c := range schema.UserColumns {
			cols = append(cols, fmt.Sprintf("`%s`", c.Name))
			placeholders = append(placeholders, "?")
			if c.IsDelta {
				args = append(args, cells[deltaIdx])
				deltaIdx++
			} else {
				args = append(args, values[i])
			}
		}

		stmt := fmt.Sprintf("INSERT INTO `%s` (%s) VALUES (%s)", schema.Relation, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
		res, err := tx.ExecContext(ctx, stmt, args...)
		if err != nil {
			return 0, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		locator = id
		return id, nil
	}

	var seq uint64
	var err error
	if explicitSeq == 0 {
		seq, err = a.engine.Insert(ctx, schema.RelationConfig, fp, deltaValues, a.deps(tx, schema), write)
	} else {
		seq, err = a.engine.InsertAt(ctx, schema.RelationConfig, fp, explicitSeq, deltaValues, a.deps(tx, schema), write)
	}
	if err != nil {
		return nil, err
	}
	return &Tuple{Locator: locator, Seq: seq, Values: values}, nil
}

// DeleteTuple cascades: every row of the group with seq >= fromSeq is
// removed in one statement within tx, and every cache entry that might
// reference one of the removed rows is invalidated.
func (a *Adapter) DeleteTuple(ctx context.Context, tx *sql.Tx, schema Schema, fp fingerprint.Fingerprint, fromSeq uint64) (int64, error) {
	del := func(ctx context.Context, relation string, fp fingerprint.Fingerprint, fromSeq uint64) (int64, error) {
		q := fmt.Sprintf("DELETE FROM `%s` WHERE `__fp` = ? AND `__seq` >= ?", relation)
		res, err := tx.ExecContext(ctx, q, fp[:], fromSeq)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}
	return a.engine.Delete(ctx, schema.RelationConfig, fp, fromSeq, del)
}

// UpdateTuple always errors: versioned rows are immutable once written.
func (a *Adapter) UpdateTuple(ctx context.Context, tx *sql.Tx, schema Schema, locator int64, values [][]byte) error {
	return ErrUpdateNotSupported
}
