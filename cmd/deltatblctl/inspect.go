package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/block/deltatbl/pkg/storage"
)

// InspectCmd prints the per-row diagnostic spec §6 describes: seq, tag,
// is_keyframe, delta_size, column, one line per (row, delta column) pair.
type InspectCmd struct {
	Common

	Relation   string `arg:"" help:"Relation name."`
	GroupValue string `optional:"" help:"Restrict to one group, by its raw group-column value (hex of GET_LOCK fingerprint not required — pass the literal SQL value)."`
}

func (c *InspectCmd) Run() error {
	db, err := c.open()
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := context.Background()

	schema, err := c.registry(db).GetSchema(ctx, c.Relation)
	if err != nil {
		return err
	}

	deltaCols := make([]string, 0, len(schema.DeltaColumns))
	for _, name := range schema.DeltaColumns {
		deltaCols = append(deltaCols, fmt.Sprintf("`%s`", name))
	}
	q := fmt.Sprintf("SELECT `__seq`, %s FROM `%s`", strings.Join(deltaCols, ", "), c.Relation)
	var args []any
	if c.GroupValue != "" {
		q += fmt.Sprintf(" WHERE `%s` = ?", schema.GroupColumn)
		args = append(args, c.GroupValue)
	}
	q += " ORDER BY `__seq`"

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	fmt.Printf("%-10s %-20s %6s %10s %10s\n", "seq", "column", "tag", "keyframe", "size")
	for rows.Next() {
		var seq uint64
		cells := make([][]byte, len(deltaCols))
		dest := make([]any, 0, len(deltaCols)+1)
		dest = append(dest, &seq)
		for i := range cells {
			dest = append(dest, &cells[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		for i, cell := range cells {
			tag, _, bytes, err := storage.DecodeCell(cell)
			if err != nil {
				return err
			}
			fmt.Printf("%-10d %-20s %6d %10v %10d\n", seq, schema.DeltaColumns[i], tag, tag == 0, len(bytes))
		}
	}
	return rows.Err()
}

// PhysicalCmd dumps raw delta records for a relation, or one group if
// GroupValue is set (spec §6 "physical"), hex-encoding cell payloads
// rather than attempting to reconstruct them.
type PhysicalCmd struct {
	Common

	Relation   string `arg:"" help:"Relation name."`
	GroupValue string `optional:"" help:"Restrict to one group, by its raw group-column value."`
	FromSeq    uint64 `optional:"" help:"Only rows with seq >= this value."`
}

func (c *PhysicalCmd) Run() error {
	db, err := c.open()
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := context.Background()

	schema, err := c.registry(db).GetSchema(ctx, c.Relation)
	if err != nil {
		return err
	}

	deltaCols := make([]string, 0, len(schema.DeltaColumns))
	for _, name := range schema.DeltaColumns {
		deltaCols = append(deltaCols, fmt.Sprintf("`%s`", name))
	}
	q := fmt.Sprintf("SELECT `__locator`, `__seq`, HEX(`__fp`), %s FROM `%s` WHERE `__seq` >= ?", strings.Join(deltaCols, ", "), c.Relation)
	args := []any{c.FromSeq}
	if c.GroupValue != "" {
		q += fmt.Sprintf(" AND `%s` = ?", schema.GroupColumn)
		args = append(args, c.GroupValue)
	}
	q += " ORDER BY `__fp`, `__seq`"

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var locator int64
		var seq uint64
		var fpHex string
		cells := make([][]byte, len(deltaCols))
		dest := make([]any, 0, len(deltaCols)+3)
		dest = append(dest, &locator, &seq, &fpHex)
		for i := range cells {
			dest = append(dest, &cells[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		fmt.Printf("locator=%d fp=%s seq=%d\n", locator, fpHex, seq)
		for i, cell := range cells {
			tag, deflated, bytes, err := storage.DecodeCell(cell)
			if err != nil {
				return err
			}
			fmt.Printf("  %s: tag=%d deflated=%v payload=%s\n", schema.DeltaColumns[i], tag, deflated, hex.EncodeToString(bytes))
		}
	}
	return rows.Err()
}
