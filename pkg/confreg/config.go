// Package confreg is the relation configuration registry (spec
// component J): a relation-keyed table of group/order/delta column
// choices and tuning knobs, persisted in an ordinary MySQL table and
// cached in memory per backend, validated against the relation's live
// schema via pkg/statement.
package confreg

import (
	"fmt"
	"strings"

	"github.com/block/deltatbl/pkg/coltype"
)

// DefaultConfigTable is the table name used when the caller doesn't
// supply one to NewRegistry.
const DefaultConfigTable = "deltatbl_config"

// Spec is what a user supplies to the configure administrative
// operation (spec §6).
type Spec struct {
	Relation                string
	GroupColumn             string
	OrderColumn             string
	DeltaColumns            []string
	KeyframeInterval        uint32
	CompressDepth           int
	UseSecondaryCompression bool
	AllowExplicitSeq        bool
}

func (s Spec) validateStatic() error {
	if s.Relation == "" {
		return fmt.Errorf("confreg: relation name is required")
	}
	if s.GroupColumn == "" {
		return fmt.Errorf("confreg: group_by column is required")
	}
	if s.OrderColumn == "" {
		return fmt.Errorf("confreg: order_by column is required")
	}
	if len(s.DeltaColumns) == 0 {
		return fmt.Errorf("confreg: at least one delta column is required")
	}
	if s.KeyframeInterval < 1 {
		return fmt.Errorf("confreg: keyframe_every must be >= 1")
	}
	if s.CompressDepth < 1 {
		return fmt.Errorf("confreg: compress_depth must be >= 1")
	}
	return nil
}

// columnTypeFromSQL maps a tidb-parser type string (e.g. "bigint(20)",
// "varchar(255)", "timestamp") to the coarse coltype.Kind the engine
// reasons about. Collation, when present, is threaded through for
// string columns since fingerprinting needs it to canonicalize
// case-insensitive collations (see pkg/fingerprint).
func columnTypeFromSQL(sqlType, collation string) coltype.ColumnType {
	t := strings.ToLower(sqlType)
	ct := coltype.ColumnType{Name: sqlType, Collation: collation}
	switch {
	case strings.Contains(t, "unsigned"):
		ct.Kind = coltype.KindUint
	case strings.Contains(t, "int"):
		ct.Kind = coltype.KindInt
	case strings.Contains(t, "float"), strings.Contains(t, "double"), strings.Contains(t, "decimal"):
		ct.Kind = coltype.KindFloat
	case strings.Contains(t, "timestamp"), strings.Contains(t, "datetime"), strings.Contains(t, "date"):
		ct.Kind = coltype.KindTime
	case strings.Contains(t, "blob"), strings.Contains(t, "binary"):
		ct.Kind = coltype.KindBytes
	case strings.Contains(t, "char"), strings.Contains(t, "text"), strings.Contains(t, "enum"), strings.Contains(t, "set"):
		ct.Kind = coltype.KindString
	default:
		ct.Kind = coltype.KindUnknown
	}
	return ct
}
