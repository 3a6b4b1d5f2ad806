// Package coltype describes the small set of typed column values the
// engine needs to reason about: group keys, order columns, and delta
// column payloads.
package coltype

import (
	"fmt"
	"time"
)

// Kind is the logical type of a column value, independent of the exact
// MySQL type name (INT vs BIGINT vs MEDIUMINT are all KindInt).
type Kind int

const (
	KindUnknown Kind = iota
	KindInt
	KindUint
	KindFloat
	KindString
	KindBytes
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// ColumnType is the type information needed to canonicalize and order a
// column's values. Collation only matters for KindString.
type ColumnType struct {
	Kind      Kind
	Name      string // e.g. "bigint", "varchar(255)", "timestamp"
	Collation string
}

// IsOrderable reports whether values of this type can serve as an order
// column (spec: "the order column must be an integer or timestamp type").
func (t ColumnType) IsOrderable() bool {
	return t.Kind == KindInt || t.Kind == KindUint || t.Kind == KindTime
}

// Datum pairs a Go value with the type information needed to
// canonicalize it. The Value must already be owned by the caller (copied
// out of any driver-owned buffer) — Datum never re-reads from a page or
// connection buffer.
type Datum struct {
	Value any
	Type  ColumnType
}

func NewDatum(value any, t ColumnType) Datum {
	return Datum{Value: value, Type: t}
}

// AsInt64 extracts an integer value, accepting any of the concrete integer
// kinds MySQL drivers hand back from a Scan.
func AsInt64(d Datum) (int64, error) {
	switch v := d.Value.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint64:
		if v > 1<<63-1 {
			return 0, fmt.Errorf("uint64 value %d overflows int64", v)
		}
		return int64(v), nil
	default:
		return 0, fmt.Errorf("value of type %T is not an integer", d.Value)
	}
}

// AsTime extracts a time.Time value.
func AsTime(d Datum) (time.Time, error) {
	t, ok := d.Value.(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("value of type %T is not a time", d.Value)
	}
	return t, nil
}
