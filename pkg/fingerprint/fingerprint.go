// Package fingerprint computes the canonical 16-byte hash of a group-key
// value and collation-aware equality between two typed values.
//
// The fingerprint is the cache and lock key used throughout the engine
// (content cache, insert cache, advisory locks). It must be stable across
// processes, which is why it operates on a canonical byte encoding
// (fixed-width numbers, case folding for `_ci` collations) rather than the
// raw driver bytes. Trailing spaces are part of a string's canonical
// bytes, so "a" and "a " get different fingerprints.
package fingerprint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/block/deltatbl/pkg/coltype"
	"golang.org/x/crypto/blake2b"
)

// Size is the fixed width of a fingerprint, in bytes.
const Size = 16

// Fingerprint is the 16-byte canonical hash of a group key value.
type Fingerprint [Size]byte

func (f Fingerprint) String() string {
	return fmt.Sprintf("%x", f[:])
}

// IsZero reports whether f is the zero fingerprint, used as the constant
// fingerprint of a relation with no configured group column (spec: "a
// single-group relation behaves as a group whose fingerprint is a
// constant").
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// Single is the constant fingerprint used for relations configured
// without a group column: the whole relation is one group.
var Single = Fingerprint{}

// CanonicalBytes produces the canonical byte encoding of d used both for
// fingerprinting and for equality comparisons. The caller must have
// already copied d.Value out of any driver- or page-owned buffer; this
// function never re-reads from a connection or shared buffer, so there is
// no dangling-pointer risk from the value's origin being released.
func CanonicalBytes(d coltype.Datum) ([]byte, error) {
	switch d.Type.Kind {
	case coltype.KindInt:
		v, err := coltype.AsInt64(d)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 8)
		// Bias so that ordering-by-bytes matches ordering-by-value; not
		// required for fingerprinting but kept for potential reuse as a
		// sortable key.
		binary.BigEndian.PutUint64(buf, uint64(v)^(1<<63))
		return buf, nil
	case coltype.KindUint:
		v, ok := toUint64(d.Value)
		if !ok {
			return nil, fmt.Errorf("value of type %T is not unsigned", d.Value)
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, v)
		return buf, nil
	case coltype.KindFloat:
		v, ok := toFloat64(d.Value)
		if !ok {
			return nil, fmt.Errorf("value of type %T is not a float", d.Value)
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(v))
		return buf, nil
	case coltype.KindString:
		s, ok := d.Value.(string)
		if !ok {
			return nil, fmt.Errorf("value of type %T is not a string", d.Value)
		}
		return []byte(canonicalizeString(s, d.Type.Collation)), nil
	case coltype.KindBytes:
		b, ok := d.Value.([]byte)
		if !ok {
			return nil, fmt.Errorf("value of type %T is not bytes", d.Value)
		}
		// Copy out: the caller may still own the backing array of a
		// []byte returned by sql.RawBytes-style scanning.
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	case coltype.KindTime:
		t, err := coltype.AsTime(d)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(t.UTC().UnixNano()))
		return buf, nil
	default:
		return nil, fmt.Errorf("unsupported column kind %s", d.Type.Kind)
	}
}

// canonicalizeString applies the collation's case/accent folding. Only the
// `_ci` (case-insensitive) suffix convention used by MySQL collations is
// honored; anything else is treated as case-sensitive (`_bin`/`_cs`).
func canonicalizeString(s, collation string) string {
	if strings.HasSuffix(strings.ToLower(collation), "_ci") {
		return strings.ToLower(s)
	}
	return s
}

// Compute returns the 16-byte fingerprint of d.
func Compute(d coltype.Datum) (Fingerprint, error) {
	raw, err := CanonicalBytes(d)
	if err != nil {
		return Fingerprint{}, err
	}
	h, err := blake2b.New(Size, nil)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("could not initialize fingerprint hash: %w", err)
	}
	h.Write(raw)
	var out Fingerprint
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Equal reports whether a and b are the same logical value under typ's
// collation.
func Equal(a, b coltype.Datum) (bool, error) {
	ab, err := CanonicalBytes(a)
	if err != nil {
		return false, err
	}
	bb, err := CanonicalBytes(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ab, bb), nil
}

func toUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case uint32:
		return uint64(x), true
	case uint:
		return uint64(x), true
	case int64:
		if x < 0 {
			return 0, false
		}
		return uint64(x), true
	default:
		return 0, false
	}
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	default:
		return 0, false
	}
}
