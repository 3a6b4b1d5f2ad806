package fingerprint

import (
	"testing"

	"github.com/block/deltatbl/pkg/coltype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStable(t *testing.T) {
	d := coltype.NewDatum(int64(42), coltype.ColumnType{Kind: coltype.KindInt})
	a, err := Compute(d)
	require.NoError(t, err)
	b, err := Compute(d)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.False(t, a.IsZero())
}

func TestComputeDistinguishesValues(t *testing.T) {
	a, err := Compute(coltype.NewDatum(int64(1), coltype.ColumnType{Kind: coltype.KindInt}))
	require.NoError(t, err)
	b, err := Compute(coltype.NewDatum(int64(2), coltype.ColumnType{Kind: coltype.KindInt}))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEqualCaseInsensitiveCollation(t *testing.T) {
	typ := coltype.ColumnType{Kind: coltype.KindString, Collation: "utf8mb4_general_ci"}
	ok, err := Equal(coltype.NewDatum("Group1", typ), coltype.NewDatum("GROUP1", typ))
	require.NoError(t, err)
	assert.True(t, ok)

	binTyp := coltype.ColumnType{Kind: coltype.KindString, Collation: "utf8mb4_bin"}
	ok, err = Equal(coltype.NewDatum("Group1", binTyp), coltype.NewDatum("GROUP1", binTyp))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanonicalBytesCopiesByteSlices(t *testing.T) {
	backing := []byte{1, 2, 3}
	d := coltype.NewDatum(backing, coltype.ColumnType{Kind: coltype.KindBytes})
	out, err := CanonicalBytes(d)
	require.NoError(t, err)
	backing[0] = 0xFF // mutate the original "page buffer"
	assert.Equal(t, byte(1), out[0], "canonical bytes must be a copy, not an alias")
}

func TestSingleGroupFingerprintIsConstant(t *testing.T) {
	assert.Equal(t, Single, Fingerprint{})
	assert.True(t, Single.IsZero())
}

func TestComputeRejectsUnsupportedKind(t *testing.T) {
	_, err := Compute(coltype.NewDatum(nil, coltype.ColumnType{Kind: coltype.KindUnknown}))
	assert.Error(t, err)
}
