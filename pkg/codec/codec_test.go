package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	base := []byte("the quick brown fox jumps over the lazy dog and then runs back home across the wide green field")
	target := []byte("the quick brown fox jumps over the sleepy dog and then runs back home across the wide green field")

	res := Encode([]Base{{Tag: 1, Bytes: base}}, target, false)
	require.False(t, res.IsKeyframe(), "a small edit should produce a delta, not a keyframe")

	got, err := Decode(base, res.Tag, res.Bytes, res.Deflated)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestEncodeWithSecondaryCompressionRoundTrips(t *testing.T) {
	base := []byte(strings.Repeat("a", 500))
	target := []byte(strings.Repeat("a", 500))
	target[100], target[250], target[400] = 'b', 'b', 'b'

	res := Encode([]Base{{Tag: 1, Bytes: base}}, target, true)
	require.True(t, res.Deflated, "a long, highly repetitive patch should be worth deflating")
	got, err := Decode(base, res.Tag, res.Bytes, res.Deflated)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestEncodePicksSmallestAmongBases(t *testing.T) {
	target := []byte("version three of a fairly long document body that mostly stays the same")
	farBase := []byte("completely unrelated text that shares nothing")
	nearBase := []byte("version two of a fairly long document body that mostly stays the same")

	res := Encode([]Base{
		{Tag: 2, Bytes: farBase},
		{Tag: 1, Bytes: nearBase},
	}, target, false)
	assert.Equal(t, uint16(1), res.Tag, "the nearer, more similar base should win")
}

func TestEncodeFallsBackToKeyframeWhenNoBaseHelps(t *testing.T) {
	target := []byte("x")
	res := Encode(nil, target, false)
	assert.True(t, res.IsKeyframe())
	assert.Equal(t, target, res.Bytes)
}

func TestEncodeEmptyPayloadAfterNonEmpty(t *testing.T) {
	base := []byte("abc")
	target := []byte("")
	res := Encode([]Base{{Tag: 1, Bytes: base}}, target, false)
	require.False(t, res.IsKeyframe(), "an empty value must keep its base reference, not collapse to a keyframe")
	got, err := Decode(base, res.Tag, res.Bytes, res.Deflated)
	require.NoError(t, err)
	assert.Equal(t, []byte(""), got)
}

func TestEncodeEmptyPayloadAfterEmpty(t *testing.T) {
	base := []byte("")
	target := []byte("")
	res := Encode([]Base{{Tag: 1, Bytes: base}}, target, false)
	require.False(t, res.IsKeyframe(), "empty-after-empty must still chain to its base")
	got, err := Decode(base, res.Tag, res.Bytes, res.Deflated)
	require.NoError(t, err)
	assert.Equal(t, []byte(""), got)
}

func TestEncodeNoUsableBaseStillProducesReconstructableKeyframe(t *testing.T) {
	target := []byte("")
	res := Encode(nil, target, false)
	assert.True(t, res.IsKeyframe())
	got, err := Decode(nil, res.Tag, res.Bytes, res.Deflated)
	require.NoError(t, err)
	assert.Equal(t, []byte(""), got)
}

func TestDecodeRejectsMalformedPatchText(t *testing.T) {
	_, err := Decode([]byte("base"), 1, []byte("not a patch"), false)
	assert.Error(t, err)
}
