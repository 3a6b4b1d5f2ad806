package contentcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/block/deltatbl/pkg/fingerprint"
)

func TestProbeMissThenInsertThenHit(t *testing.T) {
	c, err := New(1, 16, 1024)
	require.NoError(t, err)
	key := Key{Relation: "t", FP: fingerprint.Fingerprint{1}, Seq: 1, ColIdx: 0}

	_, ok := c.Probe(key)
	assert.False(t, ok)

	c.Insert(key, []byte("payload"))
	got, ok := c.Probe(key)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)

	stats := c.StatsSnapshot()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestInsertRejectsOversizedPayloadAsSkip(t *testing.T) {
	c, err := New(1, 16, 4)
	require.NoError(t, err)
	key := Key{Relation: "t", FP: fingerprint.Fingerprint{2}, Seq: 1, ColIdx: 0}

	c.Insert(key, []byte("this is too long"))
	_, ok := c.Probe(key)
	assert.False(t, ok)

	stats := c.StatsSnapshot()
	assert.Equal(t, uint64(1), stats.Skips)
}

func TestProbeReturnsCopyNotAlias(t *testing.T) {
	c, err := New(1, 16, 1024)
	require.NoError(t, err)
	key := Key{Relation: "t", FP: fingerprint.Fingerprint{3}, Seq: 1, ColIdx: 0}

	payload := []byte("abc")
	c.Insert(key, payload)
	payload[0] = 'z'

	got, ok := c.Probe(key)
	require.True(t, ok)
	assert.Equal(t, byte('a'), got[0])

	got[0] = 'x'
	got2, _ := c.Probe(key)
	assert.Equal(t, byte('a'), got2[0])
}

func TestInvalidateDropsEntriesAtOrAfterSeq(t *testing.T) {
	c, err := New(4, 64, 1024)
	require.NoError(t, err)
	fp := fingerprint.Fingerprint{4}

	for seq := uint64(1); seq <= 5; seq++ {
		c.Insert(Key{Relation: "t", FP: fp, Seq: seq, ColIdx: 0}, []byte{byte(seq)})
	}

	c.Invalidate("t", fp, 3)

	for seq := uint64(1); seq <= 2; seq++ {
		_, ok := c.Probe(Key{Relation: "t", FP: fp, Seq: seq, ColIdx: 0})
		assert.True(t, ok, "seq %d below the cutoff must survive", seq)
	}
	for seq := uint64(3); seq <= 5; seq++ {
		_, ok := c.Probe(Key{Relation: "t", FP: fp, Seq: seq, ColIdx: 0})
		assert.False(t, ok, "seq %d at or above the cutoff must be dropped", seq)
	}
}

func TestInvalidateRelationDropsOnlyThatRelation(t *testing.T) {
	c, err := New(4, 64, 1024)
	require.NoError(t, err)
	fp := fingerprint.Fingerprint{5}
	c.Insert(Key{Relation: "a", FP: fp, Seq: 1, ColIdx: 0}, []byte("x"))
	c.Insert(Key{Relation: "b", FP: fp, Seq: 1, ColIdx: 0}, []byte("y"))

	c.InvalidateRelation("a")

	_, ok := c.Probe(Key{Relation: "a", FP: fp, Seq: 1, ColIdx: 0})
	assert.False(t, ok)
	_, ok = c.Probe(Key{Relation: "b", FP: fp, Seq: 1, ColIdx: 0})
	assert.True(t, ok)
}

func TestEvictionUnderCapacityIsCounted(t *testing.T) {
	c, err := New(1, 2, 1024)
	require.NoError(t, err)
	fp := fingerprint.Fingerprint{6}

	for seq := uint64(1); seq <= 5; seq++ {
		c.Insert(Key{Relation: "t", FP: fp, Seq: seq, ColIdx: 0}, []byte{byte(seq)})
	}

	stats := c.StatsSnapshot()
	assert.Greater(t, stats.Evictions, uint64(0))
	assert.LessOrEqual(t, stats.Entries, 2)
}
