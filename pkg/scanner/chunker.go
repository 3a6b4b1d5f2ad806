// Package scanner drives whole-relation walks — refresh_stats, warm_cache,
// vacuum — by splitting a relation's `__locator` range into chunks and
// fanning them out across a bounded pool of concurrent pkg/tableaccess
// scans (spec §6's "begin/continue/end scan (sequential and parallel)").
package scanner

import (
	"strconv"
	"time"
)

// Dynamic chunk sizing constants, carried over from the teacher's
// row-count-based chunker: a chunk's size is retargeted after every
// Feedback call so that a chunk takes roughly Target wall-clock time,
// growing at most MaxDynamicStepFactor per step and immediately cut back
// hard (DynamicPanicFactor) if a chunk ran far over target.
const (
	StartingChunkSize    = 1000
	MinDynamicRowSize    = 10
	MaxDynamicRowSize    = 100_000
	MaxDynamicStepFactor = 1.5
	DynamicPanicFactor   = 5
	DefaultTarget        = 100 * time.Millisecond
)

// Chunk is one [Lower, Upper] range of `__locator` values. Both ends are
// inclusive; the final chunk of a relation has Upper == boundary and
// Last == true.
type Chunk struct {
	Lower int64
	Upper int64
	Last  bool
}

// Chunker hands out Chunks covering [lowerBound, upperBound] and retargets
// its chunk size from Feedback, the same dynamic-sizing feedback loop the
// teacher runs over row counts, adapted here to `__locator` spans since
// this relation's locator is a dense auto-increment surrogate key rather
// than the user's own primary key.
type Chunker struct {
	target    time.Duration
	chunkSize int64
	next      int64
	upper     int64
	done      bool
}

// NewChunker builds a Chunker over the inclusive locator range
// [lowerBound, upperBound]. If target is 0, DefaultTarget is used.
func NewChunker(lowerBound, upperBound int64, target time.Duration) *Chunker {
	if target <= 0 {
		target = DefaultTarget
	}
	done := lowerBound > upperBound
	return &Chunker{
		target:    target,
		chunkSize: StartingChunkSize,
		next:      lowerBound,
		upper:     upperBound,
		done:      done,
	}
}

// Next returns the next Chunk, or ok == false once every locator in range
// has been handed out.
func (c *Chunker) Next() (chunk Chunk, ok bool) {
	if c.done {
		return Chunk{}, false
	}
	lower := c.next
	upper := lower + c.chunkSize - 1
	last := upper >= c.upper
	if last {
		upper = c.upper
		c.done = true
	} else {
		c.next = upper + 1
	}
	return Chunk{Lower: lower, Upper: upper, Last: last}, true
}

// Feedback retargets the chunk size for the next call to Next, using
// actualRows (rows the chunk actually matched, which may be far fewer
// than its locator span if many rows were deleted) and how long the
// chunk took relative to the target duration.
func (c *Chunker) Feedback(actualRows int64, duration time.Duration) {
	if actualRows <= 0 || duration <= 0 {
		return
	}
	ratio := float64(c.target) / float64(duration)
	if ratio > MaxDynamicStepFactor {
		ratio = MaxDynamicStepFactor
	}
	if duration > c.target*time.Duration(DynamicPanicFactor) {
		ratio = 1 / float64(DynamicPanicFactor)
	}
	newSize := int64(float64(actualRows) * ratio)
	if newSize < MinDynamicRowSize {
		newSize = MinDynamicRowSize
	}
	if newSize > MaxDynamicRowSize {
		newSize = MaxDynamicRowSize
	}
	c.chunkSize = newSize
}

// WhereFragment renders chunk as the raw SQL fragment
// pkg/tableaccess.BeginScan expects for its whereFragment parameter.
func (chunk Chunk) WhereFragment() string {
	return sqlBetween("__locator", chunk.Lower, chunk.Upper)
}

func sqlBetween(column string, lower, upper int64) string {
	return "`" + column + "` BETWEEN " + strconv.FormatInt(lower, 10) + " AND " + strconv.FormatInt(upper, 10)
}
