package storage

import "fmt"

// RelationConfig is the subset of a relation's configuration the storage
// layer needs to run the write/read/delete pipelines. It is defined here
// rather than in pkg/confreg so pkg/confreg can import pkg/storage
// without a cycle; pkg/confreg validates the user's configuration and
// produces one of these.
type RelationConfig struct {
	// Relation is the table name this config applies to.
	Relation string
	// DeltaColumns names the delta-compressed columns, in the same order
	// the caller will always pass their raw bytes to Insert/Reconstruct.
	DeltaColumns []string
	// KeyframeInterval (K) forces a keyframe every K rows within a group.
	KeyframeInterval uint32
	// CompressDepth (D) is both the insert-cache ring depth and the
	// maximum number of candidate bases offered to the codec.
	CompressDepth int
	// UseSecondaryCompression enables the codec's deflate pass.
	UseSecondaryCompression bool
	// AllowExplicitSeq permits a caller to supply __seq explicitly on
	// INSERT (for restore) through Engine.InsertAt, which checks the
	// supplied seq against the group's current max.
	AllowExplicitSeq bool
}

// IsKeyframeSeq reports whether seq lands on a mandatory keyframe
// boundary: a row with seq = n*K + 1 is always a keyframe.
func (c RelationConfig) IsKeyframeSeq(seq uint64) bool {
	if c.KeyframeInterval == 0 {
		return false
	}
	return (seq-1)%uint64(c.KeyframeInterval) == 0
}

func (c RelationConfig) validate(numColumns int) error {
	if c.Relation == "" {
		return fmt.Errorf("storage: relation name is empty")
	}
	if len(c.DeltaColumns) == 0 {
		return fmt.Errorf("storage: relation %s has no delta columns configured", c.Relation)
	}
	if numColumns != len(c.DeltaColumns) {
		return fmt.Errorf("storage: relation %s expects %d delta column values, got %d", c.Relation, len(c.DeltaColumns), numColumns)
	}
	if c.KeyframeInterval < 1 {
		return fmt.Errorf("storage: relation %s keyframe interval must be >= 1", c.Relation)
	}
	if c.CompressDepth < 1 {
		return fmt.Errorf("storage: relation %s compress depth must be >= 1", c.Relation)
	}
	return nil
}
