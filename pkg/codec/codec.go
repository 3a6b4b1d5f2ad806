// Package codec is a thin, fallible wrapper around a byte-oriented patch
// library. It never fails the caller: when every candidate base is
// unusable, or the codec can't find an encoding smaller than the raw
// payload, it degrades to a keyframe. Codec-internal errors on a specific
// base are treated as "skip that base", never surfaced.
package codec

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Base is a candidate base row offered to Encode, already ordered by the
// caller from nearest to farthest in sequence space.
type Base struct {
	// Tag is the distance in sequence space from the row being encoded to
	// this base (new_seq - base_seq). Always > 0.
	Tag   uint16
	Bytes []byte
}

// Result is the outcome of an encode: either a delta against some base
// (Tag > 0) or a keyframe (Tag == 0, Bytes is the raw payload). Deflated
// records whether secondary compression was applied to Bytes; the storage
// layer is responsible for persisting that bit alongside the record (it
// does not fit in the patch text itself without adding framing overhead
// that would defeat comparisons against the raw payload size).
type Result struct {
	Tag      uint16
	Bytes    []byte
	Deflated bool
}

// IsKeyframe reports whether r is a full-payload keyframe.
func (r Result) IsKeyframe() bool { return r.Tag == 0 }

const secondaryLimit = 64 // below this size, secondary compression never pays for its own framing

var dmp = diffmatchpatch.New()

// Encode picks the base (of up to len(bases), which the caller has already
// limited to the relation's compression depth D) that produces the
// smallest delta, optionally deflating the patch text with secondary
// compression. If no base yields something smaller than target itself, or
// every base is unusable, a keyframe is returned.
//
// An empty target is the one deliberate exception to "smaller wins": an
// empty value can always be represented as a (essentially free) delta
// against any usable base, so the chain linkage is preserved instead of
// forcing a keyframe merely because the raw payload also happens to be
// free. This matches the boundary requirement that inserting an empty
// value — whether after a non-empty or another empty value — must never
// be silently collapsed into losing its base reference.
func Encode(bases []Base, target []byte, useSecondaryCompression bool) Result {
	var best *Result
	for _, b := range bases {
		delta, deflated, ok := buildPatch(b.Bytes, target, useSecondaryCompression)
		if !ok {
			continue // codec-internal failure on this base: skip it
		}
		candidate := Result{Tag: b.Tag, Bytes: delta, Deflated: deflated}
		if best == nil ||
			len(candidate.Bytes) < len(best.Bytes) ||
			(len(candidate.Bytes) == len(best.Bytes) && candidate.Tag < best.Tag) {
			best = &candidate
		}
	}
	if best == nil {
		return Result{Tag: 0, Bytes: append([]byte(nil), target...)}
	}
	if len(target) == 0 {
		return *best
	}
	if len(best.Bytes) >= len(target) {
		return Result{Tag: 0, Bytes: append([]byte(nil), target...)}
	}
	return *best
}

// Decode reconstructs the target bytes from a base and a delta record.
// tag == 0 means delta is itself the raw keyframe payload and deflated is
// ignored.
func Decode(base []byte, tag uint16, delta []byte, deflated bool) ([]byte, error) {
	if tag == 0 {
		return append([]byte(nil), delta...), nil
	}
	body := delta
	if deflated {
		inflated, err := inflate(body)
		if err != nil {
			return nil, fmt.Errorf("codec: could not inflate delta: %w", err)
		}
		body = inflated
	}
	patches, err := dmp.PatchFromText(string(body))
	if err != nil {
		return nil, fmt.Errorf("codec: malformed patch: %w", err)
	}
	result, applied := dmp.PatchApply(patches, string(base))
	for _, ok := range applied {
		if !ok {
			return nil, fmt.Errorf("codec: patch did not apply cleanly against base")
		}
	}
	return []byte(result), nil
}

// buildPatch produces the delta body for base -> target, or ok=false if
// the codec could not usefully encode this base (guarded against a panic
// from the underlying diff library on pathological input, so a single bad
// base can't fail the whole insert).
func buildPatch(base, target []byte, useSecondaryCompression bool) (out []byte, deflated bool, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	diffs := dmp.DiffMain(string(base), string(target), false)
	patches := dmp.PatchMake(string(base), diffs)
	text := []byte(dmp.PatchToText(patches))

	if useSecondaryCompression && len(text) > secondaryLimit {
		if deflatedText, err := deflateBytes(text); err == nil && len(deflatedText) < len(text) {
			return deflatedText, true, true
		}
	}
	return text, false, true
}

func deflateBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(b []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(b))
	defer r.Close()
	return io.ReadAll(r)
}
