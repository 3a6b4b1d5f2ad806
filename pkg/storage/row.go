package storage

import (
	"encoding/binary"
	"fmt"
)

const flagDeflated = 1 << 0

// cellHeaderSize is tag:u16 ++ flags:u8 ++ len:u32.
const cellHeaderSize = 2 + 1 + 4

// EncodeCell packs one delta column's encode result into the physical
// wire format it is stored as: tag:u16 ++ flags:u8 ++ len:u32 ++
// bytes[len]. tag == 0 marks a keyframe, in which case bytes is the raw
// payload and flags is unused. This is distinct from pkg/codec.Result,
// which keeps the deflated bit out of band to preserve the empty-payload
// size comparison (see pkg/codec's package doc) — that comparison has
// already happened by the time a cell reaches storage, so folding the bit
// back into the wire format here costs nothing.
func EncodeCell(tag uint16, deflated bool, bytes []byte) []byte {
	var flags byte
	if deflated {
		flags |= flagDeflated
	}
	out := make([]byte, cellHeaderSize+len(bytes))
	binary.BigEndian.PutUint16(out[0:2], tag)
	out[2] = flags
	binary.BigEndian.PutUint32(out[3:7], uint32(len(bytes)))
	copy(out[7:], bytes)
	return out
}

// DecodeCell unpacks a physical delta-column cell. The returned bytes
// slice is freshly allocated and safe to retain past cell's lifetime.
func DecodeCell(cell []byte) (tag uint16, deflated bool, bytes []byte, err error) {
	if len(cell) < cellHeaderSize {
		return 0, false, nil, fmt.Errorf("storage: delta cell too short: %d bytes", len(cell))
	}
	tag = binary.BigEndian.Uint16(cell[0:2])
	deflated = cell[2]&flagDeflated != 0
	n := binary.BigEndian.Uint32(cell[3:7])
	if cellHeaderSize+int(n) > len(cell) {
		return 0, false, nil, fmt.Errorf("storage: delta cell length mismatch: declared %d, have %d", n, len(cell)-cellHeaderSize)
	}
	bytes = append([]byte(nil), cell[cellHeaderSize:cellHeaderSize+int(n)]...)
	return tag, deflated, bytes, nil
}
