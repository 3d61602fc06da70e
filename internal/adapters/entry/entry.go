// Package entry holds what the partition adapters share: the value encoding,
// the entry cost of a value, and the set of writes staged on a handle.
package entry

import (
	"encoding/binary"
	"errors"

	"github.com/bft-labs/nvsq/internal/domain"
)

// Kind is the type tag stored in front of every value.
type Kind uint8

const (
	KindU32  Kind = 1
	KindBlob Kind = 2
)

// ErrCorrupt is returned when a stored value cannot be decoded.
var ErrCorrupt = errors.New("corrupt value")

// Value is a scalar or a blob.
type Value struct {
	Kind Kind
	U32  uint32
	Blob []byte
}

// U32 returns a scalar value.
func U32(v uint32) Value { return Value{Kind: KindU32, U32: v} }

// Blob returns a blob value holding a copy of b.
func Blob(b []byte) Value {
	c := make([]byte, len(b))
	copy(c, b)
	return Value{Kind: KindBlob, Blob: c}
}

// Entries returns the number of partition entries v occupies.
func (v Value) Entries(entrySize int) int {
	if v.Kind == KindBlob {
		return domain.BlobEntries(len(v.Blob), entrySize)
	}
	return domain.U32Entries
}

// Encode returns the stored form: the kind byte followed by the payload.
// Scalars are little-endian.
func (v Value) Encode() []byte {
	if v.Kind == KindBlob {
		out := make([]byte, 1+len(v.Blob))
		out[0] = byte(KindBlob)
		copy(out[1:], v.Blob)
		return out
	}
	out := make([]byte, 5)
	out[0] = byte(KindU32)
	binary.LittleEndian.PutUint32(out[1:], v.U32)
	return out
}

// Decode parses the stored form. The result does not alias b.
func Decode(b []byte) (Value, error) {
	if len(b) == 0 {
		return Value{}, ErrCorrupt
	}
	switch Kind(b[0]) {
	case KindU32:
		if len(b) != 5 {
			return Value{}, ErrCorrupt
		}
		return U32(binary.LittleEndian.Uint32(b[1:])), nil
	case KindBlob:
		return Blob(b[1:]), nil
	default:
		return Value{}, ErrCorrupt
	}
}

// EncodedEntries returns the entry cost of an encoded value without copying it.
func EncodedEntries(b []byte, entrySize int) (int, error) {
	if len(b) == 0 {
		return 0, ErrCorrupt
	}
	switch Kind(b[0]) {
	case KindU32:
		return domain.U32Entries, nil
	case KindBlob:
		return domain.BlobEntries(len(b)-1, entrySize), nil
	default:
		return 0, ErrCorrupt
	}
}
