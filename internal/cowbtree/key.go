package cowbtree

import "bytes"

// KeyOrder is the capability set spec.md's Design Notes describe as
// "KeyOrder { cmp, inc }": a total order over keys plus a successor
// operation, both supplied through configuration rather than hard-coded,
// matching the source's callback-vtable pattern expressed here as an
// injectable capability.
type KeyOrder interface {
	Cmp(a, b []byte) int
	Inc(key []byte) []byte
}

type bytesOrder struct{}

func (bytesOrder) Cmp(a, b []byte) int { return bytes.Compare(a, b) }

// Inc returns the successor of key among byte strings of the same length,
// treating key as an unsigned big-endian integer (e.g. 0x01 0xFF ->
// 0x02 0x00). An all-0xFF key has no same-length successor, so Inc then
// appends a zero byte to it (e.g. 0xFF -> 0xFF 0x00), which keeps Inc total
// over arbitrary-length byte strings. The result is always strictly greater
// than key.
func (bytesOrder) Inc(key []byte) []byte {
	out := append([]byte(nil), key...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out
		}
		out[i] = 0x00
	}
	return append(append([]byte(nil), key...), 0x00)
}

// DefaultKeyOrder orders keys by unsigned byte-wise comparison.
var DefaultKeyOrder KeyOrder = bytesOrder{}

// ValueCodec exposes the value_release hook spec.md's Data Model names:
// invoked when a value is logically removed from the tree, so that value
// payloads may own external resources.
type ValueCodec interface {
	Release(value []byte)
}

type noopValueCodec struct{}

func (noopValueCodec) Release([]byte) {}

// DefaultValueCodec performs no action on value removal.
var DefaultValueCodec ValueCodec = noopValueCodec{}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
