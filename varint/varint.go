// Package varint implements the Bitcoin-style variable-length unsigned
// integer encoding used for every length and height field in the on-disk
// instruction grammar.
package varint

import (
	"encoding/binary"
	"errors"
)

const (
	prefix16 = 0xfd
	prefix32 = 0xfe
	prefix64 = 0xff
)

// ErrUnexpectedFormat is returned when the input is too short to contain
// the integer width implied by its prefix byte.
var ErrUnexpectedFormat = errors.New("varint: unexpected format")

// Encode returns the varint encoding of n.
func Encode(n uint64) []byte {
	switch {
	case n < prefix16:
		return []byte{byte(n)}
	case n <= 0xffff:
		buf := make([]byte, 3)
		buf[0] = prefix16
		binary.LittleEndian.PutUint16(buf[1:], uint16(n))
		return buf
	case n <= 0xffffffff:
		buf := make([]byte, 5)
		buf[0] = prefix32
		binary.LittleEndian.PutUint32(buf[1:], uint32(n))
		return buf
	default:
		buf := make([]byte, 9)
		buf[0] = prefix64
		binary.LittleEndian.PutUint64(buf[1:], n)
		return buf
	}
}

// Decode reads a varint from the front of data, returning the decoded value
// and the number of bytes consumed.
func Decode(data []byte) (uint64, int, error) {
	if len(data) < 1 {
		return 0, 0, ErrUnexpectedFormat
	}
	switch data[0] {
	case prefix16:
		if len(data) < 3 {
			return 0, 0, ErrUnexpectedFormat
		}
		return uint64(binary.LittleEndian.Uint16(data[1:3])), 3, nil
	case prefix32:
		if len(data) < 5 {
			return 0, 0, ErrUnexpectedFormat
		}
		return uint64(binary.LittleEndian.Uint32(data[1:5])), 5, nil
	case prefix64:
		if len(data) < 9 {
			return 0, 0, ErrUnexpectedFormat
		}
		return binary.LittleEndian.Uint64(data[1:9]), 9, nil
	default:
		return uint64(data[0]), 1, nil
	}
}
