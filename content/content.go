// Package content implements Content, the self-describing typed value the
// store engine parses out of a KVValue's bytes whenever it must interpret
// a value rather than pass it through opaquely (historical reads, filter
// scans).
package content

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ledgerwatch/immuxdb/varint"
)

// Kind tags the variant held by a Content.
type Kind byte

const (
	KindNil    Kind = 0x00
	KindString Kind = 0x10
	KindBool   Kind = 0x11
	KindFloat  Kind = 0x12
	KindArray  Kind = 0x20
	KindMap    Kind = 0x21
)

// ErrUnexpectedTypePrefix is returned when a tag byte does not match any
// known Kind.
var ErrUnexpectedTypePrefix = errors.New("content: unexpected type prefix")

// ErrMissingDataBytes is returned when a value's fixed-width payload (bool,
// float64) is truncated.
var ErrMissingDataBytes = errors.New("content: missing data bytes")

// ErrEmptyInput is returned when Parse is given a zero-length slice.
var ErrEmptyInput = errors.New("content: empty input")

// Content is a tagged value. Exactly one of the fields is meaningful,
// selected by Kind.
type Content struct {
	Kind   Kind
	Str    string
	Bool   bool
	Float  float64
	Array  []Content
	Map    map[string]Content
}

func Nil() Content                  { return Content{Kind: KindNil} }
func String(s string) Content       { return Content{Kind: KindString, Str: s} }
func Bool(b bool) Content           { return Content{Kind: KindBool, Bool: b} }
func Float64(f float64) Content     { return Content{Kind: KindFloat, Float: f} }
func Array(items []Content) Content { return Content{Kind: KindArray, Array: items} }
func Map(m map[string]Content) Content {
	return Content{Kind: KindMap, Map: m}
}

// Marshal returns the self-describing binary encoding of c.
func (c Content) Marshal() []byte {
	switch c.Kind {
	case KindNil:
		return []byte{byte(KindNil)}
	case KindBool:
		v := byte(0)
		if c.Bool {
			v = 1
		}
		return []byte{byte(KindBool), v}
	case KindFloat:
		out := make([]byte, 9)
		out[0] = byte(KindFloat)
		bits := math.Float64bits(c.Float)
		for i := 0; i < 8; i++ {
			out[1+i] = byte(bits >> (8 * uint(i)))
		}
		return out
	case KindString:
		data := []byte(c.Str)
		out := []byte{byte(KindString)}
		out = append(out, varint.Encode(uint64(len(data)))...)
		out = append(out, data...)
		return out
	case KindArray:
		var data []byte
		for _, item := range c.Array {
			data = append(data, item.Marshal()...)
		}
		out := []byte{byte(KindArray)}
		out = append(out, varint.Encode(uint64(len(data)))...)
		out = append(out, data...)
		return out
	case KindMap:
		var data []byte
		// Deterministic key order: marshal format does not require it, but a
		// stable iteration avoids gratuitous diffs between identical maps.
		keys := make([]string, 0, len(c.Map))
		for k := range c.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := c.Map[k]
			data = append(data, varint.Encode(uint64(len(k)))...)
			data = append(data, []byte(k)...)
			data = append(data, v.Marshal()...)
		}
		out := []byte{byte(KindMap)}
		out = append(out, varint.Encode(uint64(len(data)))...)
		out = append(out, data...)
		return out
	default:
		panic(fmt.Sprintf("content: unhandled kind %v", c.Kind))
	}
}

// Parse decodes a Content from the front of data, returning the value and
// the number of bytes consumed.
func Parse(data []byte) (Content, int, error) {
	if len(data) == 0 {
		return Content{}, 0, ErrEmptyInput
	}
	kind := Kind(data[0])
	rest := data[1:]

	switch kind {
	case KindNil:
		return Nil(), 1, nil
	case KindBool:
		if len(rest) < 1 {
			return Content{}, 0, ErrMissingDataBytes
		}
		return Bool(rest[0] != 0), 2, nil
	case KindFloat:
		if len(rest) < 8 {
			return Content{}, 0, ErrMissingDataBytes
		}
		var bits uint64
		for i := 0; i < 8; i++ {
			bits |= uint64(rest[i]) << (8 * uint(i))
		}
		return Float64(math.Float64frombits(bits)), 9, nil
	case KindString:
		length, offset, err := varint.Decode(rest)
		if err != nil {
			return Content{}, 0, err
		}
		if uint64(len(rest)-offset) < length {
			return Content{}, 0, ErrMissingDataBytes
		}
		s := string(rest[offset : offset+int(length)])
		return String(s), 1 + offset + int(length), nil
	case KindArray:
		totalLength, offset, err := varint.Decode(rest)
		if err != nil {
			return Content{}, 0, err
		}
		if uint64(len(rest)-offset) < totalLength {
			return Content{}, 0, ErrMissingDataBytes
		}
		body := rest[offset : offset+int(totalLength)]
		var items []Content
		pos := 0
		for pos < len(body) {
			item, n, err := Parse(body[pos:])
			if err != nil {
				return Content{}, 0, err
			}
			items = append(items, item)
			pos += n
		}
		return Array(items), 1 + offset + int(totalLength), nil
	case KindMap:
		totalLength, offset, err := varint.Decode(rest)
		if err != nil {
			return Content{}, 0, err
		}
		if uint64(len(rest)-offset) < totalLength {
			return Content{}, 0, ErrMissingDataBytes
		}
		body := rest[offset : offset+int(totalLength)]
		m := make(map[string]Content)
		pos := 0
		for pos < len(body) {
			keyLen, n, err := varint.Decode(body[pos:])
			if err != nil {
				return Content{}, 0, err
			}
			pos += n
			if uint64(len(body)-pos) < keyLen {
				return Content{}, 0, ErrMissingDataBytes
			}
			key := string(body[pos : pos+int(keyLen)])
			pos += int(keyLen)

			value, n, err := Parse(body[pos:])
			if err != nil {
				return Content{}, 0, err
			}
			pos += n
			m[key] = value
		}
		return Map(m), 1 + offset + int(totalLength), nil
	default:
		return Content{}, 0, ErrUnexpectedTypePrefix
	}
}

// Equal reports structural equality. Map comparisons are unordered.
func Equal(a, b Content) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNil:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindFloat:
		return a.Float == b.Float
	case KindString:
		return a.Str == b.Str
	case KindArray:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !Equal(a.Array[i], b.Array[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.Map) != len(b.Map) {
			return false
		}
		for k, v := range a.Map {
			ov, ok := b.Map[k]
			if !ok || !Equal(v, ov) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two Float64 contents; ok is false for any other pairing,
// matching the spec's rule that only Float64 participates in ordered
// comparisons.
func Compare(a, b Content) (cmp int, ok bool) {
	if a.Kind != KindFloat || b.Kind != KindFloat {
		return 0, false
	}
	switch {
	case a.Float < b.Float:
		return -1, true
	case a.Float > b.Float:
		return 1, true
	default:
		return 0, true
	}
}

// String renders a Content the way the original engine's debug output does.
func (c Content) String() string {
	switch c.Kind {
	case KindNil:
		return "Nil"
	case KindBool:
		if c.Bool {
			return "true"
		}
		return "false"
	case KindFloat:
		return strconv.FormatFloat(c.Float, 'g', -1, 64)
	case KindString:
		return `"` + c.Str + `"`
	case KindArray:
		parts := make([]string, len(c.Array))
		for i, item := range c.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case KindMap:
		keys := make([]string, 0, len(c.Map))
		for k := range c.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+":"+c.Map[k].String())
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return "<invalid content>"
	}
}
