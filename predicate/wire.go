package predicate

import (
	"errors"
	"fmt"

	"github.com/ledgerwatch/immuxdb/content"
	"github.com/ledgerwatch/immuxdb/varint"
)

// Wire tag prefixes, matching the original engine's predicate byte
// format exactly (§4.6).
const (
	wirePrimitiveEqual              byte = 0x00
	wirePrimitiveGreaterThan        byte = 0x01
	wirePrimitiveGreaterThanOrEqual byte = 0x02
	wirePrimitiveLessThan           byte = 0x03
	wirePrimitiveLessThanOrEqual    byte = 0x04

	wireCompoundAnd byte = 0xA0
	wireCompoundOr  byte = 0xA1
	wireCompoundNot byte = 0xA2
)

// ErrUnexpectedPrefix is returned when a wire tag byte names no known
// predicate variant.
var ErrUnexpectedPrefix = errors.New("predicate: unexpected prefix")

// ErrInsufficientBytes is returned when Parse is given a zero-length
// buffer.
var ErrInsufficientBytes = errors.New("predicate: insufficient bytes")

func relationPrefix(r Relation) byte {
	switch r {
	case RelationEqual:
		return wirePrimitiveEqual
	case RelationGreaterThan:
		return wirePrimitiveGreaterThan
	case RelationGreaterThanOrEqual:
		return wirePrimitiveGreaterThanOrEqual
	case RelationLessThan:
		return wirePrimitiveLessThan
	case RelationLessThanOrEqual:
		return wirePrimitiveLessThanOrEqual
	default:
		panic(fmt.Sprintf("predicate: unhandled relation %v", r))
	}
}

func prependWidth(data []byte) []byte {
	out := varint.Encode(uint64(len(data)))
	return append(out, data...)
}

func (p FieldPath) serialize() []byte {
	var out []byte
	for _, seg := range p {
		out = append(out, prependWidth([]byte(seg))...)
	}
	return out
}

func parseFieldPath(data []byte) (FieldPath, error) {
	var path FieldPath
	i := 0
	for i < len(data) {
		length, n, err := varint.Decode(data[i:])
		if err != nil {
			return nil, err
		}
		i += n
		if uint64(len(data)-i) < length {
			return nil, content.ErrMissingDataBytes
		}
		path = append(path, string(data[i:i+int(length)]))
		i += int(length)
	}
	return path, nil
}

// Marshal returns the self-describing binary encoding of p.
func (p Predicate) Marshal() []byte {
	switch p.Kind {
	case KindPrimitive:
		prim := p.Primitive
		out := []byte{relationPrefix(prim.Relation)}
		out = append(out, prependWidth(prim.Path.serialize())...)
		out = append(out, prependWidth(prim.Literal.Marshal())...)
		return out
	case KindAnd:
		out := []byte{wireCompoundAnd}
		for _, s := range p.Sub {
			out = append(out, prependWidth(s.Marshal())...)
		}
		return out
	case KindOr:
		out := []byte{wireCompoundOr}
		for _, s := range p.Sub {
			out = append(out, prependWidth(s.Marshal())...)
		}
		return out
	case KindNot:
		out := []byte{wireCompoundNot}
		out = append(out, prependWidth(p.Sub[0].Marshal())...)
		return out
	default:
		panic(fmt.Sprintf("predicate: unhandled kind %v", p.Kind))
	}
}

// Parse decodes a Predicate from the front of data, returning the value
// and the number of bytes consumed.
func Parse(data []byte) (Predicate, int, error) {
	if len(data) == 0 {
		return Predicate{}, 0, ErrInsufficientBytes
	}
	prefix := data[0]
	rest := data[1:]

	readPathAndLiteral := func() (FieldPath, content.Content, int, error) {
		pathBytes, pathOffset, err := extractWithWidth(rest)
		if err != nil {
			return nil, content.Content{}, 0, err
		}
		path, err := parseFieldPath(pathBytes)
		if err != nil {
			return nil, content.Content{}, 0, err
		}
		literalBytes, literalOffset, err := extractWithWidth(rest[pathOffset:])
		if err != nil {
			return nil, content.Content{}, 0, err
		}
		literal, _, err := content.Parse(literalBytes)
		if err != nil {
			return nil, content.Content{}, 0, err
		}
		return path, literal, pathOffset + literalOffset, nil
	}

	switch prefix {
	case wirePrimitiveEqual, wirePrimitiveGreaterThan, wirePrimitiveGreaterThanOrEqual,
		wirePrimitiveLessThan, wirePrimitiveLessThanOrEqual:
		path, literal, offset, err := readPathAndLiteral()
		if err != nil {
			return Predicate{}, 0, err
		}
		rel := relationFromPrefix(prefix)
		return NewPrimitive(path, rel, literal), 1 + offset, nil
	case wireCompoundNot:
		subBytes, offset, err := extractWithWidth(rest)
		if err != nil {
			return Predicate{}, 0, err
		}
		sub, _, err := Parse(subBytes)
		if err != nil {
			return Predicate{}, 0, err
		}
		return Not(sub), 1 + offset, nil
	case wireCompoundAnd, wireCompoundOr:
		subs, offset, err := parseSubPredicates(rest)
		if err != nil {
			return Predicate{}, 0, err
		}
		if prefix == wireCompoundAnd {
			return Predicate{Kind: KindAnd, Sub: subs}, 1 + offset, nil
		}
		return Predicate{Kind: KindOr, Sub: subs}, 1 + offset, nil
	default:
		return Predicate{}, 0, fmt.Errorf("%w: %#x", ErrUnexpectedPrefix, prefix)
	}
}

func relationFromPrefix(prefix byte) Relation {
	switch prefix {
	case wirePrimitiveGreaterThan:
		return RelationGreaterThan
	case wirePrimitiveGreaterThanOrEqual:
		return RelationGreaterThanOrEqual
	case wirePrimitiveLessThan:
		return RelationLessThan
	case wirePrimitiveLessThanOrEqual:
		return RelationLessThanOrEqual
	default:
		return RelationEqual
	}
}

func parseSubPredicates(data []byte) ([]Predicate, int, error) {
	var subs []Predicate
	i := 0
	for i < len(data) {
		predBytes, offset, err := extractWithWidth(data[i:])
		if err != nil {
			return nil, 0, err
		}
		if len(predBytes) == 0 {
			break
		}
		sub, _, err := Parse(predBytes)
		if err != nil {
			return nil, 0, err
		}
		subs = append(subs, sub)
		i += offset
	}
	return subs, len(data), nil
}

// extractWithWidth reads a varint length prefix from data, then returns
// the following length bytes plus the total bytes consumed.
func extractWithWidth(data []byte) ([]byte, int, error) {
	length, offset, err := varint.Decode(data)
	if err != nil {
		return nil, 0, err
	}
	if uint64(len(data)-offset) < length {
		return nil, 0, content.ErrMissingDataBytes
	}
	return data[offset : offset+int(length)], offset + int(length), nil
}
