// Package grouping implements GroupingLabel and UnitKey, the two pieces
// every storeengine key is composed from (§2, §6), plus the ComposeKey/
// SplitKey helpers the executor uses to move between them and the raw
// []byte keys the engine itself deals in.
package grouping

import (
	"errors"
	"fmt"

	"github.com/ledgerwatch/immuxdb/varint"
)

// ErrTruncated is returned when a length-prefixed field runs past the end
// of its buffer.
var ErrTruncated = errors.New("grouping: truncated")

// Label partitions the keyspace: every stored unit belongs to exactly one
// grouping, and group-scan operations (filter, unconditional select) are
// scoped to one label at a time.
type Label []byte

func NewLabel(data []byte) Label { return Label(append([]byte(nil), data...)) }

// LabelFromString is a convenience constructor for the common case of an
// ASCII/UTF-8 grouping name.
func LabelFromString(s string) Label { return Label(s) }

func (l Label) String() string { return string(l) }

// Marshal returns l length-prefixed with a varint, matching the original
// engine's GroupingLabel::marshal.
func (l Label) Marshal() []byte {
	out := varint.Encode(uint64(len(l)))
	return append(out, l...)
}

// ParseLabel decodes a Label from the front of data.
func ParseLabel(data []byte) (Label, int, error) {
	length, offset, err := varint.Decode(data)
	if err != nil {
		return nil, 0, err
	}
	if uint64(len(data)-offset) < length {
		return nil, 0, ErrTruncated
	}
	return NewLabel(data[offset : offset+int(length)]), offset + int(length), nil
}

// UnitKey identifies one unit within a Label.
type UnitKey []byte

func NewUnitKey(data []byte) UnitKey { return UnitKey(append([]byte(nil), data...)) }

func UnitKeyFromString(s string) UnitKey { return UnitKey(s) }

func (k UnitKey) String() string { return string(k) }

// Marshal returns k length-prefixed with a varint, matching the original
// engine's UnitKey::marshal.
func (k UnitKey) Marshal() []byte {
	out := varint.Encode(uint64(len(k)))
	return append(out, k...)
}

// ParseUnitKey decodes a UnitKey from the front of data.
func ParseUnitKey(data []byte) (UnitKey, int, error) {
	length, offset, err := varint.Decode(data)
	if err != nil {
		return nil, 0, err
	}
	if uint64(len(data)-offset) < length {
		return nil, 0, ErrTruncated
	}
	return NewUnitKey(data[offset : offset+int(length)]), offset + int(length), nil
}

// ComposeKey builds the raw storeengine key for (label, key): the label's
// length-prefixed marshal followed by the unit key's raw bytes — the unit
// key needs no length prefix of its own, since it's simply whatever
// remains after the label (§2's "KVKey = grouping ++ unit_key").
func ComposeKey(label Label, key UnitKey) []byte {
	out := label.Marshal()
	return append(out, key...)
}

// SplitKey reverses ComposeKey, extracting the label and treating
// whatever remains as the unit key.
func SplitKey(raw []byte) (Label, UnitKey, error) {
	label, offset, err := ParseLabel(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("grouping: split key: %w", err)
	}
	return label, NewUnitKey(raw[offset:]), nil
}
