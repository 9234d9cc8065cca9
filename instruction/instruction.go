// Package instruction implements Instruction, the tagged union of mutation
// records written to the append-only log, and its varint-encoded on-disk
// serialization (§4.2 of the store's on-disk log format).
package instruction

import (
	"errors"
	"fmt"

	"github.com/ledgerwatch/immuxdb/chainheight"
	"github.com/ledgerwatch/immuxdb/varint"
)

// Tag identifies an Instruction's variant, matching its on-disk prefix
// byte.
type Tag byte

const (
	TagSet                     Tag = 0x00
	TagRevertOne               Tag = 0x01
	TagRevertAll               Tag = 0x02
	TagRemoveOne               Tag = 0x03
	TagRemoveAll               Tag = 0x04
	TagTransactionStart        Tag = 0x05
	TagTransactionalSet        Tag = 0x06
	TagTransactionalRevertOne  Tag = 0x07
	TagTransactionalRemoveOne  Tag = 0x08
	TagTransactionCommit       Tag = 0x09
	TagTransactionAbort        Tag = 0x10
)

// ErrMissingPrefixByte is returned when parsing an empty buffer.
var ErrMissingPrefixByte = errors.New("instruction: missing prefix byte")

// ErrUnknownPrefix is returned when a tag byte does not name a known
// Instruction variant.
var ErrUnknownPrefix = errors.New("instruction: unknown prefix")

// ErrTruncated is returned when a field's declared length runs past the
// end of the buffer.
var ErrTruncated = errors.New("instruction: truncated")

// TransactionID is the 64-bit transaction identifier, varint-encoded
// on-disk (contrast with the fixed 8-byte LE encoding of the wire Command,
// see package command — this asymmetry is deliberate, Open Question 2).
type TransactionID uint64

// Instruction is a tagged union of mutation records. Exactly the fields
// relevant to Tag are meaningful.
type Instruction struct {
	Tag           Tag
	Key           []byte
	Value         []byte
	Height        chainheight.Height
	TransactionID TransactionID
}

func Set(key, value []byte) Instruction {
	return Instruction{Tag: TagSet, Key: key, Value: value}
}

func RevertOne(key []byte, height chainheight.Height) Instruction {
	return Instruction{Tag: TagRevertOne, Key: key, Height: height}
}

func RevertAll(height chainheight.Height) Instruction {
	return Instruction{Tag: TagRevertAll, Height: height}
}

func RemoveOne(key []byte) Instruction {
	return Instruction{Tag: TagRemoveOne, Key: key}
}

func RemoveAll() Instruction {
	return Instruction{Tag: TagRemoveAll}
}

func TransactionStart(tx TransactionID) Instruction {
	return Instruction{Tag: TagTransactionStart, TransactionID: tx}
}

func TransactionalSet(key, value []byte, tx TransactionID) Instruction {
	return Instruction{Tag: TagTransactionalSet, Key: key, Value: value, TransactionID: tx}
}

func TransactionalRevertOne(key []byte, height chainheight.Height, tx TransactionID) Instruction {
	return Instruction{Tag: TagTransactionalRevertOne, Key: key, Height: height, TransactionID: tx}
}

func TransactionalRemoveOne(key []byte, tx TransactionID) Instruction {
	return Instruction{Tag: TagTransactionalRemoveOne, Key: key, TransactionID: tx}
}

func TransactionCommit(tx TransactionID) Instruction {
	return Instruction{Tag: TagTransactionCommit, TransactionID: tx}
}

func TransactionAbort(tx TransactionID) Instruction {
	return Instruction{Tag: TagTransactionAbort, TransactionID: tx}
}

// Serialize returns the raw (pre-ECC) record bytes: PREFIX(1) + fields, all
// lengths and heights/tx-ids varint encoded.
func (i Instruction) Serialize() []byte {
	out := []byte{byte(i.Tag)}

	writeBytes := func(b []byte) {
		out = append(out, varint.Encode(uint64(len(b)))...)
		out = append(out, b...)
	}
	writeHeight := func(h chainheight.Height) {
		out = append(out, varint.Encode(uint64(h))...)
	}
	writeTx := func(tx TransactionID) {
		out = append(out, varint.Encode(uint64(tx))...)
	}

	switch i.Tag {
	case TagSet:
		writeBytes(i.Key)
		writeBytes(i.Value)
	case TagRevertOne:
		writeBytes(i.Key)
		writeHeight(i.Height)
	case TagRevertAll:
		writeHeight(i.Height)
	case TagRemoveOne:
		writeBytes(i.Key)
	case TagRemoveAll:
		// no fields
	case TagTransactionStart:
		writeTx(i.TransactionID)
	case TagTransactionalSet:
		writeBytes(i.Key)
		writeBytes(i.Value)
		writeTx(i.TransactionID)
	case TagTransactionalRevertOne:
		writeBytes(i.Key)
		writeHeight(i.Height)
		writeTx(i.TransactionID)
	case TagTransactionalRemoveOne:
		writeBytes(i.Key)
		writeTx(i.TransactionID)
	case TagTransactionCommit:
		writeTx(i.TransactionID)
	case TagTransactionAbort:
		writeTx(i.TransactionID)
	default:
		panic(fmt.Sprintf("instruction: unhandled tag %#x", i.Tag))
	}

	return out
}

// Parse decodes an Instruction from the front of data, returning the value
// and the number of bytes consumed.
func Parse(data []byte) (Instruction, int, error) {
	if len(data) == 0 {
		return Instruction{}, 0, ErrMissingPrefixByte
	}
	tag := Tag(data[0])
	pos := 1

	readBytes := func() ([]byte, error) {
		length, n, err := varint.Decode(data[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		if uint64(len(data)-pos) < length {
			return nil, ErrTruncated
		}
		b := data[pos : pos+int(length)]
		pos += int(length)
		return b, nil
	}
	readHeight := func() (chainheight.Height, error) {
		h, n, err := varint.Decode(data[pos:])
		if err != nil {
			return 0, err
		}
		pos += n
		return chainheight.New(h), nil
	}
	readTx := func() (TransactionID, error) {
		tx, n, err := varint.Decode(data[pos:])
		if err != nil {
			return 0, err
		}
		pos += n
		return TransactionID(tx), nil
	}

	var instr Instruction
	instr.Tag = tag

	switch tag {
	case TagSet:
		key, err := readBytes()
		if err != nil {
			return Instruction{}, 0, err
		}
		value, err := readBytes()
		if err != nil {
			return Instruction{}, 0, err
		}
		instr.Key, instr.Value = key, value
	case TagRevertOne:
		key, err := readBytes()
		if err != nil {
			return Instruction{}, 0, err
		}
		height, err := readHeight()
		if err != nil {
			return Instruction{}, 0, err
		}
		instr.Key, instr.Height = key, height
	case TagRevertAll:
		height, err := readHeight()
		if err != nil {
			return Instruction{}, 0, err
		}
		instr.Height = height
	case TagRemoveOne:
		key, err := readBytes()
		if err != nil {
			return Instruction{}, 0, err
		}
		instr.Key = key
	case TagRemoveAll:
		// no fields
	case TagTransactionStart:
		tx, err := readTx()
		if err != nil {
			return Instruction{}, 0, err
		}
		instr.TransactionID = tx
	case TagTransactionalSet:
		key, err := readBytes()
		if err != nil {
			return Instruction{}, 0, err
		}
		value, err := readBytes()
		if err != nil {
			return Instruction{}, 0, err
		}
		tx, err := readTx()
		if err != nil {
			return Instruction{}, 0, err
		}
		instr.Key, instr.Value, instr.TransactionID = key, value, tx
	case TagTransactionalRevertOne:
		key, err := readBytes()
		if err != nil {
			return Instruction{}, 0, err
		}
		height, err := readHeight()
		if err != nil {
			return Instruction{}, 0, err
		}
		tx, err := readTx()
		if err != nil {
			return Instruction{}, 0, err
		}
		instr.Key, instr.Height, instr.TransactionID = key, height, tx
	case TagTransactionalRemoveOne:
		key, err := readBytes()
		if err != nil {
			return Instruction{}, 0, err
		}
		tx, err := readTx()
		if err != nil {
			return Instruction{}, 0, err
		}
		instr.Key, instr.TransactionID = key, tx
	case TagTransactionCommit:
		tx, err := readTx()
		if err != nil {
			return Instruction{}, 0, err
		}
		instr.TransactionID = tx
	case TagTransactionAbort:
		tx, err := readTx()
		if err != nil {
			return Instruction{}, 0, err
		}
		instr.TransactionID = tx
	default:
		return Instruction{}, 0, fmt.Errorf("%w: %#x", ErrUnknownPrefix, byte(tag))
	}

	return instr, pos, nil
}

// AffectedKey returns the key this instruction names, if any.
func (i Instruction) AffectedKey() ([]byte, bool) {
	switch i.Tag {
	case TagSet, TagRevertOne, TagRemoveOne,
		TagTransactionalSet, TagTransactionalRevertOne, TagTransactionalRemoveOne:
		return i.Key, true
	default:
		return nil, false
	}
}
