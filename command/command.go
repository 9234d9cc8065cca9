// Package command implements the wire Command/Outcome envelope exchanged
// with front-ends (§6): a tagged union much like instruction.Instruction,
// but independently encoded — heights and transaction ids are fixed
// 8-byte little-endian here, not varint, per Open Question 2's documented
// asymmetry between the on-disk log and the wire protocol.
package command

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ledgerwatch/immuxdb/chainheight"
	"github.com/ledgerwatch/immuxdb/content"
	"github.com/ledgerwatch/immuxdb/grouping"
	"github.com/ledgerwatch/immuxdb/txmanager"
)

// ErrInvalidPrefix is returned when a tag byte names no known Command (or
// SelectCondition) variant.
var ErrInvalidPrefix = errors.New("command: invalid prefix")

// ErrTruncated is returned when a fixed-width field runs past the end of
// its buffer.
var ErrTruncated = errors.New("command: truncated")

// Prefix tags a Command's wire variant.
type Prefix byte

const (
	PrefixSelect                 Prefix = 0x01
	PrefixInspectOne              Prefix = 0x02
	PrefixInspectAll              Prefix = 0x03
	PrefixInsert                  Prefix = 0x04
	PrefixRevertOne               Prefix = 0x05
	PrefixRevertAll               Prefix = 0x06
	PrefixRemoveOne               Prefix = 0x07
	PrefixRemoveAll               Prefix = 0x08
	PrefixCreateTransaction       Prefix = 0x09
	PrefixTransactionalInsert     Prefix = 0x0a
	PrefixTransactionalRemoveOne  Prefix = 0x0b
	PrefixTransactionalRevertOne  Prefix = 0x0c
	PrefixTransactionCommit       Prefix = 0x0d
	PrefixTransactionAbort        Prefix = 0x10
)

// SelectConditionKind tags which shape a SelectCondition's filter takes.
type SelectConditionKind byte

const (
	selectPrefixKeyWithTx    byte = 0x00
	selectPrefixKeyWithoutTx byte = 0x01
	selectPrefixUnconditional byte = 0x02
	selectPrefixFilter        byte = 0x03
)

const (
	SelectKind SelectConditionKind = iota
	SelectUnconditional
	SelectFilter
)

// SelectCondition narrows a Select command: by exact unit key (optionally
// inside a transaction), unconditionally over the whole grouping, or by a
// predicate expression string evaluated against every unit's content.
type SelectCondition struct {
	Kind          SelectConditionKind
	Key           grouping.UnitKey
	TransactionID *txmanager.ID
	FilterExpr    string
}

func SelectByKey(key grouping.UnitKey, tx *txmanager.ID) SelectCondition {
	return SelectCondition{Kind: SelectKind, Key: key, TransactionID: tx}
}

func SelectAll() SelectCondition { return SelectCondition{Kind: SelectUnconditional} }

func SelectWithFilter(expr string) SelectCondition {
	return SelectCondition{Kind: SelectFilter, FilterExpr: expr}
}

func (c SelectCondition) marshal() []byte {
	switch c.Kind {
	case SelectUnconditional:
		return []byte{selectPrefixUnconditional}
	case SelectFilter:
		out := []byte{selectPrefixFilter}
		out = append(out, varintLenPrefixedString(c.FilterExpr)...)
		return out
	default:
		var out []byte
		if c.TransactionID != nil {
			out = append(out, selectPrefixKeyWithTx)
			out = append(out, encodeU64(uint64(*c.TransactionID))...)
		} else {
			out = append(out, selectPrefixKeyWithoutTx)
		}
		out = append(out, c.Key.Marshal()...)
		return out
	}
}

func parseSelectCondition(data []byte) (SelectCondition, int, error) {
	if len(data) < 1 {
		return SelectCondition{}, 0, ErrTruncated
	}
	prefix := data[0]
	pos := 1

	switch prefix {
	case selectPrefixKeyWithTx, selectPrefixKeyWithoutTx:
		var tx *txmanager.ID
		if prefix == selectPrefixKeyWithTx {
			v, err := decodeU64(data[pos:])
			if err != nil {
				return SelectCondition{}, 0, err
			}
			pos += 8
			id := txmanager.ID(v)
			tx = &id
		}
		key, n, err := grouping.ParseUnitKey(data[pos:])
		if err != nil {
			return SelectCondition{}, 0, err
		}
		pos += n
		return SelectByKey(key, tx), pos, nil
	case selectPrefixUnconditional:
		return SelectAll(), pos, nil
	case selectPrefixFilter:
		expr, n, err := parseVarintLenPrefixedString(data[pos:])
		if err != nil {
			return SelectCondition{}, 0, err
		}
		pos += n
		return SelectWithFilter(expr), pos, nil
	default:
		return SelectCondition{}, 0, fmt.Errorf("%w: select condition %#x", ErrInvalidPrefix, prefix)
	}
}

// Kind tags which Command variant is populated.
type Kind byte

const (
	KindSelect Kind = iota
	KindInspectOne
	KindInspectAll
	KindInsert
	KindRevertOne
	KindRevertAll
	KindRemoveOne
	KindRemoveAll
	KindCreateTransaction
	KindTransactionalInsert
	KindTransactionalRevertOne
	KindTransactionalRemoveOne
	KindTransactionCommit
	KindTransactionAbort
)

// Command is the tagged union every front-end request is lowered to
// before reaching the executor (§6).
type Command struct {
	Kind Kind

	Grouping  grouping.Label
	Key       grouping.UnitKey
	Content   content.Content
	Height    chainheight.Height
	TxID      txmanager.ID
	Condition SelectCondition
}

func Select(label grouping.Label, condition SelectCondition) Command {
	return Command{Kind: KindSelect, Grouping: label, Condition: condition}
}

func InspectOne(label grouping.Label, key grouping.UnitKey) Command {
	return Command{Kind: KindInspectOne, Grouping: label, Key: key}
}

func InspectAll() Command { return Command{Kind: KindInspectAll} }

func Insert(label grouping.Label, key grouping.UnitKey, c content.Content) Command {
	return Command{Kind: KindInsert, Grouping: label, Key: key, Content: c}
}

func RevertOne(label grouping.Label, key grouping.UnitKey, height chainheight.Height) Command {
	return Command{Kind: KindRevertOne, Grouping: label, Key: key, Height: height}
}

func RevertAll(height chainheight.Height) Command {
	return Command{Kind: KindRevertAll, Height: height}
}

func RemoveOne(label grouping.Label, key grouping.UnitKey) Command {
	return Command{Kind: KindRemoveOne, Grouping: label, Key: key}
}

func RemoveAll() Command { return Command{Kind: KindRemoveAll} }

func CreateTransaction() Command { return Command{Kind: KindCreateTransaction} }

func TransactionalInsert(label grouping.Label, key grouping.UnitKey, c content.Content, tx txmanager.ID) Command {
	return Command{Kind: KindTransactionalInsert, Grouping: label, Key: key, Content: c, TxID: tx}
}

func TransactionalRevertOne(label grouping.Label, key grouping.UnitKey, height chainheight.Height, tx txmanager.ID) Command {
	return Command{Kind: KindTransactionalRevertOne, Grouping: label, Key: key, Height: height, TxID: tx}
}

func TransactionalRemoveOne(label grouping.Label, key grouping.UnitKey, tx txmanager.ID) Command {
	return Command{Kind: KindTransactionalRemoveOne, Grouping: label, Key: key, TxID: tx}
}

func TransactionCommit(tx txmanager.ID) Command {
	return Command{Kind: KindTransactionCommit, TxID: tx}
}

func TransactionAbort(tx txmanager.ID) Command {
	return Command{Kind: KindTransactionAbort, TxID: tx}
}

// String renders a short label for logging/journal display, e.g.
// "Insert(phones/iphone-12)".
func (c Command) String() string {
	switch c.Kind {
	case KindSelect:
		return fmt.Sprintf("Select(%s)", c.Grouping)
	case KindInspectOne:
		return fmt.Sprintf("InspectOne(%s/%s)", c.Grouping, c.Key)
	case KindInspectAll:
		return "InspectAll"
	case KindInsert:
		return fmt.Sprintf("Insert(%s/%s)", c.Grouping, c.Key)
	case KindRevertOne:
		return fmt.Sprintf("RevertOne(%s/%s, height=%d)", c.Grouping, c.Key, c.Height)
	case KindRevertAll:
		return fmt.Sprintf("RevertAll(height=%d)", c.Height)
	case KindRemoveOne:
		return fmt.Sprintf("RemoveOne(%s/%s)", c.Grouping, c.Key)
	case KindRemoveAll:
		return "RemoveAll"
	case KindCreateTransaction:
		return "CreateTransaction"
	case KindTransactionalInsert:
		return fmt.Sprintf("TransactionalInsert(%s/%s, tx=%d)", c.Grouping, c.Key, c.TxID)
	case KindTransactionalRevertOne:
		return fmt.Sprintf("TransactionalRevertOne(%s/%s, height=%d, tx=%d)", c.Grouping, c.Key, c.Height, c.TxID)
	case KindTransactionalRemoveOne:
		return fmt.Sprintf("TransactionalRemoveOne(%s/%s, tx=%d)", c.Grouping, c.Key, c.TxID)
	case KindTransactionCommit:
		return fmt.Sprintf("TransactionCommit(tx=%d)", c.TxID)
	case KindTransactionAbort:
		return fmt.Sprintf("TransactionAbort(tx=%d)", c.TxID)
	default:
		return "Command(?)"
	}
}

// Marshal returns c's wire encoding.
func (c Command) Marshal() []byte {
	switch c.Kind {
	case KindSelect:
		out := []byte{byte(PrefixSelect)}
		out = append(out, c.Grouping.Marshal()...)
		out = append(out, c.Condition.marshal()...)
		return out
	case KindInspectOne:
		out := []byte{byte(PrefixInspectOne)}
		out = append(out, c.Grouping.Marshal()...)
		out = append(out, c.Key.Marshal()...)
		return out
	case KindInspectAll:
		return []byte{byte(PrefixInspectAll)}
	case KindInsert:
		out := []byte{byte(PrefixInsert)}
		out = append(out, c.Grouping.Marshal()...)
		out = append(out, c.Key.Marshal()...)
		out = append(out, c.Content.Marshal()...)
		return out
	case KindRevertOne:
		out := []byte{byte(PrefixRevertOne)}
		out = append(out, c.Grouping.Marshal()...)
		out = append(out, c.Key.Marshal()...)
		out = append(out, encodeU64(uint64(c.Height))...)
		return out
	case KindRevertAll:
		out := []byte{byte(PrefixRevertAll)}
		out = append(out, encodeU64(uint64(c.Height))...)
		return out
	case KindRemoveOne:
		out := []byte{byte(PrefixRemoveOne)}
		out = append(out, c.Grouping.Marshal()...)
		out = append(out, c.Key.Marshal()...)
		return out
	case KindRemoveAll:
		return []byte{byte(PrefixRemoveAll)}
	case KindCreateTransaction:
		return []byte{byte(PrefixCreateTransaction)}
	case KindTransactionalInsert:
		out := []byte{byte(PrefixTransactionalInsert)}
		out = append(out, c.Grouping.Marshal()...)
		out = append(out, c.Key.Marshal()...)
		out = append(out, c.Content.Marshal()...)
		out = append(out, encodeU64(uint64(c.TxID))...)
		return out
	case KindTransactionalRevertOne:
		out := []byte{byte(PrefixTransactionalRevertOne)}
		out = append(out, c.Grouping.Marshal()...)
		out = append(out, c.Key.Marshal()...)
		out = append(out, encodeU64(uint64(c.Height))...)
		out = append(out, encodeU64(uint64(c.TxID))...)
		return out
	case KindTransactionalRemoveOne:
		out := []byte{byte(PrefixTransactionalRemoveOne)}
		out = append(out, c.Grouping.Marshal()...)
		out = append(out, c.Key.Marshal()...)
		out = append(out, encodeU64(uint64(c.TxID))...)
		return out
	case KindTransactionCommit:
		out := []byte{byte(PrefixTransactionCommit)}
		out = append(out, encodeU64(uint64(c.TxID))...)
		return out
	case KindTransactionAbort:
		out := []byte{byte(PrefixTransactionAbort)}
		out = append(out, encodeU64(uint64(c.TxID))...)
		return out
	default:
		panic(fmt.Sprintf("command: unhandled kind %v", c.Kind))
	}
}

// Parse decodes a Command from the front of data, returning the value and
// the number of bytes consumed.
func Parse(data []byte) (Command, int, error) {
	if len(data) < 1 {
		return Command{}, 0, ErrTruncated
	}
	prefix := Prefix(data[0])
	pos := 1

	readGrouping := func() (grouping.Label, error) {
		label, n, err := grouping.ParseLabel(data[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		return label, nil
	}
	readKey := func() (grouping.UnitKey, error) {
		key, n, err := grouping.ParseUnitKey(data[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		return key, nil
	}
	readContent := func() (content.Content, error) {
		c, n, err := content.Parse(data[pos:])
		if err != nil {
			return content.Content{}, err
		}
		pos += n
		return c, nil
	}
	readHeight := func() (chainheight.Height, error) {
		v, err := decodeU64(data[pos:])
		if err != nil {
			return 0, err
		}
		pos += 8
		return chainheight.New(v), nil
	}
	readTx := func() (txmanager.ID, error) {
		v, err := decodeU64(data[pos:])
		if err != nil {
			return 0, err
		}
		pos += 8
		return txmanager.ID(v), nil
	}

	switch prefix {
	case PrefixSelect:
		label, err := readGrouping()
		if err != nil {
			return Command{}, 0, err
		}
		cond, n, err := parseSelectCondition(data[pos:])
		if err != nil {
			return Command{}, 0, err
		}
		pos += n
		return Select(label, cond), pos, nil
	case PrefixInspectOne:
		label, err := readGrouping()
		if err != nil {
			return Command{}, 0, err
		}
		key, err := readKey()
		if err != nil {
			return Command{}, 0, err
		}
		return InspectOne(label, key), pos, nil
	case PrefixInspectAll:
		return InspectAll(), pos, nil
	case PrefixInsert:
		label, err := readGrouping()
		if err != nil {
			return Command{}, 0, err
		}
		key, err := readKey()
		if err != nil {
			return Command{}, 0, err
		}
		c, err := readContent()
		if err != nil {
			return Command{}, 0, err
		}
		return Insert(label, key, c), pos, nil
	case PrefixRevertOne:
		label, err := readGrouping()
		if err != nil {
			return Command{}, 0, err
		}
		key, err := readKey()
		if err != nil {
			return Command{}, 0, err
		}
		height, err := readHeight()
		if err != nil {
			return Command{}, 0, err
		}
		return RevertOne(label, key, height), pos, nil
	case PrefixRevertAll:
		height, err := readHeight()
		if err != nil {
			return Command{}, 0, err
		}
		return RevertAll(height), pos, nil
	case PrefixRemoveOne:
		label, err := readGrouping()
		if err != nil {
			return Command{}, 0, err
		}
		key, err := readKey()
		if err != nil {
			return Command{}, 0, err
		}
		return RemoveOne(label, key), pos, nil
	case PrefixRemoveAll:
		return RemoveAll(), pos, nil
	case PrefixCreateTransaction:
		return CreateTransaction(), pos, nil
	case PrefixTransactionalInsert:
		label, err := readGrouping()
		if err != nil {
			return Command{}, 0, err
		}
		key, err := readKey()
		if err != nil {
			return Command{}, 0, err
		}
		c, err := readContent()
		if err != nil {
			return Command{}, 0, err
		}
		tx, err := readTx()
		if err != nil {
			return Command{}, 0, err
		}
		return TransactionalInsert(label, key, c, tx), pos, nil
	case PrefixTransactionalRevertOne:
		label, err := readGrouping()
		if err != nil {
			return Command{}, 0, err
		}
		key, err := readKey()
		if err != nil {
			return Command{}, 0, err
		}
		height, err := readHeight()
		if err != nil {
			return Command{}, 0, err
		}
		tx, err := readTx()
		if err != nil {
			return Command{}, 0, err
		}
		return TransactionalRevertOne(label, key, height, tx), pos, nil
	case PrefixTransactionalRemoveOne:
		label, err := readGrouping()
		if err != nil {
			return Command{}, 0, err
		}
		key, err := readKey()
		if err != nil {
			return Command{}, 0, err
		}
		tx, err := readTx()
		if err != nil {
			return Command{}, 0, err
		}
		return TransactionalRemoveOne(label, key, tx), pos, nil
	case PrefixTransactionCommit:
		tx, err := readTx()
		if err != nil {
			return Command{}, 0, err
		}
		return TransactionCommit(tx), pos, nil
	case PrefixTransactionAbort:
		tx, err := readTx()
		if err != nil {
			return Command{}, 0, err
		}
		return TransactionAbort(tx), pos, nil
	default:
		return Command{}, 0, fmt.Errorf("%w: command %#x", ErrInvalidPrefix, byte(prefix))
	}
}

func encodeU64(v uint64) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, v)
	return out
}

func decodeU64(data []byte) (uint64, error) {
	if len(data) < 8 {
		return 0, ErrTruncated
	}
	return binary.LittleEndian.Uint64(data[:8]), nil
}

func varintLenPrefixedString(s string) []byte {
	return grouping.UnitKey(s).Marshal()
}

func parseVarintLenPrefixedString(data []byte) (string, int, error) {
	k, n, err := grouping.ParseUnitKey(data)
	if err != nil {
		return "", 0, err
	}
	return string(k), n, nil
}
