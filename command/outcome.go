package command

import (
	"fmt"

	"github.com/ledgerwatch/immuxdb/chainheight"
	"github.com/ledgerwatch/immuxdb/content"
	"github.com/ledgerwatch/immuxdb/txmanager"
	"github.com/ledgerwatch/immuxdb/varint"
)

// OutcomePrefix tags an Outcome's wire variant.
type OutcomePrefix byte

const (
	OutcomePrefixSelectSuccess     OutcomePrefix = 0x11
	OutcomePrefixInspectOneSuccess OutcomePrefix = 0x12
	OutcomePrefixInspectAllSuccess OutcomePrefix = 0x13
	OutcomePrefixInsertSuccess     OutcomePrefix = 0x14
	OutcomePrefixRevertOneSuccess  OutcomePrefix = 0x15
	OutcomePrefixRevertAllSuccess  OutcomePrefix = 0x16
	OutcomePrefixRemoveOneSuccess  OutcomePrefix = 0x17
	OutcomePrefixRemoveAllSuccess  OutcomePrefix = 0x18

	OutcomePrefixTransactionalInsertSuccess    OutcomePrefix = 0x64
	OutcomePrefixTransactionalRevertOneSuccess OutcomePrefix = 0x65
	OutcomePrefixTransactionalRemoveOneSuccess OutcomePrefix = 0x67

	OutcomePrefixCreateTransactionSuccess OutcomePrefix = 0xd0
	OutcomePrefixTransactionCommitSuccess OutcomePrefix = 0xd1
	OutcomePrefixTransactionAbortSuccess  OutcomePrefix = 0xd2
)

// CommandAtHeight pairs a reconstructed Command with the log height it was
// read from — the element type InspectOne/InspectAll return lists of.
type CommandAtHeight struct {
	Command Command
	Height  chainheight.Height
}

// OutcomeKind tags which Outcome variant is populated.
type OutcomeKind byte

const (
	OutcomeKindSelect OutcomeKind = iota
	OutcomeKindInspectOne
	OutcomeKindInspectAll
	OutcomeKindInsertSuccess
	OutcomeKindRevertOneSuccess
	OutcomeKindRevertAllSuccess
	OutcomeKindRemoveOneSuccess
	OutcomeKindRemoveAllSuccess
	OutcomeKindCreateTransaction
	OutcomeKindTransactionalInsertSuccess
	OutcomeKindTransactionalRevertOneSuccess
	OutcomeKindTransactionalRemoveOneSuccess
	OutcomeKindTransactionCommitSuccess
	OutcomeKindTransactionAbortSuccess
)

// Outcome is the tagged union every executor response is lifted into
// before being sent back across a front-end.
type Outcome struct {
	Kind OutcomeKind

	Contents []content.Content
	History  []CommandAtHeight
	TxID     txmanager.ID
}

func OutcomeSelect(contents []content.Content) Outcome {
	return Outcome{Kind: OutcomeKindSelect, Contents: contents}
}

func OutcomeInspectOne(history []CommandAtHeight) Outcome {
	return Outcome{Kind: OutcomeKindInspectOne, History: history}
}

func OutcomeInspectAll(history []CommandAtHeight) Outcome {
	return Outcome{Kind: OutcomeKindInspectAll, History: history}
}

func OutcomeInsertSuccess() Outcome  { return Outcome{Kind: OutcomeKindInsertSuccess} }
func OutcomeRevertOneSuccess() Outcome { return Outcome{Kind: OutcomeKindRevertOneSuccess} }
func OutcomeRevertAllSuccess() Outcome { return Outcome{Kind: OutcomeKindRevertAllSuccess} }
func OutcomeRemoveOneSuccess() Outcome { return Outcome{Kind: OutcomeKindRemoveOneSuccess} }
func OutcomeRemoveAllSuccess() Outcome { return Outcome{Kind: OutcomeKindRemoveAllSuccess} }

func OutcomeCreateTransaction(tx txmanager.ID) Outcome {
	return Outcome{Kind: OutcomeKindCreateTransaction, TxID: tx}
}

func OutcomeTransactionalInsertSuccess() Outcome {
	return Outcome{Kind: OutcomeKindTransactionalInsertSuccess}
}
func OutcomeTransactionalRevertOneSuccess() Outcome {
	return Outcome{Kind: OutcomeKindTransactionalRevertOneSuccess}
}
func OutcomeTransactionalRemoveOneSuccess() Outcome {
	return Outcome{Kind: OutcomeKindTransactionalRemoveOneSuccess}
}
func OutcomeTransactionCommitSuccess() Outcome {
	return Outcome{Kind: OutcomeKindTransactionCommitSuccess}
}
func OutcomeTransactionAbortSuccess() Outcome {
	return Outcome{Kind: OutcomeKindTransactionAbortSuccess}
}

// Marshal returns o's wire encoding.
func (o Outcome) Marshal() []byte {
	switch o.Kind {
	case OutcomeKindSelect:
		out := []byte{byte(OutcomePrefixSelectSuccess)}
		out = append(out, varint.Encode(uint64(len(o.Contents)))...)
		for _, c := range o.Contents {
			out = append(out, c.Marshal()...)
		}
		return out
	case OutcomeKindInspectOne:
		return marshalHistory(OutcomePrefixInspectOneSuccess, o.History)
	case OutcomeKindInspectAll:
		return marshalHistory(OutcomePrefixInspectAllSuccess, o.History)
	case OutcomeKindInsertSuccess:
		return []byte{byte(OutcomePrefixInsertSuccess)}
	case OutcomeKindRevertOneSuccess:
		return []byte{byte(OutcomePrefixRevertOneSuccess)}
	case OutcomeKindRevertAllSuccess:
		return []byte{byte(OutcomePrefixRevertAllSuccess)}
	case OutcomeKindRemoveOneSuccess:
		return []byte{byte(OutcomePrefixRemoveOneSuccess)}
	case OutcomeKindRemoveAllSuccess:
		return []byte{byte(OutcomePrefixRemoveAllSuccess)}
	case OutcomeKindCreateTransaction:
		out := []byte{byte(OutcomePrefixCreateTransactionSuccess)}
		out = append(out, encodeU64(uint64(o.TxID))...)
		return out
	case OutcomeKindTransactionalInsertSuccess:
		return []byte{byte(OutcomePrefixTransactionalInsertSuccess)}
	case OutcomeKindTransactionalRevertOneSuccess:
		return []byte{byte(OutcomePrefixTransactionalRevertOneSuccess)}
	case OutcomeKindTransactionalRemoveOneSuccess:
		return []byte{byte(OutcomePrefixTransactionalRemoveOneSuccess)}
	case OutcomeKindTransactionCommitSuccess:
		return []byte{byte(OutcomePrefixTransactionCommitSuccess)}
	case OutcomeKindTransactionAbortSuccess:
		return []byte{byte(OutcomePrefixTransactionAbortSuccess)}
	default:
		panic(fmt.Sprintf("command: unhandled outcome kind %v", o.Kind))
	}
}

func marshalHistory(prefix OutcomePrefix, history []CommandAtHeight) []byte {
	out := []byte{byte(prefix)}
	out = append(out, varint.Encode(uint64(len(history)))...)
	for _, entry := range history {
		out = append(out, entry.Command.Marshal()...)
		out = append(out, encodeU64(uint64(entry.Height))...)
	}
	return out
}

// ParseOutcome decodes an Outcome from the front of data, returning the
// value and the number of bytes consumed.
func ParseOutcome(data []byte) (Outcome, int, error) {
	if len(data) < 1 {
		return Outcome{}, 0, ErrTruncated
	}
	prefix := OutcomePrefix(data[0])
	pos := 1

	switch prefix {
	case OutcomePrefixSelectSuccess:
		count, n, err := varint.Decode(data[pos:])
		if err != nil {
			return Outcome{}, 0, err
		}
		pos += n
		var contents []content.Content
		for i := uint64(0); i < count; i++ {
			c, n, err := content.Parse(data[pos:])
			if err != nil {
				return Outcome{}, 0, err
			}
			pos += n
			contents = append(contents, c)
		}
		return OutcomeSelect(contents), pos, nil
	case OutcomePrefixInspectOneSuccess, OutcomePrefixInspectAllSuccess:
		count, n, err := varint.Decode(data[pos:])
		if err != nil {
			return Outcome{}, 0, err
		}
		pos += n
		var history []CommandAtHeight
		for i := uint64(0); i < count; i++ {
			cmd, n, err := Parse(data[pos:])
			if err != nil {
				return Outcome{}, 0, err
			}
			pos += n
			height, err := decodeU64(data[pos:])
			if err != nil {
				return Outcome{}, 0, err
			}
			pos += 8
			history = append(history, CommandAtHeight{Command: cmd, Height: chainheight.New(height)})
		}
		if prefix == OutcomePrefixInspectOneSuccess {
			return OutcomeInspectOne(history), pos, nil
		}
		return OutcomeInspectAll(history), pos, nil
	case OutcomePrefixInsertSuccess:
		return OutcomeInsertSuccess(), pos, nil
	case OutcomePrefixRevertOneSuccess:
		return OutcomeRevertOneSuccess(), pos, nil
	case OutcomePrefixRevertAllSuccess:
		return OutcomeRevertAllSuccess(), pos, nil
	case OutcomePrefixRemoveOneSuccess:
		return OutcomeRemoveOneSuccess(), pos, nil
	case OutcomePrefixRemoveAllSuccess:
		return OutcomeRemoveAllSuccess(), pos, nil
	case OutcomePrefixCreateTransactionSuccess:
		v, err := decodeU64(data[pos:])
		if err != nil {
			return Outcome{}, 0, err
		}
		pos += 8
		return OutcomeCreateTransaction(txmanager.ID(v)), pos, nil
	case OutcomePrefixTransactionalInsertSuccess:
		return OutcomeTransactionalInsertSuccess(), pos, nil
	case OutcomePrefixTransactionalRevertOneSuccess:
		return OutcomeTransactionalRevertOneSuccess(), pos, nil
	case OutcomePrefixTransactionalRemoveOneSuccess:
		return OutcomeTransactionalRemoveOneSuccess(), pos, nil
	case OutcomePrefixTransactionCommitSuccess:
		return OutcomeTransactionCommitSuccess(), pos, nil
	case OutcomePrefixTransactionAbortSuccess:
		return OutcomeTransactionAbortSuccess(), pos, nil
	default:
		return Outcome{}, 0, fmt.Errorf("%w: outcome %#x", ErrInvalidPrefix, byte(prefix))
	}
}

// String renders o the way the original engine's debug output does,
// useful for server logging.
func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeKindSelect:
		return fmt.Sprintf("Select(%d items)", len(o.Contents))
	case OutcomeKindInspectOne:
		return fmt.Sprintf("InspectOne(%d records)", len(o.History))
	case OutcomeKindInspectAll:
		return fmt.Sprintf("InspectAll(%d records)", len(o.History))
	case OutcomeKindCreateTransaction:
		return fmt.Sprintf("CreateTransaction(%d)", o.TxID)
	default:
		return "Success"
	}
}
