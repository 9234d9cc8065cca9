package command

import (
	"testing"

	"github.com/ledgerwatch/immuxdb/chainheight"
	"github.com/ledgerwatch/immuxdb/content"
	"github.com/ledgerwatch/immuxdb/grouping"
	"github.com/ledgerwatch/immuxdb/txmanager"
	"github.com/stretchr/testify/require"
)

func roundTripCommand(t *testing.T, c Command) {
	t.Helper()
	data := c.Marshal()
	got, n, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, c, got)
}

func TestCommandRoundTripInsert(t *testing.T) {
	roundTripCommand(t, Insert(
		grouping.LabelFromString("phones"),
		grouping.UnitKeyFromString("iphone-12"),
		content.String("hello"),
	))
}

func TestCommandRoundTripSelectByKey(t *testing.T) {
	roundTripCommand(t, Select(
		grouping.LabelFromString("phones"),
		SelectByKey(grouping.UnitKeyFromString("iphone-12"), nil),
	))
}

func TestCommandRoundTripSelectByKeyWithTransaction(t *testing.T) {
	tx := txmanager.ID(42)
	roundTripCommand(t, Select(
		grouping.LabelFromString("phones"),
		SelectByKey(grouping.UnitKeyFromString("iphone-12"), &tx),
	))
}

func TestCommandRoundTripSelectUnconditional(t *testing.T) {
	roundTripCommand(t, Select(grouping.LabelFromString("phones"), SelectAll()))
}

func TestCommandRoundTripSelectFilter(t *testing.T) {
	roundTripCommand(t, Select(
		grouping.LabelFromString("phones"),
		SelectWithFilter("this.price>100"),
	))
}

func TestCommandRoundTripInspectOne(t *testing.T) {
	roundTripCommand(t, InspectOne(grouping.LabelFromString("phones"), grouping.UnitKeyFromString("iphone-12")))
}

func TestCommandRoundTripInspectAll(t *testing.T) {
	roundTripCommand(t, InspectAll())
}

func TestCommandRoundTripRevertOne(t *testing.T) {
	roundTripCommand(t, RevertOne(
		grouping.LabelFromString("phones"),
		grouping.UnitKeyFromString("iphone-12"),
		chainheight.New(7),
	))
}

func TestCommandRoundTripRevertAll(t *testing.T) {
	roundTripCommand(t, RevertAll(chainheight.New(7)))
}

func TestCommandRoundTripRemoveOne(t *testing.T) {
	roundTripCommand(t, RemoveOne(grouping.LabelFromString("phones"), grouping.UnitKeyFromString("iphone-12")))
}

func TestCommandRoundTripRemoveAll(t *testing.T) {
	roundTripCommand(t, RemoveAll())
}

func TestCommandRoundTripCreateTransaction(t *testing.T) {
	roundTripCommand(t, CreateTransaction())
}

func TestCommandRoundTripTransactionalInsert(t *testing.T) {
	roundTripCommand(t, TransactionalInsert(
		grouping.LabelFromString("phones"),
		grouping.UnitKeyFromString("iphone-12"),
		content.Float64(999),
		txmanager.ID(3),
	))
}

func TestCommandRoundTripTransactionalRevertOne(t *testing.T) {
	roundTripCommand(t, TransactionalRevertOne(
		grouping.LabelFromString("phones"),
		grouping.UnitKeyFromString("iphone-12"),
		chainheight.New(2),
		txmanager.ID(3),
	))
}

func TestCommandRoundTripTransactionalRemoveOne(t *testing.T) {
	roundTripCommand(t, TransactionalRemoveOne(
		grouping.LabelFromString("phones"),
		grouping.UnitKeyFromString("iphone-12"),
		txmanager.ID(3),
	))
}

func TestCommandRoundTripTransactionCommit(t *testing.T) {
	roundTripCommand(t, TransactionCommit(txmanager.ID(3)))
}

func TestCommandRoundTripTransactionAbort(t *testing.T) {
	roundTripCommand(t, TransactionAbort(txmanager.ID(3)))
}

func TestCommandParseRejectsUnknownPrefix(t *testing.T) {
	_, _, err := Parse([]byte{0xFF})
	require.ErrorIs(t, err, ErrInvalidPrefix)
}

func TestCommandParseRejectsEmptyInput(t *testing.T) {
	_, _, err := Parse(nil)
	require.ErrorIs(t, err, ErrTruncated)
}

func roundTripOutcome(t *testing.T, o Outcome) {
	t.Helper()
	data := o.Marshal()
	got, n, err := ParseOutcome(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, o, got)
}

func TestOutcomeRoundTripSelect(t *testing.T) {
	roundTripOutcome(t, OutcomeSelect([]content.Content{
		content.String("a"),
		content.Float64(1),
		content.Bool(true),
	}))
}

func TestOutcomeRoundTripSelectEmpty(t *testing.T) {
	roundTripOutcome(t, OutcomeSelect(nil))
}

func TestOutcomeRoundTripInspectOne(t *testing.T) {
	roundTripOutcome(t, OutcomeInspectOne([]CommandAtHeight{
		{
			Command: Insert(grouping.LabelFromString("phones"), grouping.UnitKeyFromString("iphone-12"), content.String("v1")),
			Height:  chainheight.New(0),
		},
		{
			Command: RemoveOne(grouping.LabelFromString("phones"), grouping.UnitKeyFromString("iphone-12")),
			Height:  chainheight.New(1),
		},
	}))
}

func TestOutcomeRoundTripInspectAll(t *testing.T) {
	roundTripOutcome(t, OutcomeInspectAll(nil))
}

func TestOutcomeRoundTripCreateTransaction(t *testing.T) {
	roundTripOutcome(t, OutcomeCreateTransaction(txmanager.ID(11)))
}

func TestOutcomeRoundTripSuccessVariants(t *testing.T) {
	roundTripOutcome(t, OutcomeInsertSuccess())
	roundTripOutcome(t, OutcomeRevertOneSuccess())
	roundTripOutcome(t, OutcomeRevertAllSuccess())
	roundTripOutcome(t, OutcomeRemoveOneSuccess())
	roundTripOutcome(t, OutcomeRemoveAllSuccess())
	roundTripOutcome(t, OutcomeTransactionalInsertSuccess())
	roundTripOutcome(t, OutcomeTransactionalRevertOneSuccess())
	roundTripOutcome(t, OutcomeTransactionalRemoveOneSuccess())
	roundTripOutcome(t, OutcomeTransactionCommitSuccess())
	roundTripOutcome(t, OutcomeTransactionAbortSuccess())
}

func TestOutcomeParseRejectsUnknownPrefix(t *testing.T) {
	_, _, err := ParseOutcome([]byte{0xFF})
	require.ErrorIs(t, err, ErrInvalidPrefix)
}
