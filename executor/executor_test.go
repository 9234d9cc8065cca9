package executor

import (
	"context"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/ledgerwatch/immuxdb/chainheight"
	"github.com/ledgerwatch/immuxdb/command"
	"github.com/ledgerwatch/immuxdb/config"
	"github.com/ledgerwatch/immuxdb/content"
	"github.com/ledgerwatch/immuxdb/ecc"
	"github.com/ledgerwatch/immuxdb/grouping"
	"github.com/ledgerwatch/immuxdb/storeengine"
	"github.com/stretchr/testify/require"
)

func openTestExecutor(t *testing.T) *Executor {
	t.Helper()
	return openTestExecutorWithMaxKeySize(t, config.DefaultMaxKeySize)
}

func openTestExecutorWithMaxKeySize(t *testing.T, maxKeySize uint64) *Executor {
	t.Helper()
	engine, err := storeengine.Open(t.TempDir(), ecc.Identity)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	srv := storeengine.NewServer(engine)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx)
	t.Cleanup(cancel)

	return New(srv, maxKeySize)
}

func TestInsertAndGet(t *testing.T) {
	ctx := context.Background()
	x := openTestExecutor(t)
	label := grouping.LabelFromString("phones")
	key := grouping.UnitKeyFromString("iphone-12")

	require.NoError(t, x.Insert(ctx, label, key, content.String("hello"), nil))

	got, ok, err := x.Get(ctx, label, key, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, content.Equal(content.String("hello"), got), spew.Sdump(got))
}

func TestGetMissingKey(t *testing.T) {
	ctx := context.Background()
	x := openTestExecutor(t)
	_, ok, err := x.Get(ctx, grouping.LabelFromString("phones"), grouping.UnitKeyFromString("missing"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSelectUnconditionalScansGrouping(t *testing.T) {
	ctx := context.Background()
	x := openTestExecutor(t)
	label := grouping.LabelFromString("phones")
	require.NoError(t, x.Insert(ctx, label, grouping.UnitKeyFromString("a"), content.Float64(1), nil))
	require.NoError(t, x.Insert(ctx, label, grouping.UnitKeyFromString("b"), content.Float64(2), nil))
	require.NoError(t, x.Insert(ctx, grouping.LabelFromString("other"), grouping.UnitKeyFromString("c"), content.Float64(3), nil))

	out, err := x.Select(ctx, label, command.SelectAll())
	require.NoError(t, err)
	require.Equal(t, command.OutcomeKindSelect, out.Kind)
	require.Len(t, out.Contents, 2)
}

func TestSelectWithFilter(t *testing.T) {
	ctx := context.Background()
	x := openTestExecutor(t)
	label := grouping.LabelFromString("phones")
	require.NoError(t, x.Insert(ctx, label, grouping.UnitKeyFromString("a"), content.Map(map[string]content.Content{"price": content.Float64(100)}), nil))
	require.NoError(t, x.Insert(ctx, label, grouping.UnitKeyFromString("b"), content.Map(map[string]content.Content{"price": content.Float64(900)}), nil))

	out, err := x.Select(ctx, label, command.SelectWithFilter("this.price>500"))
	require.NoError(t, err)
	require.Len(t, out.Contents, 1)
}

func TestRevertOneRoundTripsThroughExecutor(t *testing.T) {
	ctx := context.Background()
	x := openTestExecutor(t)
	label := grouping.LabelFromString("phones")
	key := grouping.UnitKeyFromString("a")

	for i := 0; i < 3; i++ {
		require.NoError(t, x.Insert(ctx, label, key, content.Float64(float64(i)), nil))
	}
	require.NoError(t, x.RevertOne(ctx, label, key, chainheight.New(1), nil))

	got, ok, err := x.Get(ctx, label, key, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, content.Equal(content.Float64(1), got))
}

func TestRemoveOneThenGetMisses(t *testing.T) {
	ctx := context.Background()
	x := openTestExecutor(t)
	label := grouping.LabelFromString("phones")
	key := grouping.UnitKeyFromString("a")
	require.NoError(t, x.Insert(ctx, label, key, content.String("v"), nil))
	require.NoError(t, x.RemoveOne(ctx, label, key, nil))

	_, ok, err := x.Get(ctx, label, key, nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInspectOneLiftsHistoryToCommands(t *testing.T) {
	ctx := context.Background()
	x := openTestExecutor(t)
	label := grouping.LabelFromString("phones")
	key := grouping.UnitKeyFromString("a")
	require.NoError(t, x.Insert(ctx, label, key, content.String("v1"), nil))
	require.NoError(t, x.RemoveOne(ctx, label, key, nil))

	out, err := x.InspectOne(ctx, label, key)
	require.NoError(t, err)
	require.Equal(t, command.OutcomeKindInspectOne, out.Kind)
	require.Len(t, out.History, 2)
	require.Equal(t, command.Insert(label, key, content.String("v1")), out.History[0].Command)
	require.Equal(t, command.RemoveOne(label, key), out.History[1].Command)
}

func TestTransactionLifecycleThroughExecutor(t *testing.T) {
	ctx := context.Background()
	x := openTestExecutor(t)
	label := grouping.LabelFromString("phones")
	key := grouping.UnitKeyFromString("a")
	require.NoError(t, x.Insert(ctx, label, key, content.String("initial"), nil))

	tx, err := x.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, x.Insert(ctx, label, key, content.String("tentative"), &tx))

	// Non-transactional readers still see the pre-transaction value.
	got, ok, err := x.Get(ctx, label, key, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, content.Equal(content.String("initial"), got))

	require.NoError(t, x.CommitTransaction(ctx, tx))

	got, ok, err = x.Get(ctx, label, key, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, content.Equal(content.String("tentative"), got))
}

func TestAbortTransactionDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	x := openTestExecutor(t)
	label := grouping.LabelFromString("phones")
	key := grouping.UnitKeyFromString("a")
	require.NoError(t, x.Insert(ctx, label, key, content.String("initial"), nil))

	tx, err := x.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, x.Insert(ctx, label, key, content.String("tentative"), &tx))
	require.NoError(t, x.AbortTransaction(ctx, tx))

	got, ok, err := x.Get(ctx, label, key, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, content.Equal(content.String("initial"), got))
}

func TestExecuteDispatchesInsertCommand(t *testing.T) {
	ctx := context.Background()
	x := openTestExecutor(t)
	label := grouping.LabelFromString("phones")
	key := grouping.UnitKeyFromString("a")

	out, err := x.Execute(ctx, command.Insert(label, key, content.String("v")))
	require.NoError(t, err)
	require.Equal(t, command.OutcomeKindInsertSuccess, out.Kind)

	out, err = x.Execute(ctx, command.Select(label, command.SelectByKey(key, nil)))
	require.NoError(t, err)
	require.Len(t, out.Contents, 1)
}

func TestInsertRejectsKeyExceedingMaxLength(t *testing.T) {
	ctx := context.Background()
	x := openTestExecutorWithMaxKeySize(t, 8)
	label := grouping.LabelFromString("phones")
	key := grouping.UnitKeyFromString("iphone-12-pro-max")

	err := x.Insert(ctx, label, key, content.String("v"), nil)
	require.ErrorIs(t, err, ErrKeyExceedsMaxLength)
}

func TestInsertAllowsKeyWithinMaxLength(t *testing.T) {
	ctx := context.Background()
	x := openTestExecutorWithMaxKeySize(t, 64)
	label := grouping.LabelFromString("phones")
	key := grouping.UnitKeyFromString("a")

	require.NoError(t, x.Insert(ctx, label, key, content.String("v"), nil))
}
