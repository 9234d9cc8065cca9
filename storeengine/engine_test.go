package storeengine

import (
	"path/filepath"
	"testing"

	"github.com/ledgerwatch/immuxdb/chainheight"
	"github.com/ledgerwatch/immuxdb/ecc"
	"github.com/ledgerwatch/immuxdb/txmanager"
	"github.com/stretchr/testify/require"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(dir, ecc.Identity)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// S1 — Round trip.
func TestScenarioRoundTrip(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Set([]byte("k"), []byte("v1"), nil))
	v, ok, err := e.Get([]byte("k"), nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)
}

// S2 — Revert one.
func TestScenarioRevertOne(t *testing.T) {
	e := openTestEngine(t)
	values := []string{"0", "1", "2", "3", "4", "5"}
	for _, v := range values {
		require.NoError(t, e.Set([]byte("k"), []byte(v), nil))
	}
	require.NoError(t, e.RevertOne([]byte("k"), chainheight.New(2), nil))

	v, ok, err := e.Get([]byte("k"), nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), v)
}

// S3 — Revert all selective.
func TestScenarioRevertAllSelective(t *testing.T) {
	e := openTestEngine(t)
	writes := []struct {
		key, val string
	}{
		{"a", "0"}, {"a", "ff"}, {"a", "22"}, {"b", "1"}, {"a", "19"},
		{"c", "2"}, {"d", "3"}, {"e", "4"}, {"f", "5"},
	}
	for _, w := range writes {
		require.NoError(t, e.Set([]byte(w.key), []byte(w.val), nil))
	}

	require.NoError(t, e.RevertAll(chainheight.New(5)))

	expectGet(t, e, "a", "19", true)
	expectGet(t, e, "b", "1", true)
	expectGet(t, e, "c", "2", true)
	expectGet(t, e, "d", "", false)
	expectGet(t, e, "e", "", false)
	expectGet(t, e, "f", "", false)
}

func expectGet(t *testing.T, e *Engine, key, want string, wantOK bool) {
	t.Helper()
	v, ok, err := e.Get([]byte(key), nil)
	require.NoError(t, err)
	require.Equal(t, wantOK, ok)
	if wantOK {
		require.Equal(t, want, string(v))
	}
}

// S4 — Snapshot isolation, dirty read blocked.
func TestScenarioDirtyReadBlocked(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Set([]byte("a"), []byte("1"), nil))

	tx, err := e.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, e.Set([]byte("a"), []byte("2"), &tx))

	expectGet(t, e, "a", "1", true)

	require.NoError(t, e.CommitTransaction(tx))
	expectGet(t, e, "a", "2", true)
}

// S5 (corrected) — first-committer-wins: the second conflicting commit
// is rejected, per Open Question 1's deliberate deviation from the
// source's always-accepting check_lost_update.
func TestScenarioFirstCommitterWins(t *testing.T) {
	e := openTestEngine(t)

	t1, err := e.BeginTransaction()
	require.NoError(t, err)
	t2, err := e.BeginTransaction()
	require.NoError(t, err)

	require.NoError(t, e.Set([]byte("a"), []byte("1"), &t1))
	require.NoError(t, e.Set([]byte("b"), []byte("2"), &t1))
	require.NoError(t, e.Set([]byte("c"), []byte("3"), &t1))

	require.NoError(t, e.Set([]byte("a"), []byte("100"), &t2))
	require.NoError(t, e.Set([]byte("b"), []byte("200"), &t2))
	require.NoError(t, e.Set([]byte("c"), []byte("300"), &t2))

	require.NoError(t, e.CommitTransaction(t1))

	err = e.CommitTransaction(t2)
	require.ErrorIs(t, err, txmanager.ErrWriteWriteConflict)

	expectGet(t, e, "a", "1", true)
	expectGet(t, e, "b", "2", true)
	expectGet(t, e, "c", "3", true)
}

func TestAbortDiscardsTentativeWrites(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Set([]byte("a"), []byte("1"), nil))

	tx, err := e.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, e.Set([]byte("a"), []byte("2"), &tx))
	require.NoError(t, e.AbortTransaction(tx))

	expectGet(t, e, "a", "1", true)

	err = e.CommitTransaction(tx)
	require.ErrorIs(t, err, txmanager.ErrTransactionNotAlive)
}

func TestRevertAllKillsLiveTransactions(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Set([]byte("a"), []byte("1"), nil))

	tx, err := e.BeginTransaction()
	require.NoError(t, err)

	require.NoError(t, e.RevertAll(chainheight.New(0)))

	err = e.CommitTransaction(tx)
	require.ErrorIs(t, err, txmanager.ErrTransactionNotAlive)
}

func TestRevertOutOfRange(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Set([]byte("a"), []byte("1"), nil))

	err := e.RevertAll(chainheight.New(99))
	require.ErrorIs(t, err, ErrRevertOutOfRange)
}

// Universal invariant 1: state survives a reopen.
func TestReopenPreservesState(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	e, err := Open(dir, ecc.Identity)
	require.NoError(t, err)
	require.NoError(t, e.Set([]byte("k"), []byte("v"), nil))
	require.NoError(t, e.RemoveOne([]byte("ghost"), nil))
	require.NoError(t, e.Close())

	reopened, err := Open(dir, ecc.Identity)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.Get([]byte("k"), nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)
}

func TestRemoveAllClearsEverything(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Set([]byte("a"), []byte("1"), nil))
	require.NoError(t, e.Set([]byte("b"), []byte("2"), nil))
	require.NoError(t, e.RemoveAll())

	expectGet(t, e, "a", "", false)
	expectGet(t, e, "b", "", false)
}

// A committed TransactionalRemoveOne must make the key disappear from a
// live Get the same way a non-transactional RemoveOne does, and the same
// way replaying the log from scratch would (Universal Invariant 1).
func TestTransactionalRemoveOneThenCommitThenGet(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Set([]byte("a"), []byte("1"), nil))

	tx, err := e.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, e.RemoveOne([]byte("a"), &tx))
	require.NoError(t, e.CommitTransaction(tx))

	expectGet(t, e, "a", "", false)
}

func TestInspectOneIncludesLaterRemoveAll(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Set([]byte("a"), []byte("1"), nil))
	require.NoError(t, e.Set([]byte("b"), []byte("2"), nil))
	require.NoError(t, e.RemoveAll())

	records, err := e.InspectOne([]byte("a"))
	require.NoError(t, err)
	require.Len(t, records, 2)
}
