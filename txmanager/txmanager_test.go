package txmanager

import (
	"testing"

	"github.com/ledgerwatch/immuxdb/logio"
	"github.com/stretchr/testify/require"
)

func TestGenerateNewTransactionIDIncrements(t *testing.T) {
	m := New()
	id1, err := m.GenerateNewTransactionID()
	require.NoError(t, err)
	id2, err := m.GenerateNewTransactionID()
	require.NoError(t, err)
	require.Equal(t, id1+1, id2)
}

func TestGenerateNewTransactionIDExhaustion(t *testing.T) {
	m := New()
	m.currentID = MaxTransactionID
	_, err := m.GenerateNewTransactionID()
	require.ErrorIs(t, err, ErrTransactionIDOutOfRange)
}

func TestValidateUnknownTransaction(t *testing.T) {
	m := New()
	err := m.Validate(999)
	require.ErrorIs(t, err, ErrTransactionNotAlive)
}

func TestInitializeAndAddAffectedKey(t *testing.T) {
	m := New()
	id, err := m.GenerateNewTransactionID()
	require.NoError(t, err)
	m.InitializeTransaction(id, map[string]logio.Pointer{"a": {Offset: 3, Length: 10}})
	require.NoError(t, m.Validate(id))

	require.NoError(t, m.AddAffectedKey(id, []byte("a")))
	meta, err := m.Metadata(id)
	require.NoError(t, err)
	_, ok := meta.AffectedKeys["a"]
	require.True(t, ok)
	require.NotEmpty(t, meta.CorrelationID)
}

func TestAddAffectedKeyRejectsDeadTransaction(t *testing.T) {
	m := New()
	err := m.AddAffectedKey(42, []byte("a"))
	require.ErrorIs(t, err, ErrTransactionNotAlive)
}

func lookup(m map[string]logio.Pointer) func(string) (logio.Pointer, bool) {
	return func(key string) (logio.Pointer, bool) {
		p, ok := m[key]
		return p, ok
	}
}

func TestCheckLostUpdateAcceptsUncontendedCommit(t *testing.T) {
	m := New()
	id, _ := m.GenerateNewTransactionID()
	snap := map[string]logio.Pointer{"a": {Offset: 3, Length: 10}}
	m.InitializeTransaction(id, snap)
	require.NoError(t, m.AddAffectedKey(id, []byte("a")))

	err := m.CheckLostUpdate(id, lookup(snap))
	require.NoError(t, err)
}

func TestCheckLostUpdateRejectsConcurrentCommit(t *testing.T) {
	m := New()
	id, _ := m.GenerateNewTransactionID()
	m.InitializeTransaction(id, map[string]logio.Pointer{"a": {Offset: 3, Length: 10}})
	require.NoError(t, m.AddAffectedKey(id, []byte("a")))

	// Some other writer committed key "a" again after our snapshot was taken.
	err := m.CheckLostUpdate(id, lookup(map[string]logio.Pointer{"a": {Offset: 50, Length: 10}}))
	require.ErrorIs(t, err, ErrWriteWriteConflict)
}

func TestCheckLostUpdateRejectsConcurrentCreation(t *testing.T) {
	m := New()
	id, _ := m.GenerateNewTransactionID()
	m.InitializeTransaction(id, map[string]logio.Pointer{})
	require.NoError(t, m.AddAffectedKey(id, []byte("new-key")))

	err := m.CheckLostUpdate(id, lookup(map[string]logio.Pointer{"new-key": {Offset: 0, Length: 10}}))
	require.ErrorIs(t, err, ErrWriteWriteConflict)
}

func TestCheckLostUpdateUnknownTransaction(t *testing.T) {
	m := New()
	err := m.CheckLostUpdate(7, lookup(nil))
	require.ErrorIs(t, err, ErrTransactionNotAlive)
}

func TestRemoveTransaction(t *testing.T) {
	m := New()
	id, _ := m.GenerateNewTransactionID()
	m.InitializeTransaction(id, nil)
	require.True(t, m.Live(id))
	m.RemoveTransaction(id)
	require.False(t, m.Live(id))
}
