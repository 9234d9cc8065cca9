package instruction

import (
	"testing"

	"github.com/ledgerwatch/immuxdb/chainheight"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, i Instruction) {
	t.Helper()
	data := i.Serialize()
	got, n, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, i, got)
}

func TestSerializeParseReversibility(t *testing.T) {
	roundTrip(t, Set([]byte{0x00, 0x01}, []byte{0xff, 0xf3}))
	roundTrip(t, RevertOne([]byte{0x11, 0x22}, chainheight.New(3)))
	roundTrip(t, RevertAll(chainheight.New(6)))
	roundTrip(t, RemoveOne([]byte{0x88}))
	roundTrip(t, RemoveAll())
	roundTrip(t, TransactionStart(42))
	roundTrip(t, TransactionalSet([]byte("a"), []byte("b"), 7))
	roundTrip(t, TransactionalRevertOne([]byte("a"), chainheight.New(2), 7))
	roundTrip(t, TransactionalRemoveOne([]byte("a"), 7))
	roundTrip(t, TransactionCommit(7))
	roundTrip(t, TransactionAbort(7))
}

func TestParseUnknownPrefix(t *testing.T) {
	_, _, err := Parse([]byte{0xaa})
	require.ErrorIs(t, err, ErrUnknownPrefix)
}

func TestParseEmpty(t *testing.T) {
	_, _, err := Parse(nil)
	require.ErrorIs(t, err, ErrMissingPrefixByte)
}

func TestBufferParserStopsAtTruncation(t *testing.T) {
	instructions := []Instruction{
		Set([]byte{0x00, 0x01}, []byte{0xff, 0xf3}),
		RevertOne([]byte{0x11, 0x22}, chainheight.New(3)),
		RemoveAll(),
	}

	var buf []byte
	for _, i := range instructions {
		buf = append(buf, i.Serialize()...)
	}
	buf = append(buf, 0xff, 0x00, 0xfa)

	pos := 0
	parsed := 0
	for {
		i, n, err := Parse(buf[pos:])
		if err != nil {
			break
		}
		require.Equal(t, instructions[parsed], i)
		pos += n
		parsed++
	}
	require.Equal(t, len(instructions), parsed)
}
