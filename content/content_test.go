package content

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalParseReversibility(t *testing.T) {
	cases := []Content{
		Nil(),
		Bool(true),
		Bool(false),
		Float64(1.5),
		String("hello"),
		String(""),
		Array([]Content{Nil(), String("hello"), Bool(true), Float64(1.5), Array([]Content{Nil()})}),
		Map(map[string]Content{
			"brand": String("apple"),
			"price": Float64(4000),
		}),
	}

	for _, c := range cases {
		data := c.Marshal()
		got, n, err := Parse(data)
		require.NoError(t, err)
		require.Equal(t, len(data), n)
		require.True(t, Equal(c, got))
	}
}

func TestKnownEncodings(t *testing.T) {
	require.Equal(t, []byte{0x00}, Nil().Marshal())
	require.Equal(t, []byte{0x11, 0x01}, Bool(true).Marshal())
	require.Equal(t, []byte{0x11, 0x00}, Bool(false).Marshal())
	require.Equal(t, []byte{0x12, 0, 0, 0, 0, 0, 0, 0xf8, 0x3f}, Float64(1.5).Marshal())
	require.Equal(t, []byte{0x10, 0x05, 0x68, 0x65, 0x6c, 0x6c, 0x6f}, String("hello").Marshal())
}

func TestParseRejectsUnknownPrefix(t *testing.T) {
	_, _, err := Parse([]byte{0xaa, 0x01, 0x02, 0x03})
	require.ErrorIs(t, err, ErrUnexpectedTypePrefix)
}

func TestParseRejectsTruncatedBool(t *testing.T) {
	_, _, err := Parse([]byte{0x11})
	require.ErrorIs(t, err, ErrMissingDataBytes)
}

func TestParseRejectsEmptyInput(t *testing.T) {
	_, _, err := Parse(nil)
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestCompareOnlyOrdersFloats(t *testing.T) {
	cmp, ok := Compare(Float64(1), Float64(2))
	require.True(t, ok)
	require.Equal(t, -1, cmp)

	_, ok = Compare(String("a"), String("b"))
	require.False(t, ok)
}

func TestMapEqualityIsUnordered(t *testing.T) {
	a := Map(map[string]Content{"x": Float64(1), "y": Float64(2)})
	b := Map(map[string]Content{"y": Float64(2), "x": Float64(1)})
	require.True(t, Equal(a, b))
}
