package predicate

import (
	"testing"

	"github.com/ledgerwatch/immuxdb/content"
	"github.com/stretchr/testify/require"
)

func TestTokenizeSimple(t *testing.T) {
	tokens := tokenize("this.hello>1")
	require.Equal(t, []token{
		{kind: tokThis},
		{kind: tokDot},
		{kind: tokIdentifier, text: "hello"},
		{kind: tokGreaterThan},
		{kind: tokContentString, text: "1"},
	}, tokens)
}

func TestTokenizeWithSpaces(t *testing.T) {
	tokens := tokenize("this. hello > 1")
	require.Equal(t, []token{
		{kind: tokThis},
		{kind: tokDot},
		{kind: tokIdentifier, text: "hello"},
		{kind: tokGreaterThan},
		{kind: tokContentString, text: "1"},
	}, tokens)
}

func TestTokenizeComplex(t *testing.T) {
	tokens := tokenize("this.A=='wow'||this.B>=1&&this.C<1")
	require.Equal(t, []token{
		{kind: tokThis},
		{kind: tokDot},
		{kind: tokIdentifier, text: "A"},
		{kind: tokEqual},
		{kind: tokContentString, text: "'wow'"},
		{kind: tokOr},
		{kind: tokThis},
		{kind: tokDot},
		{kind: tokIdentifier, text: "B"},
		{kind: tokGreaterThanOrEqual},
		{kind: tokContentString, text: "1"},
		{kind: tokAnd},
		{kind: tokThis},
		{kind: tokDot},
		{kind: tokIdentifier, text: "C"},
		{kind: tokLessThan},
		{kind: tokContentString, text: "1"},
	}, tokens)
}

func TestParseStringPrimitive(t *testing.T) {
	p, err := ParseString("this.hello>1")
	require.NoError(t, err)
	require.Equal(t, NewPrimitive(FieldPath{"hello"}, RelationGreaterThan, content.Float64(1)), p)
}

func TestParseStringCompoundOr(t *testing.T) {
	p, err := ParseString("this.hello.world>1||this.name==\"world\"")
	require.NoError(t, err)
	want := Or(
		NewPrimitive(FieldPath{"hello", "world"}, RelationGreaterThan, content.Float64(1)),
		NewPrimitive(FieldPath{"name"}, RelationEqual, content.String("world")),
	)
	require.Equal(t, want, p)
}

func TestParseStringOrSplitsBeforeAnd(t *testing.T) {
	// No parentheses: the first || found anywhere splits the whole
	// expression in two before any && is considered, so && binds tighter.
	p, err := ParseString("this.a==1||this.b==2&&this.c==3")
	require.NoError(t, err)
	want := Or(
		NewPrimitive(FieldPath{"a"}, RelationEqual, content.Float64(1)),
		And(
			NewPrimitive(FieldPath{"b"}, RelationEqual, content.Float64(2)),
			NewPrimitive(FieldPath{"c"}, RelationEqual, content.Float64(3)),
		),
	)
	require.Equal(t, want, p)
}

func TestCheckSatisfiesSimplePredicate(t *testing.T) {
	p := NewPrimitive(FieldPath{"x"}, RelationEqual, content.Float64(1.0))
	c := content.Map(map[string]content.Content{"x": content.Float64(1.0)})
	require.True(t, p.Check(c))
}

func TestCheckRejectsSimplePredicate(t *testing.T) {
	p := NewPrimitive(FieldPath{"x"}, RelationEqual, content.Float64(2.0))
	c := content.Map(map[string]content.Content{"x": content.Float64(1.0)})
	require.False(t, p.Check(c))
}

func TestCheckWholeWorkflow(t *testing.T) {
	p, err := ParseString("this.x==1&&this.y==2")
	require.NoError(t, err)

	correct := content.Map(map[string]content.Content{
		"x": content.Float64(1.0),
		"y": content.Float64(2.0),
	})
	require.True(t, p.Check(correct))

	wrong := content.Map(map[string]content.Content{
		"x": content.String("1"),
		"y": content.Float64(2.0),
	})
	require.False(t, p.Check(wrong))
}

func TestMarshalParseRoundTripPrimitive(t *testing.T) {
	p := NewPrimitive(FieldPath{"hello"}, RelationEqual, content.String("data"))
	data := p.Marshal()

	parsed, n, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, p, parsed)
}

func TestMarshalParseRoundTripCompound(t *testing.T) {
	p := And(
		NewPrimitive(FieldPath{"name"}, RelationEqual, content.String("han")),
		Not(NewPrimitive(FieldPath{"alive"}, RelationEqual, content.Bool(true))),
	)
	data := p.Marshal()

	parsed, n, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, p, parsed)
}

func TestParseRejectsEmptyInput(t *testing.T) {
	_, _, err := Parse(nil)
	require.ErrorIs(t, err, ErrInsufficientBytes)
}

func TestParseRejectsUnknownPrefix(t *testing.T) {
	_, _, err := Parse([]byte{0xFF})
	require.ErrorIs(t, err, ErrUnexpectedPrefix)
}

func TestFieldPathString(t *testing.T) {
	require.Equal(t, "this.hello.world", FieldPath{"hello", "world"}.String())
	require.Equal(t, "this", FieldPath{}.String())
}

func TestValueAtPathMissingFieldIsNil(t *testing.T) {
	p := NewPrimitive(FieldPath{"missing"}, RelationEqual, content.Nil())
	c := content.Map(map[string]content.Content{"x": content.Float64(1.0)})
	require.True(t, p.Check(c))
}
