// Package predicate implements filter expressions evaluated against a
// content.Content value (§4.6): a small JS-like boolean grammar over
// this.<field>.<subfield> paths, used by the `filter` query parameter on
// group scans.
package predicate

import (
	"errors"
	"strings"

	"github.com/ledgerwatch/immuxdb/content"
)

// ErrUnexpectedToken is returned when the token stream doesn't match any
// grammar rule the parser recognizes.
var ErrUnexpectedToken = errors.New("predicate: unexpected token")

// ErrMalformedTokens is returned when a primitive predicate's tokens
// carry no relation or no literal.
var ErrMalformedTokens = errors.New("predicate: malformed tokens")

// Relation names a primitive predicate's comparison operator.
type Relation int

const (
	RelationEqual Relation = iota
	RelationGreaterThan
	RelationGreaterThanOrEqual
	RelationLessThan
	RelationLessThanOrEqual
)

func (r Relation) String() string {
	switch r {
	case RelationEqual:
		return "=="
	case RelationGreaterThan:
		return ">"
	case RelationGreaterThanOrEqual:
		return ">="
	case RelationLessThan:
		return "<"
	case RelationLessThanOrEqual:
		return "<="
	default:
		return "?"
	}
}

// FieldPath is a sequence of map-key segments read from `this`, e.g.
// this.data.subfield is FieldPath{"data", "subfield"}.
type FieldPath []string

func (p FieldPath) String() string {
	if len(p) == 0 {
		return "this"
	}
	return "this." + strings.Join(p, ".")
}

// shift splits the first segment off p, if any.
func (p FieldPath) shift() (string, FieldPath, bool) {
	if len(p) == 0 {
		return "", nil, false
	}
	return p[0], p[1:], true
}

// Primitive is a single field-path/relation/literal comparison.
type Primitive struct {
	Path     FieldPath
	Relation Relation
	Literal  content.Content
}

// Kind tags which variant a Predicate holds.
type Kind int

const (
	KindPrimitive Kind = iota
	KindAnd
	KindOr
	KindNot
)

// Predicate is a node in a filter expression tree: either a leaf
// comparison (Primitive) or a compound combinator over sub-predicates.
type Predicate struct {
	Kind       Kind
	Primitive  Primitive
	Sub        []Predicate // And/Or: every operand; Not: exactly one
}

func NewPrimitive(path FieldPath, rel Relation, literal content.Content) Predicate {
	return Predicate{Kind: KindPrimitive, Primitive: Primitive{Path: path, Relation: rel, Literal: literal}}
}

func And(sub ...Predicate) Predicate { return Predicate{Kind: KindAnd, Sub: sub} }
func Or(sub ...Predicate) Predicate  { return Predicate{Kind: KindOr, Sub: sub} }
func Not(p Predicate) Predicate      { return Predicate{Kind: KindNot, Sub: []Predicate{p}} }

// String renders p in the filter surface syntax. Compound operands are
// not parenthesized, and Not renders as a leading `!`, which ParseString
// does not accept.
func (p Predicate) String() string {
	switch p.Kind {
	case KindPrimitive:
		return p.Primitive.Path.String() + p.Primitive.Relation.String() + p.Primitive.Literal.String()
	case KindAnd:
		return joinSub(p.Sub, "&&")
	case KindOr:
		return joinSub(p.Sub, "||")
	case KindNot:
		return "!" + p.Sub[0].String()
	default:
		return "<invalid predicate>"
	}
}

func joinSub(sub []Predicate, sep string) string {
	parts := make([]string, len(sub))
	for i, s := range sub {
		parts[i] = s.String()
	}
	return strings.Join(parts, sep)
}

// Check reports whether content c satisfies p (§4.6).
func (p Predicate) Check(c content.Content) bool {
	switch p.Kind {
	case KindPrimitive:
		return p.Primitive.check(c)
	case KindAnd:
		for _, s := range p.Sub {
			if !s.Check(c) {
				return false
			}
		}
		return true
	case KindOr:
		for _, s := range p.Sub {
			if s.Check(c) {
				return true
			}
		}
		return false
	case KindNot:
		return !p.Sub[0].Check(c)
	default:
		return false
	}
}

func (prim Primitive) check(c content.Content) bool {
	target := valueAtPath(c, prim.Path)
	switch prim.Relation {
	case RelationEqual:
		return content.Equal(target, prim.Literal)
	case RelationGreaterThan:
		cmp, ok := content.Compare(target, prim.Literal)
		return ok && cmp > 0
	case RelationGreaterThanOrEqual:
		cmp, ok := content.Compare(target, prim.Literal)
		return ok && cmp >= 0
	case RelationLessThan:
		cmp, ok := content.Compare(target, prim.Literal)
		return ok && cmp < 0
	case RelationLessThanOrEqual:
		cmp, ok := content.Compare(target, prim.Literal)
		return ok && cmp <= 0
	default:
		return false
	}
}

// valueAtPath reaches into c's nested maps along path, returning
// content.Nil() for any missing segment or non-map intermediate value.
func valueAtPath(c content.Content, path FieldPath) content.Content {
	first, rest, ok := path.shift()
	if !ok {
		return c
	}
	if c.Kind != content.KindMap {
		return content.Nil()
	}
	v, ok := c.Map[first]
	if !ok {
		return content.Nil()
	}
	return valueAtPath(v, rest)
}
