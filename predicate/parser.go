package predicate

import (
	"strconv"
	"strings"

	"github.com/ledgerwatch/immuxdb/content"
)

// selfToken is the identifier a field path starts from, e.g. "this" in
// this.a.b.
const selfToken = "this"

type tokenKind int

const (
	tokThis tokenKind = iota
	tokDot
	tokIdentifier
	tokContentString

	tokEqual
	tokNotEqual
	tokGreaterThan
	tokGreaterThanOrEqual
	tokLessThan
	tokLessThanOrEqual

	tokOr
	tokAnd
	tokNot
)

type token struct {
	kind tokenKind
	text string
}

// ParseString transforms a filter expression like
// "this.age>=21&&this.name=='han'" into a Predicate tree. The first `||`
// found anywhere in the expression splits it into two halves evaluated as
// an Or, else the first `&&` splits it as an And, else the whole
// expression must be one primitive comparison. Because every `||` is
// split before any `&&`, && binds tighter than ||, as in JavaScript.
// Parentheses are not supported.
func ParseString(expr string) (Predicate, error) {
	tokens := tokenize(expr)
	return parseTokens(tokens)
}

func parseTokens(tokens []token) (Predicate, error) {
	if i, ok := indexOf(tokens, tokOr); ok {
		left, right, err := splitAt(tokens, i)
		if err != nil {
			return Predicate{}, err
		}
		return Or(left, right), nil
	}
	if i, ok := indexOf(tokens, tokAnd); ok {
		left, right, err := splitAt(tokens, i)
		if err != nil {
			return Predicate{}, err
		}
		return And(left, right), nil
	}
	return parsePrimitive(tokens)
}

func indexOf(tokens []token, kind tokenKind) (int, bool) {
	for i, t := range tokens {
		if t.kind == kind {
			return i, true
		}
	}
	return 0, false
}

func splitAt(tokens []token, i int) (Predicate, Predicate, error) {
	left, err := parseTokens(tokens[:i])
	if err != nil {
		return Predicate{}, Predicate{}, err
	}
	right, err := parseTokens(tokens[i+1:])
	if err != nil {
		return Predicate{}, Predicate{}, err
	}
	return left, right, nil
}

func parsePrimitive(tokens []token) (Predicate, error) {
	var path FieldPath
	var literal *content.Content
	var rel *Relation
	negated := false

	for _, t := range tokens {
		switch t.kind {
		case tokThis, tokDot:
			// structural only
		case tokIdentifier:
			path = append(path, t.text)
		case tokContentString:
			c := parseLiteral(t.text)
			literal = &c
		case tokGreaterThan:
			r := RelationGreaterThan
			rel = &r
		case tokGreaterThanOrEqual:
			r := RelationGreaterThanOrEqual
			rel = &r
		case tokLessThan:
			r := RelationLessThan
			rel = &r
		case tokLessThanOrEqual:
			r := RelationLessThanOrEqual
			rel = &r
		case tokEqual:
			r := RelationEqual
			rel = &r
		case tokNotEqual:
			r := RelationEqual
			rel = &r
			negated = true
		default:
			return Predicate{}, ErrUnexpectedToken
		}
	}

	if literal == nil || rel == nil {
		return Predicate{}, ErrMalformedTokens
	}
	prim := NewPrimitive(path, *rel, *literal)
	if negated {
		return Not(prim), nil
	}
	return prim, nil
}

// parseLiteral interprets a ContentString token's raw text as a quoted
// string, a boolean, or a float64 — the same rules UnitContent::from(&str)
// applies in the source engine.
func parseLiteral(raw string) content.Content {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) >= 2 {
		if (trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"') ||
			(trimmed[0] == '\'' && trimmed[len(trimmed)-1] == '\'') {
			return content.String(trimmed[1 : len(trimmed)-1])
		}
	}
	switch trimmed {
	case "true":
		return content.Bool(true)
	case "false":
		return content.Bool(false)
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return content.Float64(f)
	}
	return content.String(trimmed)
}

type tokenizerState int

const (
	stateIdentifier tokenizerState = iota
	stateValue
)

// tokenize groups characters of expr into tokens, performing no semantic
// validation — the resulting slice may not form a valid predicate.
func tokenize(expr string) []token {
	var tokens []token
	state := stateIdentifier

	var identifier strings.Builder
	var contentStr strings.Builder

	chars := []rune(expr)
	i := 0
	var quote rune

	flushIdentifier := func() {
		if identifier.Len() > 0 {
			tokens = append(tokens, token{kind: tokIdentifier, text: identifier.String()})
			identifier.Reset()
		}
	}

	for i < len(chars) {
		c := chars[i]
		switch state {
		case stateIdentifier:
			switch c {
			case '.':
				flushIdentifier()
				tokens = append(tokens, token{kind: tokDot})
				i++
			case '>':
				flushIdentifier()
				if startsWithAt(chars, i, ">=") {
					tokens = append(tokens, token{kind: tokGreaterThanOrEqual})
					i += 2
				} else {
					tokens = append(tokens, token{kind: tokGreaterThan})
					i++
				}
				state = stateValue
			case '<':
				flushIdentifier()
				if startsWithAt(chars, i, "<=") {
					tokens = append(tokens, token{kind: tokLessThanOrEqual})
					i += 2
				} else {
					tokens = append(tokens, token{kind: tokLessThan})
					i++
				}
				state = stateValue
			case '=':
				flushIdentifier()
				tokens = append(tokens, token{kind: tokEqual})
				if startsWithAt(chars, i, "==") {
					i += 2
				} else {
					i++
				}
				state = stateValue
			case '|':
				flushIdentifier()
				tokens = append(tokens, token{kind: tokOr})
				if startsWithAt(chars, i, "||") {
					i += 2
				} else {
					i++
				}
			case '&':
				flushIdentifier()
				tokens = append(tokens, token{kind: tokAnd})
				if startsWithAt(chars, i, "&&") {
					i += 2
				} else {
					i++
				}
			case ' ':
				i++
			case '!':
				flushIdentifier()
				if startsWithAt(chars, i, "!=") {
					tokens = append(tokens, token{kind: tokNotEqual})
					i += 2
					state = stateValue
				} else {
					tokens = append(tokens, token{kind: tokNot})
					i++
				}
			default:
				if startsWithAt(chars, i, selfToken) {
					tokens = append(tokens, token{kind: tokThis})
					i += len(selfToken)
				} else {
					identifier.WriteRune(c)
					i++
				}
			}
		case stateValue:
			switch c {
			case '|', '&', '!':
				if contentStr.Len() > 0 {
					tokens = append(tokens, token{kind: tokContentString, text: contentStr.String()})
					contentStr.Reset()
				}
				state = stateIdentifier
			case '"':
				contentStr.WriteRune(c)
				i++
				if quote == '"' {
					quote = 0
				} else if quote == 0 {
					quote = '"'
				}
				continue
			case '\'':
				contentStr.WriteRune(c)
				i++
				if quote == '\'' {
					quote = 0
				} else if quote == 0 {
					quote = '\''
				}
				continue
			case ' ':
				if quote != 0 {
					contentStr.WriteRune(c)
				}
				i++
				continue
			default:
				contentStr.WriteRune(c)
				i++
				continue
			}
		}
	}
	tokens = append(tokens, token{kind: tokContentString, text: contentStr.String()})
	return tokens
}

func startsWithAt(chars []rune, start int, target string) bool {
	t := []rune(target)
	if start+len(t) > len(chars) {
		return false
	}
	for i, r := range t {
		if chars[start+i] != r {
			return false
		}
	}
	return true
}
