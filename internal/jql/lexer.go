package jql

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokString
	tokLParen
	tokRParen
	tokComma
	tokOperator
	tokAnd
	tokOr
	tokNot
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of query"
	case tokString:
		return fmt.Sprintf("%q", t.text)
	}
	return "'" + t.text + "'"
}

// ParseError reports a syntax error at a byte offset of the input.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("jql: %s (at position %d)", e.Msg, e.Pos)
}

func isWordRune(r rune) bool {
	if unicode.IsSpace(r) {
		return false
	}
	return !strings.ContainsRune(`()",=!<>~'&|`, r)
}

func lex(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case r == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case r == ',':
			tokens = append(tokens, token{tokComma, ",", i})
			i++
		case r == '"' || r == '\'':
			s, next, err := lexQuoted(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tokString, s, i})
			i = next
		case r == '&':
			n := 1
			if i+1 < len(runes) && runes[i+1] == '&' {
				n = 2
			}
			tokens = append(tokens, token{tokAnd, string(runes[i : i+n]), i})
			i += n
		case r == '|':
			n := 1
			if i+1 < len(runes) && runes[i+1] == '|' {
				n = 2
			}
			tokens = append(tokens, token{tokOr, string(runes[i : i+n]), i})
			i += n
		case r == '=' || r == '~':
			tokens = append(tokens, token{tokOperator, string(r), i})
			i++
		case r == '!':
			if i+1 < len(runes) && (runes[i+1] == '=' || runes[i+1] == '~') {
				tokens = append(tokens, token{tokOperator, string(runes[i : i+2]), i})
				i += 2
			} else {
				tokens = append(tokens, token{tokNot, "!", i})
				i++
			}
		case r == '<' || r == '>':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{tokOperator, string(runes[i : i+2]), i})
				i += 2
			} else {
				tokens = append(tokens, token{tokOperator, string(r), i})
				i++
			}
		default:
			start := i
			for i < len(runes) && isWordRune(runes[i]) {
				i++
			}
			word := string(runes[start:i])
			switch strings.ToLower(word) {
			case "and":
				tokens = append(tokens, token{tokAnd, word, start})
			case "or":
				tokens = append(tokens, token{tokOr, word, start})
			case "not":
				tokens = append(tokens, token{tokNot, word, start})
			default:
				tokens = append(tokens, token{tokWord, word, start})
			}
		}
	}
	tokens = append(tokens, token{tokEOF, "", len(runes)})
	return tokens, nil
}

func lexQuoted(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	var b strings.Builder
	i := start + 1
	for i < len(runes) {
		r := runes[i]
		switch {
		case r == '\\' && i+1 < len(runes):
			b.WriteRune(runes[i+1])
			i += 2
		case r == quote:
			return b.String(), i + 1, nil
		default:
			b.WriteRune(r)
			i++
		}
	}
	return "", 0, &ParseError{Pos: start, Msg: "unterminated string"}
}
