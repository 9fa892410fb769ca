package condition

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tkNumber tokenKind = iota // 42, 0.8, -3
	tkString                  // "hello", 'hello'
	tkIdent                   // key, key.sub, true, and
	tkOp                      // ==, !=, &&, ||, !
	tkLParen                  // (
	tkRParen                  // )
	tkDot                     // . (method call after a closing paren)
)

type token struct {
	kind  tokenKind
	value string
	pos   int
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	runes := []rune(expr)
	i := 0

	for i < len(runes) {
		ch := runes[i]

		if unicode.IsSpace(ch) {
			i++
			continue
		}

		switch ch {
		case '(':
			tokens = append(tokens, token{tkLParen, "(", i})
			i++
			continue
		case ')':
			tokens = append(tokens, token{tkRParen, ")", i})
			i++
			continue
		case '.':
			tokens = append(tokens, token{tkDot, ".", i})
			i++
			continue
		case '"', '\'':
			s, n, err := readString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tkString, s, i})
			i = n
			continue
		}

		if i+1 < len(runes) {
			two := string(runes[i : i+2])
			switch two {
			case "==", "!=", "&&", "||":
				tokens = append(tokens, token{tkOp, two, i})
				i += 2
				continue
			}
		}

		if ch == '!' {
			tokens = append(tokens, token{tkOp, "!", i})
			i++
			continue
		}

		if isDigit(ch) || (ch == '-' && i+1 < len(runes) && isDigit(runes[i+1]) && isNumberStart(tokens)) {
			num, n := readNumber(runes, i)
			tokens = append(tokens, token{tkNumber, num, i})
			i = n
			continue
		}

		if isIdentStart(ch) {
			ident, n := readIdent(runes, i)
			tokens = append(tokens, token{tkIdent, ident, i})
			i = n
			continue
		}

		return nil, syntaxErr(expr, i, "unexpected character %q", string(ch))
	}

	return tokens, nil
}

func readString(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	i := start + 1
	var sb strings.Builder
	for i < len(runes) {
		if runes[i] == '\\' && i+1 < len(runes) {
			sb.WriteRune(runes[i+1])
			i += 2
			continue
		}
		if runes[i] == quote {
			return sb.String(), i + 1, nil
		}
		sb.WriteRune(runes[i])
		i++
	}
	return "", 0, syntaxErr(string(runes), start, "unterminated string")
}

func readNumber(runes []rune, start int) (string, int) {
	i := start
	if runes[i] == '-' {
		i++
	}
	for i < len(runes) && isDigit(runes[i]) {
		i++
	}
	if i+1 < len(runes) && runes[i] == '.' && isDigit(runes[i+1]) {
		i++
		for i < len(runes) && isDigit(runes[i]) {
			i++
		}
	}
	return string(runes[start:i]), i
}

// readIdent reads a dotted identifier. A trailing ".method(" segment is left
// for the parser so that key.lower() is a method call on key.
func readIdent(runes []rune, start int) (string, int) {
	i := start
	for i < len(runes) {
		ch := runes[i]
		if ch == '.' {
			seg, n := segmentAfterDot(runes, i)
			if seg == "" || (isMethod(seg) && n < len(runes) && runes[n] == '(') {
				break
			}
			i = n
			continue
		}
		if !isIdentPart(ch) {
			break
		}
		i++
	}
	return string(runes[start:i]), i
}

func segmentAfterDot(runes []rune, dot int) (string, int) {
	i := dot + 1
	for i < len(runes) && isIdentPart(runes[i]) {
		i++
	}
	return string(runes[dot+1 : i]), i
}

func isDigit(ch rune) bool      { return ch >= '0' && ch <= '9' }
func isIdentStart(ch rune) bool { return unicode.IsLetter(ch) || ch == '_' }
func isIdentPart(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// isNumberStart reports whether a '-' starts a negative literal.
func isNumberStart(preceding []token) bool {
	if len(preceding) == 0 {
		return true
	}
	last := preceding[len(preceding)-1]
	return last.kind == tkOp || last.kind == tkLParen
}
