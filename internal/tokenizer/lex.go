package tokenizer

import (
	"strings"

	"github.com/fwessels/cpip/internal/token"
)

// Operators and punctuators, longest first so the first match is the longest.
var operators = []string{
	"%:%:",
	"...", "<<=", ">>=", "->*",
	"##", "<:", ":>", "<%", "%>", "%:", "::", ".*", "->", "++", "--", "<<", ">>",
	"<=", ">=", "==", "!=", "&&", "||", "*=", "/=", "%=", "+=", "-=", "&=", "^=", "|=",
	"{", "}", "[", "]", "#", "(", ")", ";", ":", "?", ".", "+", "-", "*", "/", "%",
	"^", "&", "|", "~", "!", "=", "<", ">", ",",
}

// Digraphs maps alternative spellings to their canonical form.
var Digraphs = map[string]string{
	"<:":   "[",
	":>":   "]",
	"<%":   "{",
	"%>":   "}",
	"%:":   "#",
	"%:%:": "##",
}

type litStatus int

const (
	litNone litStatus = iota
	litOK
	litUnterminated
)

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\v' || c == '\f' || c == '\r'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func isIdentStart(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func isIdentPart(b byte) bool {
	return isIdentStart(b) || isDigit(b)
}

// ucnLen returns the length of a universal-character-name at the start of s.
func ucnLen(s string) int {
	if len(s) < 2 || s[0] != '\\' {
		return 0
	}
	n := 0
	switch s[1] {
	case 'u':
		n = 4
	case 'U':
		n = 8
	default:
		return 0
	}
	if len(s) < 2+n || !allHex(s[2:2+n]) {
		return 0
	}
	return 2 + n
}

// identNondigit returns the length of a letter, underscore or UCN at s.
func identNondigit(s string) int {
	if s == "" {
		return 0
	}
	if isIdentStart(s[0]) {
		return 1
	}
	return ucnLen(s)
}

func lexIdentifier(s string) int {
	n := identNondigit(s)
	if n == 0 {
		return 0
	}
	for n < len(s) {
		if isDigit(s[n]) {
			n++
			continue
		}
		m := identNondigit(s[n:])
		if m == 0 {
			break
		}
		n += m
	}
	return n
}

func lexPPNumber(s string) int {
	n := 0
	switch {
	case len(s) > 0 && isDigit(s[0]):
		n = 1
	case len(s) > 1 && s[0] == '.' && isDigit(s[1]):
		n = 2
	default:
		return 0
	}
	for n < len(s) {
		c := s[n]
		if (c == 'e' || c == 'E' || c == 'p' || c == 'P') && n+1 < len(s) && (s[n+1] == '+' || s[n+1] == '-') {
			n += 2
			continue
		}
		if isDigit(c) || c == '.' {
			n++
			continue
		}
		m := identNondigit(s[n:])
		if m == 0 {
			break
		}
		n += m
	}
	return n
}

// encodingPrefix returns the length of u8, u, U or L at s when followed by quote.
func encodingPrefix(s string, quote byte) int {
	for _, p := range []string{"u8", "u", "U", "L"} {
		if strings.HasPrefix(s, p) && len(s) > len(p) && s[len(p)] == quote {
			return len(p)
		}
	}
	if s != "" && s[0] == quote {
		return 0
	}
	return -1
}

// lexQuoted scans a character or string literal delimited by quote.
func lexQuoted(s string, quote byte) (int, litStatus) {
	p := encodingPrefix(s, quote)
	if p < 0 {
		return 0, litNone
	}
	for i := p + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) && s[i+1] != '\n' {
				i++
			}
		case '\n':
			return i, litUnterminated
		case quote:
			return i + 1, litOK
		}
	}
	return len(s), litUnterminated
}

func lexOperator(s string) (string, int) {
	for _, op := range operators {
		if strings.HasPrefix(s, op) {
			if canon, ok := Digraphs[op]; ok {
				return canon, len(op)
			}
			return op, len(op)
		}
	}
	return "", 0
}

// lexSlice classifies the token at the start of s, which is neither whitespace
// nor a comment. text differs from s[:n] only for digraphs.
func lexSlice(s string) (text string, kind token.Kind, n int, st litStatus) {
	if n = lexPPNumber(s); n > 0 {
		return s[:n], token.PPNumber, n, litOK
	}
	if n, st = lexQuoted(s, '\''); st != litNone {
		return s[:n], token.CharLiteral, n, st
	}
	if n, st = lexQuoted(s, '"'); st != litNone {
		return s[:n], token.StringLiteral, n, st
	}
	if n = lexIdentifier(s); n > 0 {
		return s[:n], token.Identifier, n, litOK
	}
	if text, n = lexOperator(s); n > 0 {
		return text, token.Operator, n, litOK
	}
	return s[:1], token.NonWhitespace, 1, litOK
}

// lexHeaderName scans <h-chars> or "q-chars" at the start of s.
func lexHeaderName(s string) int {
	if s == "" {
		return 0
	}
	var end byte
	switch s[0] {
	case '<':
		end = '>'
	case '"':
		end = '"'
	default:
		return 0
	}
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\n':
			return 0
		case end:
			if i == 1 {
				return 0
			}
			return i + 1
		}
	}
	return 0
}

// HeaderName reinterprets s as a header-name, ignoring surrounding
// whitespace. rest is what follows the header-name.
func HeaderName(s string) (tok token.Token, rest string, ok bool) {
	s = strings.TrimLeft(s, " \t\v\f\r")
	n := lexHeaderName(s)
	if n == 0 {
		return token.Token{}, s, false
	}
	return token.New(s[:n], token.HeaderName), s[n:], true
}

// Relex classifies text as exactly one preprocessing token. It fails when
// text is empty, whitespace, a comment or more than one token.
func Relex(text string) (token.Token, bool) {
	if text == "" || isSpace(text[0]) || text[0] == '\n' {
		return token.Token{}, false
	}
	if strings.HasPrefix(text, "/*") || strings.HasPrefix(text, "//") {
		return token.Token{}, false
	}
	canon, kind, n, st := lexSlice(text)
	if n != len(text) || st != litOK {
		return token.Token{}, false
	}
	return token.New(canon, kind), true
}
