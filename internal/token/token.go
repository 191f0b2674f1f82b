package token

import (
	"fmt"
	"strings"

	"github.com/fwessels/cpip/internal/position"
)

type Kind int

const (
	Identifier Kind = iota
	PPNumber
	CharLiteral
	StringLiteral
	HeaderName
	Operator
	Whitespace
	NonWhitespace
	// Placemarker stands in for an empty macro argument. It never leaves
	// macro replacement.
	Placemarker
)

var kindNames = [...]string{
	Identifier:    "identifier",
	PPNumber:      "pp-number",
	CharLiteral:   "character-literal",
	StringLiteral: "string-literal",
	HeaderName:    "header-name",
	Operator:      "preprocessing-op-or-punc",
	Whitespace:    "whitespace",
	NonWhitespace: "non-whitespace",
	Placemarker:   "placemarker",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Token is an immutable preprocessing token. Pos is the logical position in
// its file, Phys the physical one.
type Token struct {
	Text string
	Kind Kind
	File string
	Pos  position.Pos
	Phys position.Pos
	// Macro names the macro whose replacement produced the token, if any.
	Macro string

	noExpand bool
}

func New(text string, kind Kind) Token {
	return Token{Text: text, Kind: kind}
}

// NewPlacemarker returns the empty-argument token.
func NewPlacemarker() Token {
	return Token{Kind: Placemarker}
}

// Painted reports whether the token was found while its own macro was being
// replaced; such an identifier is never expanded again.
func (t Token) Painted() bool { return t.noExpand }

// Paint returns a copy that will never be macro-expanded.
func (t Token) Paint() Token {
	t.noExpand = true
	return t
}

// At returns a copy positioned like other.
func (t Token) At(other Token) Token {
	t.File = other.File
	t.Pos = other.Pos
	t.Phys = other.Phys
	return t
}

func (t Token) WithMacro(name string) Token {
	t.Macro = name
	return t
}

func (t Token) IsWhitespace() bool { return t.Kind == Whitespace }

// HasNewline reports whether the token is whitespace ending a line.
func (t Token) HasNewline() bool {
	return t.Kind == Whitespace && strings.Contains(t.Text, "\n")
}

// IsOp reports whether the token is the operator or punctuator s.
func (t Token) IsOp(s string) bool {
	return t.Kind == Operator && t.Text == s
}

func (t Token) IsIdent(s string) bool {
	return t.Kind == Identifier && t.Text == s
}

func (t Token) String() string {
	return fmt.Sprintf("%s %q @%s", t.Kind, t.Text, t.Pos)
}

// Text concatenates the text of toks.
func Text(toks []Token) string {
	var b strings.Builder
	for _, t := range toks {
		b.WriteString(t.Text)
	}
	return b.String()
}

// TrimWhitespace drops leading and trailing whitespace tokens.
func TrimWhitespace(toks []Token) []Token {
	for len(toks) > 0 && toks[0].IsWhitespace() {
		toks = toks[1:]
	}
	for len(toks) > 0 && toks[len(toks)-1].IsWhitespace() {
		toks = toks[:len(toks)-1]
	}
	return toks
}

// Strip drops every whitespace token.
func Strip(toks []Token) []Token {
	out := make([]Token, 0, len(toks))
	for _, t := range toks {
		if !t.IsWhitespace() {
			out = append(out, t)
		}
	}
	return out
}
