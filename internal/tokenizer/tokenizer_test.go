package tokenizer

import (
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwessels/cpip/internal/diag"
	"github.com/fwessels/cpip/internal/position"
	"github.com/fwessels/cpip/internal/token"
)

func texts(toks []token.Token) []string {
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Text
	}
	return out
}

type tokenizeTest struct {
	name   string
	input  string
	output []string
}

var tokenizeTests = []tokenizeTest{
	{
		"empty",
		"",
		[]string{},
	},
	{
		"trigraphs",
		"a??=b??=cd",
		[]string{"a", "#", "b", "#", "cd"},
	},
	{
		"splice keeps line count",
		"abc\\\ndef\n",
		[]string{"abcdef", "\n", "\n"},
	},
	{
		"comments become one space",
		"a/* x */b // c\nd",
		[]string{"a", " ", "b", " ", " ", "\n", "d"},
	},
	{
		"comment spanning lines",
		"a/*\n*/b",
		[]string{"a", " ", "b"},
	},
	{
		"longest operator first",
		"x<<=y...->*",
		[]string{"x", "<<=", "y", "...", "->*"},
	},
	{
		"digraphs are canonical",
		"%:%: <: :> <% %> %:define",
		[]string{"##", " ", "[", " ", "]", " ", "{", " ", "}", " ", "#", "define"},
	},
	{
		"literals",
		`u8"s" L'c' 1.5e+3f .5 "a\"b"`,
		[]string{`u8"s"`, " ", `L'c'`, " ", "1.5e+3f", " ", ".5", " ", `"a\"b"`},
	},
	{
		"whitespace run ends at newline",
		"a \t \n\n b",
		[]string{"a", " \t \n", "\n", " ", "b"},
	},
	{
		"universal character name",
		"café x",
		[]string{`caf\u00E9`, " ", "x"},
	},
	{
		"stray characters",
		"@ $x `",
		[]string{"@", " ", "$", "x", " ", "`"},
	},
	{
		"alternative tokens are identifiers",
		"a and b",
		[]string{"a", " ", "and", " ", "b"},
	},
}

func TestTokenize(t *testing.T) {
	for _, tt := range tokenizeTests {
		t.Run(tt.name, func(t *testing.T) {
			toks, err := Tokenize("t.c", tt.input)
			if err != nil {
				t.Fatalf("tokenize error: %v", err)
			}
			if diff := cmp.Diff(tt.output, texts(toks)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestKinds(t *testing.T) {
	toks, err := Tokenize("t.c", `x 12 'c' "s" + @`)
	require.NoError(t, err)
	var got []token.Kind
	for _, tok := range token.Strip(toks) {
		got = append(got, tok.Kind)
	}
	want := []token.Kind{
		token.Identifier, token.PPNumber, token.CharLiteral,
		token.StringLiteral, token.Operator, token.NonWhitespace,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestPhysicalPositions(t *testing.T) {
	tests := []struct {
		name  string
		input string
		index int
		logic position.Pos
		phys  position.Pos
	}{
		{"after trigraph", "a??=b??=cd", 2, position.Pos{Line: 1, Col: 3}, position.Pos{Line: 1, Col: 5}},
		{"after two trigraphs", "a??=b??=cd", 4, position.Pos{Line: 1, Col: 5}, position.Pos{Line: 1, Col: 9}},
		{"after ucn", "café x", 2, position.Pos{Line: 1, Col: 11}, position.Pos{Line: 1, Col: 7}},
		{"second line", "a\n  b", 3, position.Pos{Line: 2, Col: 3}, position.Pos{Line: 2, Col: 3}},
		{"after splice", "ab\\\ncd e\n", 2, position.Pos{Line: 1, Col: 6}, position.Pos{Line: 2, Col: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toks, err := Tokenize("t.c", tt.input)
			require.NoError(t, err)
			require.Greater(t, len(toks), tt.index)
			tok := toks[tt.index]
			if diff := cmp.Diff(tt.logic, tok.Pos); diff != "" {
				t.Errorf("logical mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.phys, tok.Phys); diff != "" {
				t.Errorf("physical mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSpliceMap(t *testing.T) {
	tz, err := New("t.c", "abc\\\ndef\n")
	require.NoError(t, err)
	if diff := cmp.Diff(position.Pos{Line: 2, Col: 1}, tz.Map().LogicalToPhysical(position.Pos{Line: 1, Col: 4})); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, tz.Lines())
}

type badTokenizeTest struct {
	input string
	error string
}

var badTokenizeTests = []badTokenizeTest{
	{
		"a /* abc",
		"t.c:1:3: unterminated comment",
	},
	{
		"x\n\"abc\n",
		"t.c:2:1: unterminated string-literal",
	},
	{
		"'a",
		"t.c:1:1: unterminated character-literal",
	},
	{
		"??=define X '\n",
		"t.c:1:13: unterminated character-literal",
	},
	{
		"\\u00\\\nE9\n",
		"t.c:1:5: line splice creates a universal-character-name",
	},
}

func TestBadTokenize(t *testing.T) {
	for _, tt := range badTokenizeTests {
		t.Run(tt.error, func(t *testing.T) {
			_, err := Tokenize("t.c", tt.input)
			if err == nil {
				t.Fatalf("expected error %q", tt.error)
			}
			if diff := cmp.Diff(tt.error, err.Error()); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
			var de *diag.Error
			require.True(t, errors.As(err, &de))
			assert.Equal(t, diag.Lexical, de.Class)
		})
	}
}

func TestErrorIsSticky(t *testing.T) {
	tz, err := New("t.c", "/*")
	require.NoError(t, err)
	_, err1 := tz.Next()
	_, err2 := tz.Next()
	require.Error(t, err1)
	assert.Equal(t, err1, err2)
}

func TestLenient(t *testing.T) {
	tz, err := New("t.c", "don't\n")
	require.NoError(t, err)
	tz.Lenient = true
	toks, err := tz.All()
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"don", "'", "t", "\n"}, texts(toks)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, token.NonWhitespace, toks[1].Kind)

	_, err = tz.Next()
	assert.Equal(t, io.EOF, err)
}

func TestHeaderName(t *testing.T) {
	tests := []struct {
		in   string
		tok  string
		rest string
		ok   bool
	}{
		{"  <stdio.h> x", "<stdio.h>", " x", true},
		{`"spam.h"`, `"spam.h"`, "", true},
		{"<>", "", "<>", false},
		{"<stdio.h", "", "<stdio.h", false},
		{"stdio.h", "", "stdio.h", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			tok, rest, ok := HeaderName(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.rest, rest)
			if ok {
				assert.Equal(t, tt.tok, tok.Text)
				assert.Equal(t, token.HeaderName, tok.Kind)
			}
		})
	}
}

func TestRelex(t *testing.T) {
	tests := []struct {
		in   string
		kind token.Kind
		ok   bool
	}{
		{"123", token.PPNumber, true},
		{"ab", token.Identifier, true},
		{"##", token.Operator, true},
		{"%:%:", token.Operator, true},
		{`"x"`, token.StringLiteral, true},
		{"+-", 0, false},
		{"a b", 0, false},
		{"", 0, false},
		{"/*", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			tok, ok := Relex(tt.in)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.kind, tok.Kind)
			}
		})
	}
}
