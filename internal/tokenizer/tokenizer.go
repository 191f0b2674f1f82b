package tokenizer

import (
	"errors"
	"io"
	"strings"

	"github.com/fwessels/cpip/internal/diag"
	"github.com/fwessels/cpip/internal/position"
	"github.com/fwessels/cpip/internal/token"
)

// ---------------- Tokenizer ----------------

// Tokenizer is a forward-only cursor over the preprocessing tokens of one
// file. Phases 0 to 2 run when it is created, phase 3 runs lazily in Next.
type Tokenizer struct {
	// Lenient lexes an unterminated quote as a single non-whitespace
	// character instead of failing. It is meant for skipped groups and for
	// the text of #error and #warning.
	Lenient bool

	file   string
	text   string
	starts []int
	line   int
	off    int
	pmap   *position.Map
	err    error
}

func New(file, src string) (*Tokenizer, error) {
	lines := SplitLines(src)
	lines, chars := translateChars(lines)
	lines, splices, err := spliceLines(lines)
	pmap := position.NewMap(chars)
	if err != nil {
		var se *spliceError
		if errors.As(err, &se) {
			return nil, diag.Errorf(diag.Lexical, file, pmap.LogicalToPhysical(se.pos), "%s", se.Error())
		}
		return nil, err
	}
	pmap.Push(splices)

	t := &Tokenizer{file: file, pmap: pmap}
	var b strings.Builder
	t.starts = make([]int, 0, len(lines))
	for _, l := range lines {
		t.starts = append(t.starts, b.Len())
		b.WriteString(l)
	}
	t.text = b.String()
	return t, nil
}

func (t *Tokenizer) File() string { return t.file }

// Map is the logical to physical position map of the file.
func (t *Tokenizer) Map() *position.Map { return t.pmap }

// Lines is the number of logical lines.
func (t *Tokenizer) Lines() int { return len(t.starts) }

func (t *Tokenizer) pos(off int) position.Pos {
	for t.line+1 < len(t.starts) && t.starts[t.line+1] <= off {
		t.line++
	}
	return position.Pos{Line: t.line + 1, Col: off - t.starts[t.line] + 1}
}

func (t *Tokenizer) fail(off int, format string, args ...any) error {
	t.err = diag.Errorf(diag.Lexical, t.file, t.pmap.LogicalToPhysical(t.pos(off)), format, args...)
	return t.err
}

// Next returns the next token, or io.EOF after the last one.
func (t *Tokenizer) Next() (token.Token, error) {
	if t.err != nil {
		return token.Token{}, t.err
	}
	if t.off >= len(t.text) {
		return token.Token{}, io.EOF
	}
	start := t.off
	s := t.text[start:]

	var text string
	var kind token.Kind
	var n int
	switch {
	case isSpace(s[0]) || s[0] == '\n':
		for n < len(s) && isSpace(s[n]) {
			n++
		}
		if n < len(s) && s[n] == '\n' {
			n++
		}
		text, kind = s[:n], token.Whitespace
	case strings.HasPrefix(s, "/*"):
		end := strings.Index(s[2:], "*/")
		if end < 0 {
			return token.Token{}, t.fail(start, "unterminated comment")
		}
		n = end + 4
		text, kind = " ", token.Whitespace
	case strings.HasPrefix(s, "//"):
		n = strings.IndexByte(s, '\n')
		if n < 0 {
			n = len(s)
		}
		text, kind = " ", token.Whitespace
	default:
		var st litStatus
		text, kind, n, st = lexSlice(s)
		if st == litUnterminated {
			if !t.Lenient {
				return token.Token{}, t.fail(start, "unterminated %s", kind)
			}
			text, kind, n = s[:1], token.NonWhitespace, 1
			if s[0] != '\'' && s[0] != '"' {
				// an encoding prefix
				text, kind, n = s[:encodingPrefixLen(s)], token.Identifier, encodingPrefixLen(s)
			}
		}
	}
	t.off += n
	lp := t.pos(start)
	return token.Token{
		Text: text,
		Kind: kind,
		File: t.file,
		Pos:  lp,
		Phys: t.pmap.LogicalToPhysical(lp),
	}, nil
}

func encodingPrefixLen(s string) int {
	if strings.HasPrefix(s, "u8") {
		return 2
	}
	return 1
}

// All drains the tokenizer.
func (t *Tokenizer) All() ([]token.Token, error) {
	var toks []token.Token
	for {
		tok, err := t.Next()
		if err == io.EOF {
			return toks, nil
		}
		if err != nil {
			return toks, err
		}
		toks = append(toks, tok)
	}
}

// Tokenize runs all phases over src.
func Tokenize(file, src string) ([]token.Token, error) {
	t, err := New(file, src)
	if err != nil {
		return nil, err
	}
	return t.All()
}
