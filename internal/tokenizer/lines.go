package tokenizer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fwessels/cpip/internal/position"
)

// ---------------- Phase 0: physical lines ----------------

// SplitLines splits src into physical lines, each keeping its newline. The
// last line may lack one.
func SplitLines(src string) []string {
	if src == "" {
		return nil
	}
	lines := make([]string, 0, strings.Count(src, "\n")+1)
	for {
		i := strings.IndexByte(src, '\n')
		if i < 0 {
			lines = append(lines, src)
			break
		}
		lines = append(lines, src[:i+1])
		src = src[i+1:]
		if src == "" {
			break
		}
	}
	return lines
}

// ---------------- Phase 1: character set ----------------

var trigraphs = map[byte]byte{
	'=':  '#',
	'(':  '[',
	'/':  '\\',
	')':  ']',
	'\'': '^',
	'<':  '{',
	'!':  '|',
	'>':  '}',
	'-':  '~',
}

// ucn spells r as a universal-character-name.
func ucn(r rune) string {
	if r <= 0xFFFF {
		return fmt.Sprintf("\\u%04X", r)
	}
	return fmt.Sprintf("\\U%08X", r)
}

// translateChars replaces trigraphs and maps every character outside the basic
// source character set to a universal-character-name.
func translateChars(lines []string) ([]string, *position.Layer) {
	b := position.NewBuilder()
	out := make([]string, len(lines))
	for i, line := range lines {
		if !needsTranslation(line) {
			out[i] = line
			continue
		}
		var sb strings.Builder
		col := position.StartColumn
		for j := 0; j < len(line); {
			if line[j] == '?' && j+2 < len(line) && line[j+1] == '?' {
				if r, ok := trigraphs[line[j+2]]; ok {
					sb.WriteByte(r)
					b.Subst(i+1, col, 3, 1)
					col++
					j += 3
					continue
				}
			}
			if line[j] >= utf8.RuneSelf {
				r, n := utf8.DecodeRuneInString(line[j:])
				u := ucn(r)
				sb.WriteString(u)
				b.Subst(i+1, col, n, len(u))
				col += len(u)
				j += n
				continue
			}
			sb.WriteByte(line[j])
			col++
			j++
		}
		out[i] = sb.String()
	}
	return out, b.Layer()
}

func needsTranslation(line string) bool {
	if strings.Contains(line, "??") {
		return true
	}
	for i := 0; i < len(line); i++ {
		if line[i] >= utf8.RuneSelf {
			return true
		}
	}
	return false
}

// ---------------- Phase 2: line splicing ----------------

func spliceSuffix(line string) int {
	switch {
	case strings.HasSuffix(line, "\\\n"):
		return 2
	case strings.HasSuffix(line, "\\\r\n"):
		return 3
	}
	return 0
}

// spliceError locates a splice that creates a universal-character-name.
type spliceError struct {
	pos position.Pos
}

func (e *spliceError) Error() string {
	return "line splice creates a universal-character-name"
}

// spliceLines joins lines ending in backslash-newline. Each swallowed physical
// line is replaced by a "\n" placeholder so logical line numbers stay equal to
// the physical start line.
func spliceLines(lines []string) ([]string, *position.Layer, error) {
	b := position.NewBuilder()
	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); {
		if spliceSuffix(lines[i]) == 0 {
			out = append(out, lines[i])
			i++
			continue
		}
		logical := len(out) + 1
		sp := b.Splice(logical)
		var joined strings.Builder
		var boundaries []int
		consumed := 0
		for i < len(lines) {
			n := spliceSuffix(lines[i])
			if n == 0 {
				break
			}
			body := lines[i][:len(lines[i])-n]
			joined.WriteString(body)
			boundaries = append(boundaries, joined.Len())
			sp.Join(len(body))
			consumed++
			i++
		}
		if i < len(lines) {
			last := lines[i]
			joined.WriteString(last)
			sp.Close(len(strings.TrimRight(last, "\r\n")))
			consumed++
			i++
		}
		s := joined.String()
		for _, at := range boundaries {
			if ucnSpans(s, at) {
				return nil, nil, &spliceError{pos: position.Pos{Line: logical, Col: at + 1}}
			}
		}
		out = append(out, s)
		for k := 1; k < consumed; k++ {
			out = append(out, "\n")
		}
	}
	return out, b.Layer(), nil
}

// ucnSpans reports whether a \u or \U escape in s straddles offset at.
func ucnSpans(s string, at int) bool {
	for i := max(0, at-9); i < at && i+1 < len(s); i++ {
		if s[i] != '\\' || (s[i+1] != 'u' && s[i+1] != 'U') {
			continue
		}
		if i > 0 && s[i-1] == '\\' {
			continue
		}
		n := 4
		if s[i+1] == 'U' {
			n = 8
		}
		end := i + 2 + n
		if end <= at || end > len(s) {
			continue
		}
		if allHex(s[i+2 : end]) {
			return true
		}
	}
	return false
}

func allHex(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return false
		}
	}
	return s != ""
}
