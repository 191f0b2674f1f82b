package macro

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fwessels/cpip/internal/token"
	"github.com/fwessels/cpip/internal/tokenizer"
)

const VarArgs = "__VA_ARGS__"

var (
	ErrNoName            = errors.New("no macro name given in #define directive")
	ErrNotIdentifier     = errors.New("macro names must be identifiers")
	ErrMissingWhitespace = errors.New("missing whitespace after the macro name")
	ErrPasteAtEnd        = errors.New("'##' cannot appear at either end of a macro expansion")
	ErrStringizeNoParam  = errors.New("'#' is not followed by a macro parameter")
	ErrVarArgsMisuse     = errors.New("__VA_ARGS__ can only appear in the expansion of a variadic macro")
	ErrParamList         = errors.New("expected parameter name, ',' or ')' in macro parameter list")
	ErrUnclosedParams    = errors.New("missing ')' in macro parameter list")
)

// Location is a file and line.
type Location struct {
	File string
	Line int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Source is a forward-only token stream ending in io.EOF.
type Source interface {
	Next() (token.Token, error)
}

// Pushback is a Source that can take back exactly one token.
type Pushback interface {
	Source
	Unget(token.Token)
}

// ---------------- Definition ----------------

// Definition is one #define.
type Definition struct {
	Name         string
	FunctionLike bool
	Params       []string
	Variadic     bool
	Replacement  []token.Token
	Location

	index map[string]int
	refs  []Location
	undef *Location
}

// Parse builds a definition from the tokens that follow "define" up to, but
// not including, the newline ending the directive.
func Parse(toks []token.Token, file string, line int) (*Definition, error) {
	i := skipWS(toks, 0)
	if i >= len(toks) {
		return nil, ErrNoName
	}
	if toks[i].Kind != token.Identifier {
		return nil, ErrNotIdentifier
	}
	d := &Definition{Name: toks[i].Text, Location: Location{File: file, Line: line}}
	i++

	switch {
	case i < len(toks) && toks[i].IsOp("("):
		d.FunctionLike = true
		next, err := d.parseParams(toks, i+1)
		if err != nil {
			return nil, err
		}
		i = next
	case i < len(toks) && !toks[i].IsWhitespace():
		return nil, ErrMissingWhitespace
	}

	if err := d.setReplacement(toks[i:]); err != nil {
		return nil, err
	}
	return d, nil
}

func skipWS(toks []token.Token, i int) int {
	for i < len(toks) && toks[i].IsWhitespace() {
		i++
	}
	return i
}

// parseParams reads the parameter list after '(' and returns the index just
// past ')'.
func (d *Definition) parseParams(toks []token.Token, i int) (int, error) {
	d.Params = []string{}
	d.index = map[string]int{}
	i = skipWS(toks, i)
	if i < len(toks) && toks[i].IsOp(")") {
		return i + 1, nil
	}
	for {
		i = skipWS(toks, i)
		if i >= len(toks) {
			return 0, ErrUnclosedParams
		}
		t := toks[i]
		switch {
		case t.IsOp("..."):
			d.Variadic = true
			d.index[VarArgs] = len(d.Params)
			d.Params = append(d.Params, VarArgs)
		case t.Kind == token.Identifier:
			if t.Text == VarArgs {
				return 0, ErrVarArgsMisuse
			}
			if _, dup := d.index[t.Text]; dup {
				return 0, fmt.Errorf("duplicate macro parameter %q", t.Text)
			}
			d.index[t.Text] = len(d.Params)
			d.Params = append(d.Params, t.Text)
		default:
			return 0, ErrParamList
		}
		i = skipWS(toks, i+1)
		if i >= len(toks) {
			return 0, ErrUnclosedParams
		}
		switch {
		case toks[i].IsOp(")"):
			return i + 1, nil
		case toks[i].IsOp(",") && !d.Variadic:
			i++
		case d.Variadic:
			return 0, ErrUnclosedParams
		default:
			return 0, ErrParamList
		}
	}
}

// setReplacement trims exterior whitespace and merges whitespace runs.
func (d *Definition) setReplacement(toks []token.Token) error {
	toks = token.TrimWhitespace(toks)
	repl := make([]token.Token, 0, len(toks))
	for _, t := range toks {
		if t.IsWhitespace() {
			if n := len(repl); n > 0 && repl[n-1].IsWhitespace() {
				continue
			}
			t.Text = " "
		}
		repl = append(repl, t)
	}
	if n := len(repl); n > 0 && (repl[0].IsOp("##") || repl[n-1].IsOp("##")) {
		return ErrPasteAtEnd
	}
	for i, t := range repl {
		if t.IsIdent(VarArgs) && !d.Variadic {
			return ErrVarArgsMisuse
		}
		if d.FunctionLike && t.IsOp("#") {
			j := skipWS(repl, i+1)
			if j >= len(repl) || !d.isParam(repl[j]) {
				return ErrStringizeNoParam
			}
		}
	}
	d.Replacement = repl
	return nil
}

func (d *Definition) isParam(t token.Token) bool {
	if t.Kind != token.Identifier {
		return false
	}
	_, ok := d.index[t.Text]
	return ok
}

// IsValidRedefinition reports whether other may redefine d: same kind, same
// parameters and the same replacement, where any whitespace matches any
// whitespace but never its absence.
func (d *Definition) IsValidRedefinition(other *Definition) bool {
	if d.Name != other.Name || d.FunctionLike != other.FunctionLike || d.Variadic != other.Variadic {
		return false
	}
	if len(d.Params) != len(other.Params) || len(d.Replacement) != len(other.Replacement) {
		return false
	}
	for i := range d.Params {
		if d.Params[i] != other.Params[i] {
			return false
		}
	}
	for i, t := range d.Replacement {
		o := other.Replacement[i]
		if t.IsWhitespace() != o.IsWhitespace() {
			return false
		}
		if !t.IsWhitespace() && t.Text != o.Text {
			return false
		}
	}
	return true
}

// ---------------- State ----------------

func (d *Definition) IsDefined() bool { return d.undef == nil }

// UndefLocation is where the macro was undefined.
func (d *Definition) UndefLocation() (Location, bool) {
	if d.undef == nil {
		return Location{}, false
	}
	return *d.undef, true
}

// Undef marks the definition as no longer current.
func (d *Definition) Undef(file string, line int) error {
	if d.undef != nil {
		return fmt.Errorf("macro %q is already undefined at %s", d.Name, d.undef)
	}
	d.undef = &Location{File: file, Line: line}
	return nil
}

func (d *Definition) IncRefCount(at Location) error {
	if d.undef != nil {
		return fmt.Errorf("reference to undefined macro %q", d.Name)
	}
	d.refs = append(d.refs, at)
	return nil
}

func (d *Definition) RefCount() int { return len(d.refs) }

func (d *Definition) References() []Location {
	return append([]Location(nil), d.refs...)
}

// String spells the definition back as directive text.
func (d *Definition) String() string {
	var b strings.Builder
	b.WriteString("#define ")
	b.WriteString(d.Name)
	if d.FunctionLike {
		params := make([]string, len(d.Params))
		for i, p := range d.Params {
			if p == VarArgs && d.Variadic {
				p = "..."
			}
			params[i] = p
		}
		b.WriteString("(" + strings.Join(params, ",") + ")")
	}
	if len(d.Replacement) > 0 {
		b.WriteByte(' ')
		b.WriteString(token.Text(d.Replacement))
	}
	return b.String()
}

// ---------------- Arguments ----------------

// Arguments reads the argument list of an invocation from src, which is
// positioned just after '('. Each argument is trimmed; an empty one is a
// single placemarker.
func (d *Definition) Arguments(src Source) ([][]token.Token, error) {
	var args [][]token.Token
	var cur []token.Token
	depth := 0
	for {
		t, err := src.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("unterminated argument list invoking macro %q", d.Name)
		}
		if err != nil {
			return nil, err
		}
		switch {
		case t.IsOp("("):
			depth++
		case t.IsOp(")"):
			if depth == 0 {
				args = append(args, finishArg(cur))
				return d.checkArgs(args)
			}
			depth--
		case t.IsOp(",") && depth == 0:
			// commas inside the variable part stay in __VA_ARGS__
			if !d.Variadic || len(args) < len(d.Params)-1 {
				args = append(args, finishArg(cur))
				cur = nil
				continue
			}
		}
		cur = append(cur, t)
	}
}

func finishArg(toks []token.Token) []token.Token {
	toks = token.TrimWhitespace(toks)
	if len(toks) == 0 {
		return []token.Token{token.NewPlacemarker()}
	}
	return append([]token.Token(nil), toks...)
}

func isPlacemarkerArg(arg []token.Token) bool {
	return len(arg) == 1 && arg[0].Kind == token.Placemarker
}

func (d *Definition) checkArgs(args [][]token.Token) ([][]token.Token, error) {
	want := len(d.Params)
	if want == 0 && len(args) == 1 && isPlacemarkerArg(args[0]) {
		return nil, nil
	}
	if d.Variadic {
		if len(args) == want-1 {
			args = append(args, []token.Token{token.NewPlacemarker()})
		}
		if len(args) < want {
			return nil, fmt.Errorf("macro %q requires %d arguments, but only %d given", d.Name, want-1, len(args))
		}
		return args, nil
	}
	if len(args) < want {
		return nil, fmt.Errorf("macro %q requires %d arguments, but only %d given", d.Name, want, len(args))
	}
	if len(args) > want {
		return nil, fmt.Errorf("macro %q passed %d arguments, but takes just %d", d.Name, len(args), want)
	}
	return args, nil
}

// ---------------- Replacement ----------------

// Stringize spells arg as a string literal. Whitespace runs become one space,
// exterior whitespace is dropped, and '"' and '\' inside literals are escaped.
func Stringize(arg []token.Token) token.Token {
	var b strings.Builder
	b.WriteByte('"')
	space := false
	for _, t := range arg {
		switch {
		case t.Kind == token.Placemarker:
			continue
		case t.IsWhitespace():
			space = b.Len() > 1
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		if t.Kind == token.StringLiteral || t.Kind == token.CharLiteral {
			b.WriteString(escaper.Replace(t.Text))
		} else {
			b.WriteString(t.Text)
		}
	}
	b.WriteByte('"')
	return token.New(b.String(), token.StringLiteral)
}

var escaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Paste joins lhs and rhs. When the joined text is not a single token both
// operands are kept.
func Paste(lhs, rhs token.Token) []token.Token {
	switch {
	case lhs.Kind == token.Placemarker:
		return []token.Token{rhs}
	case rhs.Kind == token.Placemarker:
		return []token.Token{lhs}
	}
	if t, ok := tokenizer.Relex(lhs.Text + rhs.Text); ok {
		return []token.Token{t.At(lhs)}
	}
	return []token.Token{lhs, rhs}
}

func pasteFollows(repl []token.Token, i int) bool {
	j := skipWS(repl, i+1)
	return j < len(repl) && repl[j].IsOp("##")
}

// Replace substitutes args into the replacement list. Parameters next to '#'
// or '##' take the argument as written, the others take it macro-expanded by
// expand, which runs at most once per parameter.
func (d *Definition) Replace(args [][]token.Token, expand func([]token.Token) ([]token.Token, error)) ([]token.Token, error) {
	repl := d.Replacement
	out := make([]token.Token, 0, len(repl))
	expanded := map[int][]token.Token{}
	pasting := false

	add := func(toks ...token.Token) {
		if pasting && len(toks) > 0 && len(out) > 0 {
			lhs := out[len(out)-1]
			out = append(out[:len(out)-1], Paste(lhs, toks[0])...)
			toks = toks[1:]
		}
		pasting = false
		out = append(out, toks...)
	}

	for i := 0; i < len(repl); i++ {
		t := repl[i]
		switch {
		case t.IsOp("##"):
			for len(out) > 0 && out[len(out)-1].IsWhitespace() {
				out = out[:len(out)-1]
			}
			pasting = true
		case pasting && t.IsWhitespace():
		case d.FunctionLike && t.IsOp("#"):
			j := skipWS(repl, i+1)
			add(Stringize(args[d.index[repl[j].Text]]).At(t))
			i = j
		case d.FunctionLike && d.isParam(t):
			p := d.index[t.Text]
			if pasting || pasteFollows(repl, i) {
				add(args[p]...)
				continue
			}
			exp, ok := expanded[p]
			if !ok {
				var err error
				if exp, err = expand(stripPlacemarkers(args[p])); err != nil {
					return nil, err
				}
				expanded[p] = exp
			}
			add(exp...)
		default:
			add(t)
		}
	}

	res := make([]token.Token, 0, len(out))
	for _, t := range out {
		if t.Kind == token.Placemarker {
			continue
		}
		if t.Macro == "" {
			t = t.WithMacro(d.Name)
		}
		res = append(res, t)
	}
	return res, nil
}

func stripPlacemarkers(toks []token.Token) []token.Token {
	if isPlacemarkerArg(toks) {
		return nil
	}
	return toks
}
