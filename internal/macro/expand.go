package macro

import (
	"errors"
	"io"

	"github.com/fwessels/cpip/internal/token"
)

// MaxFrames bounds the replacement nesting of a single expansion.
const MaxFrames = 4096

var ErrTooDeep = errors.New("macro expansion nested too deeply")

// Dynamic computes the replacement of a dynamic name such as __LINE__.
type Dynamic func(name string) (token.Token, bool)

// InvocationError is an error raised while replacing the macro at Tok.
type InvocationError struct {
	Tok token.Token
	Err error
}

func (e *InvocationError) Error() string { return e.Err.Error() }

func (e *InvocationError) Unwrap() error { return e.Err }

// ---------------- Expander ----------------

// frame is the unread rest of one macro replacement. A name is disabled
// while a frame carrying it is on the stack.
type frame struct {
	name string
	toks []token.Token
	pos  int
}

// Expander rescans replacements through a stack of frames. When the frames
// run out, lookahead and arguments come from the base source, so an
// expansion ending in a function-like name can take its arguments from the
// text that follows.
type Expander struct {
	env     *Env
	base    Pushback
	dynamic Dynamic
	frames  []*frame
	// names disabled by the expansion that owns this one
	inherit map[string]bool
}

func NewExpander(env *Env, base Pushback, dyn Dynamic) *Expander {
	return &Expander{env: env, base: base, dynamic: dyn}
}

// Expandable reports whether t would be replaced.
func (x *Expander) Expandable(t token.Token) bool {
	if t.Kind != token.Identifier || t.Painted() {
		return false
	}
	return x.env.Has(t.Text)
}

// Expand replaces the macro named by tok and rescans the result until no
// frame is left. Tokens past the invocation stay unread in the base.
func (x *Expander) Expand(tok token.Token) ([]token.Token, error) {
	var out []token.Token
	if err := x.replace(tok, &out); err != nil {
		return nil, err
	}
	for {
		t, ok := x.fromFrames()
		if !ok {
			return out, nil
		}
		if err := x.emit(t, &out); err != nil {
			return nil, err
		}
	}
}

// drain expands everything up to the end of the base.
func (x *Expander) drain() ([]token.Token, error) {
	var out []token.Token
	for {
		t, err := x.next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if err := x.emit(t, &out); err != nil {
			return nil, err
		}
	}
}

// ExpandTokens fully expands a standalone token list.
func ExpandTokens(env *Env, toks []token.Token, dyn Dynamic) ([]token.Token, error) {
	return NewExpander(env, NewSliceSource(toks), dyn).drain()
}

func (x *Expander) emit(t token.Token, out *[]token.Token) error {
	if x.Expandable(t) {
		return x.replace(t, out)
	}
	*out = append(*out, t)
	return nil
}

func (x *Expander) disabled(name string) bool {
	if x.inherit[name] {
		return true
	}
	for _, f := range x.frames {
		if f.name == name {
			return true
		}
	}
	return false
}

// guard paints an identifier met while its own macro is being replaced.
func (x *Expander) guard(t token.Token) token.Token {
	if t.Kind == token.Identifier && !t.Painted() && x.disabled(t.Text) {
		return t.Paint()
	}
	return t
}

// fromFrames reads the next frame token. An exhausted frame is popped only
// when reading past it, so its name stays disabled while its last
// token is replaced.
func (x *Expander) fromFrames() (token.Token, bool) {
	for len(x.frames) > 0 {
		top := x.frames[len(x.frames)-1]
		if top.pos >= len(top.toks) {
			x.frames = x.frames[:len(x.frames)-1]
			continue
		}
		t := top.toks[top.pos]
		top.pos++
		return x.guard(t), true
	}
	return token.Token{}, false
}

func (x *Expander) next() (token.Token, error) {
	if t, ok := x.fromFrames(); ok {
		return t, nil
	}
	t, err := x.base.Next()
	if err != nil {
		return t, err
	}
	return x.guard(t), nil
}

// Next makes the expander the argument source of an invocation.
func (x *Expander) Next() (token.Token, error) { return x.next() }

func (x *Expander) push(name string, toks []token.Token) error {
	if len(x.frames) >= MaxFrames {
		return ErrTooDeep
	}
	x.frames = append(x.frames, &frame{name: name, toks: toks})
	return nil
}

func (x *Expander) replace(tok token.Token, out *[]token.Token) error {
	if x.env.IsDynamic(tok.Text) && x.dynamic != nil {
		if t, ok := x.dynamic(tok.Text); ok {
			*out = append(*out, t.At(tok))
			return nil
		}
	}
	d, ok := x.env.Lookup(tok.Text)
	if !ok {
		*out = append(*out, tok)
		return nil
	}
	at := Location{File: tok.File, Line: tok.Phys.Line}

	if !d.FunctionLike {
		repl, err := d.Replace(nil, nil)
		if err != nil {
			return &InvocationError{Tok: tok, Err: err}
		}
		_ = d.IncRefCount(at)
		return x.push(d.Name, repl)
	}

	ws, found, err := x.openParen()
	if err != nil {
		return err
	}
	if !found {
		*out = append(*out, tok)
		*out = append(*out, ws...)
		return nil
	}
	args, err := d.Arguments(x)
	if err != nil {
		return &InvocationError{Tok: tok, Err: err}
	}
	repl, err := d.Replace(args, x.expandArg)
	if err != nil {
		return err
	}
	_ = d.IncRefCount(at)
	return x.push(d.Name, repl)
}

// openParen consumes the '(' of an invocation. When the next non-whitespace
// token is something else it stays unread, and any whitespace read from the
// base on the way is returned.
func (x *Expander) openParen() (ws []token.Token, found bool, err error) {
	for i := len(x.frames) - 1; i >= 0; i-- {
		f := x.frames[i]
		for j := f.pos; j < len(f.toks); j++ {
			if f.toks[j].IsWhitespace() {
				continue
			}
			if !f.toks[j].IsOp("(") {
				return nil, false, nil
			}
			for {
				t, _ := x.fromFrames()
				if t.IsOp("(") {
					return nil, true, nil
				}
			}
		}
	}

	// the frames hold nothing but whitespace
	for {
		t, ok := x.fromFrames()
		if !ok {
			break
		}
		ws = append(ws, t)
	}
	for {
		t, err := x.base.Next()
		if err == io.EOF {
			return ws, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		if t.IsWhitespace() {
			ws = append(ws, t)
			continue
		}
		if t.IsOp("(") {
			return nil, true, nil
		}
		x.base.Unget(t)
		return ws, false, nil
	}
}

// expandArg fully expands one argument on its own. Names disabled here stay
// disabled inside it.
func (x *Expander) expandArg(arg []token.Token) ([]token.Token, error) {
	inherit := make(map[string]bool, len(x.inherit)+len(x.frames))
	for n := range x.inherit {
		inherit[n] = true
	}
	for _, f := range x.frames {
		inherit[f.name] = true
	}
	sub := &Expander{
		env:     x.env,
		base:    NewSliceSource(arg),
		dynamic: x.dynamic,
		inherit: inherit,
	}
	return sub.drain()
}

// ---------------- SliceSource ----------------

// SliceSource reads a token list with a single unget slot.
type SliceSource struct {
	toks  []token.Token
	pos   int
	unget *token.Token
}

func NewSliceSource(toks []token.Token) *SliceSource {
	return &SliceSource{toks: toks}
}

func (s *SliceSource) Next() (token.Token, error) {
	if s.unget != nil {
		t := *s.unget
		s.unget = nil
		return t, nil
	}
	if s.pos >= len(s.toks) {
		return token.Token{}, io.EOF
	}
	t := s.toks[s.pos]
	s.pos++
	return t, nil
}

// Unget pushes t back. Only one token can be pushed back at a time.
func (s *SliceSource) Unget(t token.Token) {
	if s.unget != nil {
		panic("macro: second Unget without Next")
	}
	s.unget = &t
}
