package preprocessor

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/fwessels/cpip/internal/cond"
	"github.com/fwessels/cpip/internal/diag"
	"github.com/fwessels/cpip/internal/include"
	"github.com/fwessels/cpip/internal/macro"
	"github.com/fwessels/cpip/internal/pragma"
	"github.com/fwessels/cpip/internal/token"
	"github.com/fwessels/cpip/internal/tokenizer"
)

// ---------------- Directives ----------------

func isConditional(name string) bool {
	switch name {
	case "if", "ifdef", "ifndef", "elif", "else", "endif":
		return true
	}
	return false
}

// directive handles the line introduced by hash. Each directive leaves the
// newline ending it in the output.
func (p *Preprocessor) directive(f *file, hash token.Token) error {
	active := p.cond.Active()

	var name token.Token
	for {
		t, err := f.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return p.fail(err, hash)
		}
		if t.HasNewline() {
			// the null directive
			p.emit(newline(t))
			return nil
		}
		if !t.IsWhitespace() {
			name = t
			break
		}
	}

	switch name.Text {
	case "error", "warning", "include", "include_next":
		f.tz.Lenient = true
	default:
		f.tz.Lenient = !active
	}
	rest, nl, err := f.readLine()
	if err != nil {
		return p.fail(err, name)
	}

	switch {
	case name.Kind == token.Identifier && isConditional(name.Text):
		err = p.conditional(f, name, rest)
	case !active:
	case name.Kind != token.Identifier:
		err = p.errorf(diag.Directive, name, "invalid preprocessing directive")
	default:
		err = p.activeDirective(f, name, rest)
	}
	if err != nil {
		return err
	}
	// text from a pragma handler adds no lines
	if nl.Text != "" && !f.virtual {
		p.emit(newline(nl))
	}
	return nil
}

func (p *Preprocessor) activeDirective(f *file, name token.Token, rest []token.Token) error {
	switch name.Text {
	case "define":
		return p.define(name, rest)
	case "undef":
		return p.undef(name, rest)
	case "include":
		return p.include(f, name, rest)
	case "include_next":
		if !p.opts.GCCExtensions {
			return p.errorf(diag.Directive, name, "invalid preprocessing directive #include_next")
		}
		return p.include(f, name, rest)
	case "line":
		return p.lineDirective(f, name, rest)
	case "error":
		return p.errorf(diag.UserError, name, "#error %s", strings.TrimSpace(token.Text(rest)))
	case "warning":
		if !p.opts.GCCExtensions {
			return p.errorf(diag.Directive, name, "invalid preprocessing directive #warning")
		}
		p.warnf(name, "#warning %s", strings.TrimSpace(token.Text(rest)))
		return nil
	case "pragma":
		return p.pragmaDirective(name, rest)
	}
	return p.errorf(diag.Directive, name, "invalid preprocessing directive #%s", name.Text)
}

func (p *Preprocessor) extraTokens(name token.Token, toks []token.Token) {
	if len(token.Strip(toks)) > 0 {
		p.warnf(name, "extra tokens at end of #%s directive", name.Text)
	}
}

// macroName returns the identifier operand of #ifdef, #ifndef or #undef and
// whatever follows it.
func (p *Preprocessor) macroName(name token.Token, rest []token.Token) (token.Token, []token.Token, error) {
	ops := token.TrimWhitespace(rest)
	if len(ops) == 0 {
		return token.Token{}, nil, p.errorf(diag.Directive, name, "no macro name given in #%s directive", name.Text)
	}
	if ops[0].Kind != token.Identifier {
		return token.Token{}, nil, p.errorf(diag.Directive, ops[0], "macro names must be identifiers")
	}
	return ops[0], ops[1:], nil
}

func (p *Preprocessor) define(name token.Token, rest []token.Token) error {
	d, err := macro.Parse(rest, name.File, name.Phys.Line)
	if err != nil {
		return p.errorf(diag.Directive, name, "%s", err)
	}
	if err := p.env.Define(d); err != nil {
		return p.errorf(diag.Macro, name, "%s", err)
	}
	return nil
}

func (p *Preprocessor) undef(name token.Token, rest []token.Token) error {
	id, extra, err := p.macroName(name, rest)
	if err != nil || id.Text == "" {
		return err
	}
	p.extraTokens(name, extra)
	if err := p.env.Undef(id.Text, id.File, id.Phys.Line); err != nil {
		return p.errorf(diag.Macro, id, "%s", err)
	}
	return nil
}

// ---------------- Conditional directives ----------------

func (p *Preprocessor) conditional(f *file, name token.Token, rest []token.Token) error {
	expr := strings.TrimSpace(token.Text(rest))
	line := name.Phys.Line
	switch name.Text {
	case "ifdef", "ifndef":
		if !p.cond.Active() {
			p.cond.Push(name.Text, expr, false, name.File, line)
			return nil
		}
		id, extra, err := p.macroName(name, rest)
		if err != nil || id.Text == "" {
			return err
		}
		p.extraTokens(name, extra)
		v := p.env.Defined(id.Text, macro.Location{File: id.File, Line: id.Phys.Line})
		explain := "defined(" + id.Text + ")"
		if name.Text == "ifndef" {
			v = !v
			explain = "!" + explain
		}
		p.cond.Push(name.Text, explain, v, name.File, line)
		return nil

	case "if":
		var v bool
		if p.cond.Active() {
			var err error
			if v, err = p.evaluate(name, rest); err != nil {
				return err
			}
		}
		p.cond.Push("if", expr, v, name.File, line)
		return nil

	case "elif":
		if p.cond.Depth() <= f.condDepth {
			return p.errorf(diag.Conditional, name, "%s", cond.ErrElifWithoutIf)
		}
		var v bool
		if p.cond.NeedsElif() {
			var err error
			if v, err = p.evaluate(name, rest); err != nil {
				return err
			}
		}
		if err := p.cond.Elif(expr, v, name.File, line); err != nil {
			return p.errorf(diag.Conditional, name, "%s", err)
		}
		return nil

	case "else":
		if p.cond.Depth() <= f.condDepth {
			return p.errorf(diag.Conditional, name, "%s", cond.ErrElseWithoutIf)
		}
		before := p.cond.Active()
		if err := p.cond.Else(); err != nil {
			return p.errorf(diag.Conditional, name, "%s", err)
		}
		if before || p.cond.Active() {
			p.extraTokens(name, rest)
		}
		return nil

	case "endif":
		if p.cond.Depth() <= f.condDepth {
			return p.errorf(diag.Conditional, name, "%s", cond.ErrEndifWithoutIf)
		}
		if err := p.cond.Pop(); err != nil {
			return p.errorf(diag.Conditional, name, "%s", err)
		}
		if p.cond.Active() {
			p.extraTokens(name, rest)
		}
		return nil
	}
	return nil
}

// evaluate computes the #if or #elif expression rest. A non-fatal error
// makes the condition false.
func (p *Preprocessor) evaluate(at token.Token, rest []token.Token) (bool, error) {
	loc := macro.Location{File: at.File, Line: at.Phys.Line}
	toks, err := cond.ReplaceDefined(rest, func(name string) bool {
		return p.env.Defined(name, loc)
	})
	if err == nil {
		p.line = at.Pos.Line
		toks, err = macro.ExpandTokens(p.env, toks, p.dynamic)
		if err != nil {
			return false, p.expansionError(at, err)
		}
	}
	var v bool
	if err == nil {
		v, err = cond.Evaluate(toks)
	}
	if err != nil {
		return false, p.errorf(diag.Conditional, at, "%s", err)
	}
	return v, nil
}

// ---------------- #include ----------------

// headerName reads a header-name from the text of toks.
func headerName(toks []token.Token) (token.Token, bool, bool) {
	toks = token.TrimWhitespace(toks)
	if len(toks) == 0 {
		return token.Token{}, false, false
	}
	hdr, rest, ok := tokenizer.HeaderName(token.Text(toks))
	if !ok {
		return token.Token{}, false, false
	}
	return hdr.At(toks[0]), strings.TrimSpace(rest) != "", true
}

func (p *Preprocessor) include(f *file, name token.Token, rest []token.Token) error {
	hdr, extra, ok := headerName(rest)
	if !ok {
		p.line = name.Pos.Line
		exp, err := macro.ExpandTokens(p.env, rest, p.dynamic)
		if err != nil {
			return p.expansionError(name, err)
		}
		hdr, extra, ok = headerName(exp)
	}
	if !ok {
		return p.errorf(diag.Directive, name, "#%s expects \"FILENAME\" or <FILENAME>", name.Text)
	}
	if extra {
		p.warnf(name, "extra tokens at end of #%s directive", name.Text)
	}
	if depth := p.resolver.Depth(); depth >= p.opts.MaxIncludeDepth {
		return p.errorf(diag.Directive, name, "#include nested depth %d exceeds maximum of %d", depth, p.opts.MaxIncludeDepth)
	}

	spelled := hdr.Text[1 : len(hdr.Text)-1]
	var (
		e     include.Entry
		found bool
		err   error
	)
	switch {
	case name.Text == "include_next":
		e, found, err = p.resolver.Next(spelled)
	case hdr.Text[0] == '<':
		e, found, err = p.resolver.Angle(spelled)
	default:
		e, found, err = p.resolver.Quoted(spelled)
	}
	switch {
	case errors.Is(err, include.ErrIncludeNext):
		return p.errorf(diag.Directive, name, "%s", err)
	case err != nil:
		return p.errorf(diag.Include, hdr, "%s: %s", spelled, err)
	case !found:
		return p.errorf(diag.Include, hdr, "%s: No such file or directory", spelled)
	}

	text, err := p.loader.Load(e.Path)
	if err == nil {
		var nf *file
		if nf, err = newFile(e.Path, text); err == nil {
			nf.resolved = true
			f.resume = name.Pos.Line + 1
			p.push(nf)
			p.includes[e.Path]++
			p.edges = append(p.edges, IncludeEdge{
				From:   f.name,
				Line:   name.Phys.Line,
				Path:   e.Path,
				Origin: e.Origin,
				Trace:  e.Trace,
			})
			return nil
		}
	}
	p.resolver.Pop()
	var de *diag.Error
	if errors.As(err, &de) {
		return p.report.Report(de)
	}
	return p.errorf(diag.Include, hdr, "%s", err)
}

// ---------------- #line ----------------

var unquoter = strings.NewReplacer(`\\`, `\`, `\"`, `"`)

func (p *Preprocessor) lineDirective(f *file, name token.Token, rest []token.Token) error {
	p.line = name.Pos.Line
	toks, err := macro.ExpandTokens(p.env, rest, p.dynamic)
	if err != nil {
		return p.expansionError(name, err)
	}
	ops := token.Strip(toks)
	if len(ops) == 0 || ops[0].Kind != token.PPNumber || strings.Trim(ops[0].Text, "0123456789") != "" {
		return p.errorf(diag.Directive, name, "#line directive requires a simple digit sequence")
	}
	n, err := strconv.Atoi(ops[0].Text)
	if err != nil {
		return p.errorf(diag.Directive, ops[0], "line number out of range")
	}
	if len(ops) > 1 {
		s := ops[1].Text
		if ops[1].Kind != token.StringLiteral || s[0] != '"' {
			return p.errorf(diag.Directive, ops[1], "invalid filename %s", s)
		}
		f.presumedName = unquoter.Replace(s[1 : len(s)-1])
		p.extraTokens(name, ops[2:])
	}
	f.lineDelta = n - (name.Pos.Line + 1)
	return nil
}

// ---------------- #pragma ----------------

func (p *Preprocessor) pragmaDirective(name token.Token, rest []token.Token) error {
	ops := token.TrimWhitespace(rest)
	if p.pragma.ExpandOperands() {
		p.line = name.Pos.Line
		exp, err := macro.ExpandTokens(p.env, ops, p.dynamic)
		if err != nil {
			return p.expansionError(name, err)
		}
		ops = token.TrimWhitespace(exp)
	}
	res, err := p.pragma.Handle(pragma.Pragma{File: name.File, Line: name.Phys.Line, Operands: ops})
	if err != nil {
		p.warnf(name, "%s", err)
		return nil
	}
	text := strings.TrimSuffix(res.Text, "\n")
	if text == "" {
		return nil
	}
	if res.Literal {
		toks, err := tokenizer.Tokenize(name.File, text)
		if err != nil {
			return p.fail(err, name)
		}
		for _, t := range toks {
			p.emit(t.At(name).Paint())
		}
		return nil
	}
	nf, err := newFile("<pragma>", text+"\n")
	if err != nil {
		return p.fail(err, name)
	}
	nf.virtual = true
	p.push(nf)
	return nil
}
