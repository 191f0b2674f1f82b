package preprocessor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/fwessels/cpip/internal/cond"
	"github.com/fwessels/cpip/internal/diag"
	"github.com/fwessels/cpip/internal/include"
	"github.com/fwessels/cpip/internal/macro"
	"github.com/fwessels/cpip/internal/position"
	"github.com/fwessels/cpip/internal/pragma"
	"github.com/fwessels/cpip/internal/source"
	"github.com/fwessels/cpip/internal/token"
	"github.com/fwessels/cpip/internal/tokenizer"
)

const DefaultMaxIncludeDepth = 200

var (
	ErrExhausted = errors.New("token stream already generating or exhausted")
	ErrNotOpen   = errors.New("no translation unit open")
	ErrOpen      = errors.New("translation unit already open")
	ErrClosed    = errors.New("preprocessor closed")
)

// ---------------- Options ----------------

type Options struct {
	UserDirs []string
	SysDirs  []string
	// PreIncludes are read, in order, before the translation unit. Each must
	// end in a newline.
	PreIncludes []string
	// Defines are NAME or NAME=VALUE; VALUE defaults to 1.
	Defines []string
	// GCCExtensions enables #include_next and #warning.
	GCCExtensions bool

	Policy diag.Policy
	Pragma pragma.Handler
	Fs     afero.Fs
	Logger logrus.FieldLogger

	// MinWhitespace shortens every whitespace run to " " or "\n".
	MinWhitespace bool
	// AnnotateLines emits `# N "file" flags` line markers where files are
	// entered and left.
	AnnotateLines   bool
	MaxIncludeDepth int
	// Now sets __DATE__ and __TIME__.
	Now func() time.Time
}

func defaultLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

// ---------------- Preprocessor ----------------

// IncludeEdge is one resolved #include.
type IncludeEdge struct {
	From   string
	Line   int
	Path   string
	Origin include.Origin
	Trace  []string
}

// Preprocessor turns one translation unit into its stream of preprocessing
// tokens. It is single use: open a unit, pull tokens, close.
type Preprocessor struct {
	opts     Options
	log      logrus.FieldLogger
	env      *macro.Env
	cond     *cond.Stack
	resolver *include.Resolver
	loader   *source.Loader
	report   *diag.Reporter
	pragma   pragma.Handler

	files []*file
	out   []token.Token
	// logical line of the token being expanded, for __LINE__
	line   int
	lastNL bool

	err       error
	opened    bool
	done      bool
	closed    bool
	iterating bool

	includes map[string]int
	edges    []IncludeEdge
}

func New(opts Options) (*Preprocessor, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = defaultLogger()
	}
	if opts.Policy == nil {
		opts.Policy = diag.FailFast{}
	}
	if opts.Pragma == nil {
		opts.Pragma = pragma.PassThrough{}
	}
	if opts.MaxIncludeDepth <= 0 {
		opts.MaxIncludeDepth = DefaultMaxIncludeDepth
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	loader, err := source.NewLoader(opts.Fs, source.DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	resolver, err := include.NewResolver(opts.Fs, opts.UserDirs, opts.SysDirs, opts.Logger)
	if err != nil {
		return nil, err
	}
	p := &Preprocessor{
		opts:     opts,
		log:      opts.Logger,
		env:      macro.NewEnv(),
		cond:     cond.NewStack(),
		resolver: resolver,
		loader:   loader,
		report:   diag.NewReporter(opts.Policy, opts.Logger),
		pragma:   opts.Pragma,
		lastNL:   true,
		includes: map[string]int{},
	}
	if err := p.predefine(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewPreprocessor returns a preprocessor with default options.
func NewPreprocessor() *Preprocessor {
	p, err := New(Options{})
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Preprocessor) predefine() error {
	p.env.SetDynamic("__FILE__", "__LINE__")
	now := p.opts.Now()
	for _, text := range []string{
		`__DATE__ "` + now.Format("Jan _2 2006") + `"`,
		`__TIME__ "` + now.Format("15:04:05") + `"`,
	} {
		if err := p.env.DefineText(text, "<built-in>", 0); err != nil {
			return err
		}
	}
	for _, s := range p.opts.Defines {
		name, value := ParseDefine(s)
		d, err := macro.ParseText(name+" "+value, "<command-line>", 0)
		if err == nil {
			err = p.env.Define(d)
		}
		if err != nil {
			return pkgerrors.Wrapf(err, "define %s", s)
		}
	}
	return nil
}

// ParseDefine splits NAME=VALUE. A bare NAME is defined as 1.
func ParseDefine(s string) (name, value string) {
	if i := strings.IndexByte(s, '='); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, "1"
}

// Open starts preprocessing the file at path.
func (p *Preprocessor) Open(path string) error {
	if p.opened {
		return ErrOpen
	}
	text, err := p.loader.Load(path)
	if err != nil {
		return err
	}
	return p.open(path, text)
}

// OpenReader starts preprocessing the text read from r, named name.
func (p *Preprocessor) OpenReader(name string, r io.Reader) error {
	if p.opened {
		return ErrOpen
	}
	text, err := source.Read(r)
	if err != nil {
		return err
	}
	return p.open(name, text)
}

func (p *Preprocessor) open(path, text string) error {
	p.opened = true
	tu, err := newFile(path, text)
	if err != nil {
		return err
	}
	tu.resolved = true
	p.resolver.Push(path, include.TranslationUnit)
	p.includes[path]++
	p.files = append(p.files, tu)

	// pre-includes sit above the unit, the first one on top
	for i := len(p.opts.PreIncludes) - 1; i >= 0; i-- {
		name := p.opts.PreIncludes[i]
		text, err := p.loader.Load(name)
		if err != nil {
			return err
		}
		if !strings.HasSuffix(text, "\n") {
			return diag.Errorf(diag.Directive, name, position.Pos{}, "pre-include does not end in a newline")
		}
		f, err := newFile(name, text)
		if err != nil {
			return err
		}
		f.resolved = true
		p.resolver.Push(name, include.PreInclude)
		p.includes[name]++
		p.files = append(p.files, f)
	}
	return nil
}

// Next returns the next output token, io.EOF at the end. A fatal diagnostic
// is returned again by every later call.
func (p *Preprocessor) Next() (token.Token, error) {
	switch {
	case p.closed:
		return token.Token{}, ErrClosed
	case !p.opened:
		return token.Token{}, ErrNotOpen
	}
	for len(p.out) == 0 {
		if p.err != nil {
			return token.Token{}, p.err
		}
		if p.done {
			return token.Token{}, io.EOF
		}
		err := p.step()
		switch {
		case err == io.EOF:
			p.done = true
		case err != nil:
			p.err = err
		}
	}
	t := p.out[0]
	p.out = p.out[1:]
	return t, nil
}

// All ranges over the remaining tokens. The sequence can be ranged over
// once; another attempt yields ErrExhausted.
func (p *Preprocessor) All() iter.Seq2[token.Token, error] {
	return func(yield func(token.Token, error) bool) {
		if p.iterating || p.done || p.closed {
			yield(token.Token{}, ErrExhausted)
			return
		}
		p.iterating = true
		defer func() { p.iterating = false }()
		for {
			t, err := p.Next()
			if err == io.EOF {
				return
			}
			if !yield(t, err) || err != nil {
				return
			}
		}
	}
}

// Close releases the open files. Tokens not yet pulled are dropped.
func (p *Preprocessor) Close() error {
	for range p.files {
		p.resolver.Pop()
	}
	p.files = nil
	p.out = nil
	p.closed = true
	return nil
}

// Process preprocesses the text read from r and writes the output text.
func (p *Preprocessor) Process(filename string, r io.Reader, w io.Writer) error {
	if err := p.OpenReader(filename, r); err != nil {
		return err
	}
	defer p.Close()

	var out bytes.Buffer
	for t, err := range p.All() {
		if err != nil {
			return err
		}
		out.WriteString(t.Text)
	}
	_, err := w.Write(out.Bytes())
	return err
}

// ---------------- Records ----------------

func (p *Preprocessor) Env() *macro.Env { return p.env }

func (p *Preprocessor) Reporter() *diag.Reporter { return p.report }

// Err aggregates the diagnostics that did not stop the run.
func (p *Preprocessor) Err() error { return p.report.Err() }

// Includes maps every file read to the number of times it was read.
func (p *Preprocessor) Includes() map[string]int {
	out := make(map[string]int, len(p.includes))
	for k, v := range p.includes {
		out[k] = v
	}
	return out
}

func (p *Preprocessor) IncludeEdges() []IncludeEdge {
	return append([]IncludeEdge(nil), p.edges...)
}

func (p *Preprocessor) Conditionals() []cond.Record {
	return p.cond.Records()
}

// Depth is the number of open files.
func (p *Preprocessor) Depth() int { return len(p.files) }

// ---------------- Token loop ----------------

func (p *Preprocessor) top() *file {
	if len(p.files) == 0 {
		return nil
	}
	return p.files[len(p.files)-1]
}

func (p *Preprocessor) push(f *file) {
	f.condDepth = p.cond.Depth()
	p.files = append(p.files, f)
}

// step reads one token, or one directive line, from the innermost file.
func (p *Preprocessor) step() error {
	f := p.top()
	if f == nil {
		return io.EOF
	}
	if !f.entered {
		f.entered = true
		p.enterMarker(f)
	}
	f.tz.Lenient = !p.cond.Active()
	tok, err := f.Next()
	if err == io.EOF {
		return p.leave()
	}
	if err != nil {
		return p.fail(err, tok)
	}

	switch {
	case f.prevBol && tok.IsOp("#"):
		f.lead = nil
		return p.directive(f, tok)
	case f.prevBol && tok.IsWhitespace() && !tok.HasNewline():
		f.lead = append(f.lead, tok)
		return nil
	}
	lead := f.lead
	f.lead = nil
	if !p.cond.Active() {
		if tok.HasNewline() {
			p.emit(newline(tok))
		}
		return nil
	}
	p.emit(lead...)

	x := macro.NewExpander(p.env, f, p.dynamic)
	if !x.Expandable(tok) {
		p.emit(tok)
		return nil
	}
	p.line = tok.Pos.Line
	toks, err := x.Expand(tok)
	if err != nil {
		if err := p.expansionError(tok, err); err != nil {
			return err
		}
		p.emit(tok.Paint())
		return nil
	}
	p.emit(toks...)
	return nil
}

// leave pops the innermost file at its end.
func (p *Preprocessor) leave() error {
	f := p.top()
	p.files = p.files[:len(p.files)-1]
	if f.resolved {
		p.resolver.Pop()
	}
	if p.cond.Depth() > f.condDepth {
		file, line, _ := p.cond.Unclosed()
		p.cond.Truncate(f.condDepth)
		if err := p.report.Report(diag.Errorf(diag.Conditional, file, position.Pos{Line: line}, "unterminated conditional directive")); err != nil {
			return err
		}
	}
	if next := p.top(); next != nil && next.entered && !f.virtual {
		p.marker(next, next.resume+next.lineDelta, "2")
	}
	return nil
}

func (p *Preprocessor) emit(toks ...token.Token) {
	for _, t := range toks {
		if t.IsWhitespace() {
			if p.opts.MinWhitespace {
				if t.HasNewline() {
					t.Text = "\n"
				} else {
					t.Text = " "
				}
			}
			if t.HasNewline() {
				p.lastNL = true
			}
		} else {
			p.lastNL = false
		}
		p.out = append(p.out, t)
	}
}

func newline(at token.Token) token.Token {
	return token.New("\n", token.Whitespace).At(at)
}

// dynamic computes __FILE__ and __LINE__ for the innermost file.
func (p *Preprocessor) dynamic(name string) (token.Token, bool) {
	f := p.top()
	if f == nil {
		return token.Token{}, false
	}
	switch name {
	case "__FILE__":
		return token.New(quote(f.presumed()), token.StringLiteral), true
	case "__LINE__":
		return token.New(strconv.Itoa(p.line+f.lineDelta), token.PPNumber), true
	}
	return token.Token{}, false
}

var quoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quote(s string) string {
	return `"` + quoter.Replace(s) + `"`
}

// ---------------- Line markers ----------------

func (p *Preprocessor) enterMarker(f *file) {
	flag := "1"
	if len(p.files) == 1 {
		flag = ""
	}
	p.marker(f, 1, flag)
}

func (p *Preprocessor) marker(f *file, line int, flag string) {
	if !p.opts.AnnotateLines || f.virtual {
		return
	}
	text := fmt.Sprintf("# %d %s", line, quote(f.presumed()))
	if flag != "" {
		text += " " + flag
	}
	toks, err := tokenizer.Tokenize("<marker>", text+"\n")
	if err != nil {
		p.log.WithError(err).Debug("line marker")
		return
	}
	if !p.lastNL {
		p.emit(token.New("\n", token.Whitespace))
	}
	for _, t := range toks {
		p.emit(t.Paint())
	}
}

// ---------------- Diagnostics ----------------

// errorf reports a diagnostic at tok. It returns non-nil when the policy
// makes it fatal.
func (p *Preprocessor) errorf(c diag.Class, tok token.Token, format string, args ...any) error {
	return p.report.Report(diag.Errorf(c, tok.File, tok.Phys, format, args...))
}

func (p *Preprocessor) warnf(tok token.Token, format string, args ...any) {
	p.report.Warnf(tok.File, tok.Phys, format, args...)
}

// fail reports an error that is not yet a diagnostic as a Lexical one.
func (p *Preprocessor) fail(err error, at token.Token) error {
	var de *diag.Error
	if errors.As(err, &de) {
		return p.report.Report(de)
	}
	return p.errorf(diag.Lexical, at, "%s", err)
}

// expansionError classifies an error raised while replacing the macro at tok.
func (p *Preprocessor) expansionError(tok token.Token, err error) error {
	var de *diag.Error
	if errors.As(err, &de) {
		return p.report.Report(de)
	}
	var ie *macro.InvocationError
	if errors.As(err, &ie) {
		return p.errorf(diag.Directive, ie.Tok, "%s", ie.Err)
	}
	return p.errorf(diag.Macro, tok, "%s", err)
}
