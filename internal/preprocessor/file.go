package preprocessor

import (
	"io"

	"github.com/fwessels/cpip/internal/token"
	"github.com/fwessels/cpip/internal/tokenizer"
)

// file is one open source on the file stack. It is the token source macro
// invocations read their arguments from, with one unget slot.
type file struct {
	name string
	tz   *tokenizer.Tokenizer

	unget   *token.Token
	bol     bool
	prevBol bool
	// whitespace read at the start of the current line
	lead []token.Token

	// depth of the conditional stack when the file was entered
	condDepth int
	// set by #line
	lineDelta    int
	presumedName string
	// line in this file that follows the #include being processed
	resume int

	// resolved files own an entry on the resolver stack
	resolved bool
	// virtual files hold text produced by a pragma handler
	virtual bool
	entered bool
}

func newFile(name, text string) (*file, error) {
	tz, err := tokenizer.New(name, text)
	if err != nil {
		return nil, err
	}
	return &file{name: name, tz: tz, bol: true}, nil
}

// Next returns the next token of the file. prevBol tells whether it started
// a line.
func (f *file) Next() (token.Token, error) {
	var t token.Token
	if f.unget != nil {
		t = *f.unget
		f.unget = nil
	} else {
		var err error
		if t, err = f.tz.Next(); err != nil {
			return t, err
		}
	}
	f.prevBol = f.bol
	switch {
	case t.HasNewline():
		f.bol = true
	case !t.IsWhitespace():
		f.bol = false
	}
	return t, nil
}

func (f *file) Unget(t token.Token) {
	if f.unget != nil {
		panic("preprocessor: second Unget without Next")
	}
	f.unget = &t
	f.bol = f.prevBol
}

// readLine reads up to the end of a directive line. nl is the whitespace
// token ending it, the zero token at end of file.
func (f *file) readLine() (toks []token.Token, nl token.Token, err error) {
	for {
		t, err := f.Next()
		if err == io.EOF {
			return toks, token.Token{}, nil
		}
		if err != nil {
			return nil, token.Token{}, err
		}
		if t.HasNewline() {
			return toks, t, nil
		}
		toks = append(toks, t)
	}
}

// presumed is the name __FILE__ and line markers report.
func (f *file) presumed() string {
	if f.presumedName != "" {
		return f.presumedName
	}
	return f.name
}
