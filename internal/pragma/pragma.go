package pragma

import (
	"fmt"
	"strings"

	"github.com/fwessels/cpip/internal/token"
)

// Pragma is one #pragma directive.
type Pragma struct {
	File string
	Line int
	// Operands are the tokens after "pragma", trimmed and without the
	// terminating newline; macro-expanded when the handler asks for it.
	Operands []token.Token
}

func (p Pragma) Text() string {
	return token.Text(p.Operands)
}

// Result says what replaces the directive in the output.
type Result struct {
	Text string
	// Literal text is emitted as is. Otherwise it is preprocessed again as if
	// it had been written in place of the directive.
	Literal bool
}

// Handler decides what a #pragma turns into.
type Handler interface {
	Name() string
	// ExpandOperands reports whether operands are macro-expanded before Handle.
	ExpandOperands() bool
	Handle(p Pragma) (Result, error)
}

// ---------------- Handlers ----------------

// PassThrough writes the directive back into the output.
type PassThrough struct {
	Expand bool
}

func (PassThrough) Name() string { return "pass-through" }

func (h PassThrough) ExpandOperands() bool { return h.Expand }

func (PassThrough) Handle(p Pragma) (Result, error) {
	text := "#pragma"
	if s := p.Text(); s != "" {
		text += " " + s
	}
	return Result{Text: text + "\n", Literal: true}, nil
}

// Consume drops every pragma.
type Consume struct{}

func (Consume) Name() string { return "consume" }

func (Consume) ExpandOperands() bool { return false }

func (Consume) Handle(Pragma) (Result, error) { return Result{}, nil }

var stdcPragmas = map[string]bool{
	"FP_CONTRACT":      true,
	"FENV_ACCESS":      true,
	"CX_LIMITED_RANGE": true,
}

var stdcStates = map[string]bool{"ON": true, "OFF": true, "DEFAULT": true}

// STDC turns the standard pragmas into macros, so
//
//	#pragma STDC FP_CONTRACT ON
//
// becomes "#define STDC_FP_CONTRACT ON". Other pragmas pass through.
type STDC struct{}

func (STDC) Name() string { return "stdc" }

func (STDC) ExpandOperands() bool { return false }

func (STDC) Handle(p Pragma) (Result, error) {
	ops := token.Strip(p.Operands)
	if len(ops) == 0 || !ops[0].IsIdent("STDC") {
		return PassThrough{}.Handle(p)
	}
	if len(ops) != 3 || !stdcPragmas[ops[1].Text] || !stdcStates[ops[2].Text] {
		return Result{}, fmt.Errorf("malformed #pragma STDC %s", strings.TrimSpace(token.Text(p.Operands[1:])))
	}
	return Result{Text: fmt.Sprintf("#define STDC_%s %s\n", ops[1].Text, ops[2].Text)}, nil
}

// ByName returns the handler configured as name. The empty name is
// PassThrough.
func ByName(name string) (Handler, error) {
	switch name {
	case "", "pass-through":
		return PassThrough{}, nil
	case "consume":
		return Consume{}, nil
	case "stdc":
		return STDC{}, nil
	}
	return nil, fmt.Errorf("unknown pragma handler %q", name)
}
