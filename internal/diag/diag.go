package diag

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/fwessels/cpip/internal/position"
)

type Class int

const (
	// Lexical covers unterminated comments and literals and illegal splices.
	Lexical Class = iota
	// Directive covers malformed directives and wrong argument counts.
	Directive
	// Macro covers incompatible redefinitions and reserved names.
	Macro
	// Conditional covers bad #if expressions and unbalanced groups.
	Conditional
	// Include covers files not found and bad header names.
	Include
	// UserError is raised by #error.
	UserError
	Warning
)

var classNames = [...]string{
	Lexical:     "lexical",
	Directive:   "directive",
	Macro:       "macro",
	Conditional: "conditional",
	Include:     "include",
	UserError:   "error",
	Warning:     "warning",
}

func (c Class) String() string {
	if c >= 0 && int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("Class(%d)", int(c))
}

// ---------------- Error ----------------

// Error is a diagnostic tied to a physical source position.
type Error struct {
	Class Class
	File  string
	Pos   position.Pos
	Msg   string
}

func Errorf(c Class, file string, pos position.Pos, format string, args ...any) *Error {
	return &Error{Class: c, File: file, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.File == "" && e.Pos.Line == 0:
		return e.Msg
	case e.Pos.Line == 0:
		return fmt.Sprintf("%s: %s", shortPath(e.File), e.Msg)
	case e.Pos.Col == 0:
		return fmt.Sprintf("%s:%d: %s", shortPath(e.File), e.Pos.Line, e.Msg)
	}
	return fmt.Sprintf("%s:%d:%d: %s", shortPath(e.File), e.Pos.Line, e.Pos.Col, e.Msg)
}

func shortPath(p string) string {
	// nicer errors
	if p == "" || strings.HasPrefix(p, "<") {
		return p
	}
	return filepath.Base(p)
}

// ---------------- Policies ----------------

// Policy decides which recoverable classes stop the engine. Lexical and
// Directive errors stop it whatever the policy says.
type Policy interface {
	Name() string
	Fatal(c Class) bool
}

// FailFast stops on macro and conditional errors and drops unresolved includes.
type FailFast struct{}

func (FailFast) Name() string { return "fail-fast" }

func (FailFast) Fatal(c Class) bool {
	return c == Macro || c == Conditional
}

// KeepGoing logs every recoverable error and carries on.
type KeepGoing struct{}

func (KeepGoing) Name() string { return "keep-going" }

func (KeepGoing) Fatal(Class) bool { return false }

// Strict also stops on include failures and #error.
type Strict struct{}

func (Strict) Name() string { return "strict" }

func (Strict) Fatal(c Class) bool { return c != Warning }

func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "fail-fast":
		return FailFast{}, nil
	case "keep-going":
		return KeepGoing{}, nil
	case "strict":
		return Strict{}, nil
	}
	return nil, fmt.Errorf("unknown diagnostic policy %q", name)
}

// ---------------- Reporter ----------------

type Event struct {
	Class Class
	File  string
	Pos   position.Pos
	Msg   string
	Fatal bool
}

// Reporter applies a Policy, logs every diagnostic and keeps the event list.
type Reporter struct {
	policy Policy
	log    logrus.FieldLogger
	events []Event
	counts map[Class]int
	errs   *multierror.Error
}

func NewReporter(p Policy, log logrus.FieldLogger) *Reporter {
	if p == nil {
		p = FailFast{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reporter{policy: p, log: log, counts: map[Class]int{}}
}

func (r *Reporter) Policy() Policy { return r.policy }

func (r *Reporter) IsFatal(c Class) bool {
	if c == Warning {
		return false
	}
	return c == Lexical || c == Directive || r.policy.Fatal(c)
}

// Report records e and returns it when it must stop the engine, nil otherwise.
func (r *Reporter) Report(e *Error) error {
	fatal := r.IsFatal(e.Class)
	r.events = append(r.events, Event{Class: e.Class, File: e.File, Pos: e.Pos, Msg: e.Msg, Fatal: fatal})
	r.counts[e.Class]++

	entry := r.log.WithFields(logrus.Fields{
		"class": e.Class.String(),
		"file":  e.File,
		"line":  e.Pos.Line,
		"col":   e.Pos.Col,
	})
	switch {
	case fatal:
		entry.Error(e.Msg)
		return e
	case e.Class == Warning:
		entry.Warn(e.Msg)
	default:
		entry.Warn(e.Msg)
		r.errs = multierror.Append(r.errs, e)
	}
	return nil
}

// Warnf reports a Warning. Warnings never stop the engine.
func (r *Reporter) Warnf(file string, pos position.Pos, format string, args ...any) {
	_ = r.Report(Errorf(Warning, file, pos, format, args...))
}

func (r *Reporter) Events() []Event {
	return append([]Event(nil), r.events...)
}

func (r *Reporter) Count(c Class) int {
	return r.counts[c]
}

// Err aggregates the recoverable errors that were logged and skipped.
func (r *Reporter) Err() error {
	return r.errs.ErrorOrNil()
}
