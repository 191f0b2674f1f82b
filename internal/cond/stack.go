package cond

import (
	"errors"
	"strings"
)

var (
	ErrElifWithoutIf  = errors.New("#elif without #if")
	ErrElifAfterElse  = errors.New("#elif after #else")
	ErrElseWithoutIf  = errors.New("#else without #if")
	ErrElseAfterElse  = errors.New("#else after #else")
	ErrEndifWithoutIf = errors.New("#endif without #if")
)

const negation = "!"

// Record is one evaluated #if, #ifdef, #ifndef or #elif.
type Record struct {
	File      string
	Line      int
	Directive string
	Expr      string
	Value     bool
	// Active is whether the group's tokens are forwarded after this directive.
	Active bool
}

// ---------------- Conditionals ----------------

type frame struct {
	parentActive bool
	taken        bool
	active       bool
	seenElse     bool
	file         string
	line         int
	conds        []string
}

func (f *frame) negateLast() {
	last := f.conds[len(f.conds)-1]
	if !(strings.HasPrefix(last, "(") && strings.HasSuffix(last, ")")) {
		last = "(" + last + ")"
	}
	f.conds[len(f.conds)-1] = negation + last
}

func (f *frame) explain() string {
	if len(f.conds) > 1 {
		return "(" + strings.Join(f.conds, " && ") + ")"
	}
	return f.conds[0]
}

// Stack is the if-group state machine.
type Stack struct {
	stack   []frame
	records []Record
}

func NewStack() *Stack { return &Stack{} }

func (c *Stack) Depth() int { return len(c.stack) }

// Active reports whether tokens at this point are forwarded.
func (c *Stack) Active() bool {
	if len(c.stack) == 0 {
		return true
	}
	return c.stack[len(c.stack)-1].active
}

// Push opens a group for #if, #ifdef or #ifndef whose condition is cond.
func (c *Stack) Push(directive, expr string, cond bool, file string, line int) {
	parent := c.Active()
	active := parent && cond
	c.stack = append(c.stack, frame{
		parentActive: parent,
		taken:        active,
		active:       active,
		file:         file,
		line:         line,
		conds:        []string{oneLine(expr)},
	})
	if parent {
		c.record(directive, expr, cond, file, line)
	}
}

// NeedsElif reports whether an #elif here must be evaluated: only when the
// enclosing text is active and no earlier branch was taken.
func (c *Stack) NeedsElif() bool {
	if len(c.stack) == 0 {
		return false
	}
	top := c.stack[len(c.stack)-1]
	return top.parentActive && !top.taken && !top.seenElse
}

// Elif moves to the next branch. cond is ignored unless NeedsElif.
func (c *Stack) Elif(expr string, cond bool, file string, line int) error {
	if len(c.stack) == 0 {
		return ErrElifWithoutIf
	}
	top := &c.stack[len(c.stack)-1]
	if top.seenElse {
		return ErrElifAfterElse
	}
	evaluate := top.parentActive && !top.taken
	top.negateLast()
	top.conds = append(top.conds, oneLine(expr))
	if !evaluate {
		top.active = false
		return nil
	}
	top.active = cond
	if cond {
		top.taken = true
	}
	c.record("elif", expr, cond, file, line)
	return nil
}

func (c *Stack) Else() error {
	if len(c.stack) == 0 {
		return ErrElseWithoutIf
	}
	top := &c.stack[len(c.stack)-1]
	if top.seenElse {
		return ErrElseAfterElse
	}
	top.seenElse = true
	top.negateLast()
	if !top.parentActive {
		top.active = false
		return nil
	}
	top.active = !top.taken
	top.taken = true
	return nil
}

func (c *Stack) Pop() error {
	if len(c.stack) == 0 {
		return ErrEndifWithoutIf
	}
	c.stack = c.stack[:len(c.stack)-1]
	return nil
}

// Unclosed returns the location of the innermost open group.
func (c *Stack) Unclosed() (file string, line int, ok bool) {
	if len(c.stack) == 0 {
		return "", 0, false
	}
	top := c.stack[len(c.stack)-1]
	return top.file, top.line, true
}

// Truncate closes every group above depth, as happens when a file ends
// with groups still open.
func (c *Stack) Truncate(depth int) {
	if depth < len(c.stack) {
		c.stack = c.stack[:depth]
	}
}

// String explains the current state, for example "A && !(B) && C". It says
// why the text here would be active, not whether it is.
func (c *Stack) String() string {
	parts := make([]string, len(c.stack))
	for i := range c.stack {
		parts[i] = c.stack[i].explain()
	}
	return strings.Join(parts, " && ")
}

func (c *Stack) record(directive, expr string, value bool, file string, line int) {
	c.records = append(c.records, Record{
		File:      file,
		Line:      line,
		Directive: directive,
		Expr:      oneLine(expr),
		Value:     value,
		Active:    c.Active(),
	})
}

func (c *Stack) Records() []Record {
	return append([]Record(nil), c.records...)
}

func oneLine(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
}
