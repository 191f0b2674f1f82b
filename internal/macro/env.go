package macro

import (
	"fmt"
	"sort"

	"github.com/fwessels/cpip/internal/tokenizer"
)

// Reserved names can be neither defined nor undefined by a directive.
var Reserved = map[string]bool{
	"defined":  true,
	"__FILE__": true,
	"__LINE__": true,
	"__DATE__": true,
	"__TIME__": true,
}

// RedefinitionError reports an incompatible #define of a current macro.
type RedefinitionError struct {
	Old, New *Definition
}

func (e *RedefinitionError) Error() string {
	return fmt.Sprintf("macro %q redefined incompatibly, previous definition at %s", e.New.Name, e.Old.Location)
}

// ---------------- Env ----------------

// Env maps names to their current definitions. Definitions are never
// forgotten: undefined and replaced ones stay in the history.
type Env struct {
	current map[string]*Definition
	history []*Definition
	dynamic map[string]bool
	absent  map[string][]Location
}

func NewEnv() *Env {
	return &Env{
		current: map[string]*Definition{},
		dynamic: map[string]bool{},
		absent:  map[string][]Location{},
	}
}

// SetDynamic declares names whose replacement is computed by the caller at
// expansion time, such as __FILE__ and __LINE__.
func (e *Env) SetDynamic(names ...string) {
	for _, n := range names {
		e.dynamic[n] = true
	}
}

func (e *Env) IsDynamic(name string) bool { return e.dynamic[name] }

// Define makes d current. A current definition of the same name must be
// compatible with d; it then moves to the history.
func (e *Env) Define(d *Definition) error {
	if Reserved[d.Name] || e.dynamic[d.Name] {
		return fmt.Errorf("%q cannot be used as a macro name", d.Name)
	}
	return e.define(d)
}

// Predefine defines d even when its name is reserved.
func (e *Env) Predefine(d *Definition) error {
	return e.define(d)
}

func (e *Env) define(d *Definition) error {
	if old, ok := e.current[d.Name]; ok && !old.IsValidRedefinition(d) {
		return &RedefinitionError{Old: old, New: d}
	}
	e.current[d.Name] = d
	e.history = append(e.history, d)
	return nil
}

// DefineText defines a macro from directive text without the "#define",
// for example "FOO(x) ((x)+1)".
func (e *Env) DefineText(text, file string, line int) error {
	d, err := ParseText(text, file, line)
	if err != nil {
		return err
	}
	return e.Predefine(d)
}

// ParseText tokenizes text and parses it as the body of a #define.
func ParseText(text, file string, line int) (*Definition, error) {
	toks, err := tokenizer.Tokenize(file, text)
	if err != nil {
		return nil, err
	}
	for len(toks) > 0 && toks[len(toks)-1].HasNewline() {
		toks = toks[:len(toks)-1]
	}
	return Parse(toks, file, line)
}

// Undef removes name from lookup. Undefining an unknown name does nothing.
func (e *Env) Undef(name, file string, line int) error {
	if Reserved[name] || e.dynamic[name] {
		return fmt.Errorf("%q cannot be undefined", name)
	}
	d, ok := e.current[name]
	if !ok {
		return nil
	}
	if err := d.Undef(file, line); err != nil {
		return err
	}
	delete(e.current, name)
	return nil
}

func (e *Env) Lookup(name string) (*Definition, bool) {
	d, ok := e.current[name]
	return d, ok
}

// Has reports whether name is currently defined, dynamically or not.
func (e *Env) Has(name string) bool {
	if e.dynamic[name] {
		return true
	}
	_, ok := e.current[name]
	return ok
}

// Defined answers a defined/#ifdef/#ifndef test and remembers where absent
// names were tested.
func (e *Env) Defined(name string, at Location) bool {
	if e.Has(name) {
		return true
	}
	e.absent[name] = append(e.absent[name], at)
	return false
}

// Absent returns the names tested while undefined, with their locations.
func (e *Env) Absent() map[string][]Location {
	out := make(map[string][]Location, len(e.absent))
	for k, v := range e.absent {
		out[k] = append([]Location(nil), v...)
	}
	return out
}

// Definitions returns the current definitions sorted by name.
func (e *Env) Definitions() []*Definition {
	out := make([]*Definition, 0, len(e.current))
	for _, d := range e.current {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// History returns every definition in the order it was made, including the
// undefined and replaced ones.
func (e *Env) History() []*Definition {
	return append([]*Definition(nil), e.history...)
}

// Named returns every definition ever made for name, oldest first.
func (e *Env) Named(name string) []*Definition {
	var out []*Definition
	for _, d := range e.history {
		if d.Name == name {
			out = append(out, d)
		}
	}
	return out
}
