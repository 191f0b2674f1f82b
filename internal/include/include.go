package include

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const statCacheSize = 1024

var (
	ErrBackslash   = errors.New("header names must use '/' as the path separator")
	ErrIncludeNext = errors.New("#include_next in a file not found through an include path")
	ErrEmptyName   = errors.New("empty header name")
)

// Origin says how an open file was found.
type Origin int

const (
	TranslationUnit Origin = iota
	CurrentPath
	User
	System
	Absolute
	// PreInclude is a pre-included source.
	PreInclude
)

var originNames = [...]string{
	TranslationUnit: "TU",
	CurrentPath:     "CP",
	User:            "usr",
	System:          "sys",
	Absolute:        "abs",
	PreInclude:      "pre",
}

func (o Origin) String() string {
	if o >= 0 && int(o) < len(originNames) {
		return originNames[o]
	}
	return fmt.Sprintf("Origin(%d)", int(o))
}

// Entry is an open file on the current-path stack.
type Entry struct {
	Path   string
	Dir    string
	Origin Origin
	// Index is the position of Dir in the user or system list, -1 otherwise.
	Index int
	// Trace lists the places tried, for example "CP=src" or "usr=inc".
	Trace []string
}

// ---------------- Resolver ----------------

// Resolver finds the files named by #include operands and keeps the stack of
// current paths, one per open file.
type Resolver struct {
	fs    afero.Fs
	user  []string
	sys   []string
	stack []Entry
	stat  *lru.Cache[string, bool]
	log   logrus.FieldLogger
}

func NewResolver(fs afero.Fs, user, sys []string, log logrus.FieldLogger) (*Resolver, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	stat, err := lru.New[string, bool](statCacheSize)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "stat cache")
	}
	return &Resolver{
		fs:   fs,
		user: append([]string(nil), user...),
		sys:  append([]string(nil), sys...),
		stat: stat,
		log:  log,
	}, nil
}

func (r *Resolver) Fs() afero.Fs { return r.fs }

// Push opens an entry that was not found by searching, such as the
// translation unit.
func (r *Resolver) Push(path string, origin Origin) Entry {
	e := Entry{Path: path, Dir: filepath.Dir(path), Origin: origin, Index: -1}
	r.stack = append(r.stack, e)
	return e
}

// Pop closes the innermost open file.
func (r *Resolver) Pop() (Entry, bool) {
	if len(r.stack) == 0 {
		return Entry{}, false
	}
	e := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	return e, true
}

func (r *Resolver) Current() (Entry, bool) {
	if len(r.stack) == 0 {
		return Entry{}, false
	}
	return r.stack[len(r.stack)-1], true
}

func (r *Resolver) Depth() int { return len(r.stack) }

// CurrentPath is the directory of the innermost open file, or "" if none.
func (r *Resolver) CurrentPath() string {
	if e, ok := r.Current(); ok {
		return e.Dir
	}
	return ""
}

func (r *Resolver) fileExists(p string) bool {
	if ok, hit := r.stat.Get(p); hit {
		return ok
	}
	st, err := r.fs.Stat(p)
	ok := err == nil && !st.IsDir()
	r.stat.Add(p, ok)
	return ok
}

func checkName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if strings.ContainsRune(name, '\\') {
		return ErrBackslash
	}
	return nil
}

type candidate struct {
	dir    string
	origin Origin
	index  int
}

func listCandidates(dirs []string, origin Origin, from int) []candidate {
	var out []candidate
	for i := from; i < len(dirs); i++ {
		out = append(out, candidate{dir: dirs[i], origin: origin, index: i})
	}
	return out
}

func (r *Resolver) search(name string, cands []candidate) (Entry, bool) {
	var trace []string
	if filepath.IsAbs(name) {
		trace = append(trace, "abs="+name)
		if r.fileExists(name) {
			return r.found(Entry{Path: filepath.Clean(name), Origin: Absolute, Index: -1, Trace: trace}), true
		}
		return Entry{Trace: trace}, false
	}
	for _, c := range cands {
		trace = append(trace, c.origin.String()+"="+c.dir)
		p := filepath.Join(c.dir, name)
		if r.fileExists(p) {
			return r.found(Entry{Path: filepath.Clean(p), Origin: c.origin, Index: c.index, Trace: trace}), true
		}
	}
	r.log.WithFields(logrus.Fields{"header": name, "trace": trace}).Debug("include not found")
	return Entry{Trace: trace}, false
}

func (r *Resolver) found(e Entry) Entry {
	e.Dir = filepath.Dir(e.Path)
	r.stack = append(r.stack, e)
	r.log.WithFields(logrus.Fields{"path": e.Path, "origin": e.Origin.String(), "trace": e.Trace}).Debug("include resolved")
	return e
}

// Quoted resolves #include "name": the current path, then the user
// directories, then the system directories.
func (r *Resolver) Quoted(name string) (Entry, bool, error) {
	if err := checkName(name); err != nil {
		return Entry{}, false, err
	}
	cands := []candidate{{dir: r.currentDir(), origin: CurrentPath, index: -1}}
	cands = append(cands, listCandidates(r.user, User, 0)...)
	cands = append(cands, listCandidates(r.sys, System, 0)...)
	e, ok := r.search(name, cands)
	return e, ok, nil
}

// Angle resolves #include <name> against the system directories only.
func (r *Resolver) Angle(name string) (Entry, bool, error) {
	if err := checkName(name); err != nil {
		return Entry{}, false, err
	}
	e, ok := r.search(name, listCandidates(r.sys, System, 0))
	return e, ok, nil
}

// Next resolves #include_next name, continuing the search one place past
// the directory where the current file was found.
func (r *Resolver) Next(name string) (Entry, bool, error) {
	if err := checkName(name); err != nil {
		return Entry{}, false, err
	}
	cur, ok := r.Current()
	if !ok {
		return Entry{}, false, ErrIncludeNext
	}
	var cands []candidate
	switch cur.Origin {
	case User:
		cands = append(listCandidates(r.user, User, cur.Index+1), listCandidates(r.sys, System, 0)...)
	case System:
		cands = listCandidates(r.sys, System, cur.Index+1)
	default:
		return Entry{}, false, ErrIncludeNext
	}
	e, ok := r.search(name, cands)
	return e, ok, nil
}

func (r *Resolver) currentDir() string {
	if dir := r.CurrentPath(); dir != "" {
		return dir
	}
	return "."
}
