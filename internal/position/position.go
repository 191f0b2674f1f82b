package position

import (
	"fmt"
	"sort"
)

const (
	StartLine   = 1
	StartColumn = 1
)

// Pos is a line/column pair, both starting at 1.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// Adjustment applies to every logical column >= Col on its line.
type Adjustment struct {
	Col   int
	DLine int
	DCol  int
}

// ---------------- Layer ----------------

// Layer maps the logical space of one transformation back to the space below it.
// A Layer is immutable once built.
type Layer struct {
	lines map[int][]Adjustment
	keys  []int
}

// Adjustments returns a copy of the records for a logical line.
func (l *Layer) Adjustments(line int) []Adjustment {
	if l == nil {
		return nil
	}
	return append([]Adjustment(nil), l.lines[line]...)
}

// Empty reports whether the layer records no adjustments at all.
func (l *Layer) Empty() bool {
	return l == nil || len(l.keys) == 0
}

func (l *Layer) lower(p Pos) Pos {
	out := p
	for _, a := range l.lines[p.Line] {
		if p.Col < a.Col {
			break
		}
		out.Line += a.DLine
		out.Col += a.DCol
	}
	return out
}

// upper finds a logical position that lower maps onto p.
func (l *Layer) upper(p Pos) (Pos, bool) {
	try := func(line int) (Pos, bool) {
		adj := l.lines[line]
		dl, dc, start := 0, 0, StartColumn
		for i := 0; i <= len(adj); i++ {
			end := -1
			if i < len(adj) {
				end = adj[i].Col
			}
			if line+dl == p.Line {
				c := p.Col - dc
				if c >= start && (end < 0 || c < end) {
					return Pos{Line: line, Col: c}, true
				}
			}
			if i < len(adj) {
				dl += adj[i].DLine
				dc += adj[i].DCol
				start = adj[i].Col
			}
		}
		return Pos{}, false
	}
	if q, ok := try(p.Line); ok {
		return q, true
	}
	// Only lines carrying records can move onto another line.
	i := sort.SearchInts(l.keys, p.Line)
	for i--; i >= 0; i-- {
		if q, ok := try(l.keys[i]); ok {
			return q, true
		}
	}
	return p, false
}

// ---------------- Builder ----------------

// Builder accumulates the records of one Layer.
type Builder struct {
	lines map[int][]Adjustment
}

func NewBuilder() *Builder {
	return &Builder{lines: map[int][]Adjustment{}}
}

// Add records an adjustment, merging it with an existing record at the same
// column and otherwise keeping the line ordered by column.
func (b *Builder) Add(line, col, dLine, dCol int) {
	adj := b.lines[line]
	for i := range adj {
		if adj[i].Col == col {
			adj[i].DLine += dLine
			adj[i].DCol += dCol
			return
		}
	}
	i := sort.Search(len(adj), func(i int) bool { return adj[i].Col > col })
	adj = append(adj, Adjustment{})
	copy(adj[i+1:], adj[i:])
	adj[i] = Adjustment{Col: col, DLine: dLine, DCol: dCol}
	b.lines[line] = adj
}

// Subst records that physLen characters at (line, col) were replaced by logLen
// characters. Columns after the replacement shift by the difference.
func (b *Builder) Subst(line, col, physLen, logLen int) {
	if physLen == logLen {
		return
	}
	b.Add(line, col+logLen, 0, physLen-logLen)
}

// Layer freezes the records gathered so far.
func (b *Builder) Layer() *Layer {
	l := &Layer{lines: make(map[int][]Adjustment, len(b.lines))}
	for line, adj := range b.lines {
		l.lines[line] = append([]Adjustment(nil), adj...)
		l.keys = append(l.keys, line)
	}
	sort.Ints(l.keys)
	return l
}

// Splicer records the line splices of one group of physical lines that join
// into a single logical line.
type Splicer struct {
	b       *Builder
	line    int
	colInc  int
	lengths []int
}

// Splice starts a splice group at logical line.
func (b *Builder) Splice(line int) *Splicer {
	return &Splicer{b: b, line: line}
}

// Join records one backslash-newline at the end of a physical line whose
// content, without the backslash-newline, is physLen columns long.
func (s *Splicer) Join(physLen int) {
	s.colInc += physLen
	s.b.Add(s.line, StartColumn+s.colInc, 1, -physLen)
	s.lengths = append(s.lengths, physLen)
}

// Close records the placeholder lines that replace the swallowed physical
// lines. lastLen is the length of the final physical line without its newline.
func (s *Splicer) Close(lastLen int) {
	n := len(s.lengths)
	for i := 0; i < n; i++ {
		s.b.Add(s.line+i+1, StartColumn, n-i-1, lastLen)
	}
}

// Count is the number of joins in the group.
func (s *Splicer) Count() int {
	return len(s.lengths)
}

// ---------------- Map ----------------

// Map is an ordered stack of layers, oldest first. Queries run from the most
// recent layer down to the oldest.
type Map struct {
	layers []*Layer
}

func NewMap(layers ...*Layer) *Map {
	m := &Map{}
	for _, l := range layers {
		m.Push(l)
	}
	return m
}

// Push adds a layer on top of the stack.
func (m *Map) Push(l *Layer) {
	if l == nil {
		l = NewBuilder().Layer()
	}
	m.layers = append(m.layers, l)
}

// Depth is the number of layers.
func (m *Map) Depth() int {
	return len(m.layers)
}

func (m *Map) LogicalToPhysical(p Pos) Pos {
	for i := len(m.layers) - 1; i >= 0; i-- {
		p = m.layers[i].lower(p)
	}
	return p
}

// PhysicalToLogical inverts LogicalToPhysical. It reports false for physical
// positions that did not survive a transformation, such as the second
// character of a trigraph.
func (m *Map) PhysicalToLogical(p Pos) (Pos, bool) {
	for _, l := range m.layers {
		var ok bool
		if p, ok = l.upper(p); !ok {
			return p, false
		}
	}
	return p, true
}
