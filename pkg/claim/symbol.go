package claim

import (
	"strings"

	"github.com/aretw0/labrun/pkg/domain"
)

// Symbol identifies a claimant and its ancestry.
type Symbol struct {
	name    string
	parent  *Symbol
	depth   int
	seq     int64
	counter *domain.Counter
}

// NewSymbol creates a root symbol. Symbols created from the same counter are
// ordered by age when they queue for a resource at equal depth; the counter
// is shared with every descendant.
func NewSymbol(name string, counter *domain.Counter) *Symbol {
	if counter == nil {
		counter = domain.NewCounter()
	}
	return &Symbol{name: name, seq: counter.Next(), counter: counter}
}

// Child creates a symbol that outranks s.
func (s *Symbol) Child(name string) *Symbol {
	return &Symbol{
		name:    name,
		parent:  s,
		depth:   s.depth + 1,
		seq:     s.counter.Next(),
		counter: s.counter,
	}
}

func (s *Symbol) Parent() *Symbol { return s.parent }

func (s *Symbol) Depth() int { return s.depth }

// IsAncestorOf reports whether s is a strict ancestor of other.
func (s *Symbol) IsAncestorOf(other *Symbol) bool {
	if other == nil {
		return false
	}
	for p := other.parent; p != nil; p = p.parent {
		if p == s {
			return true
		}
	}
	return false
}

// Outranks reports whether s is a strict descendant of other.
func (s *Symbol) Outranks(other *Symbol) bool {
	return other != nil && other.IsAncestorOf(s)
}

// Related reports whether one symbol is an ancestor of the other or they are
// the same symbol.
func (s *Symbol) Related(other *Symbol) bool {
	return s == other || s.IsAncestorOf(other) || other.IsAncestorOf(s)
}

// String returns the slash-separated path from the root.
func (s *Symbol) String() string {
	var parts []string
	for p := s; p != nil; p = p.parent {
		parts = append(parts, p.name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// compare orders pending requests: deeper first, then older.
func compare(a, b *Symbol) int {
	if a.depth != b.depth {
		return b.depth - a.depth
	}
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	}
	return 0
}
