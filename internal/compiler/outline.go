package compiler

import (
	"slices"

	"github.com/aretw0/labrun/pkg/program"
)

// Outline is a static description of a compiled block tree.
type Outline struct {
	Kind     string    `json:"kind"`
	Name     string    `json:"name,omitempty"`
	Pausable bool      `json:"pausable,omitempty"`
	Term     string    `json:"term"`
	State    []string  `json:"state,omitempty"`
	Children []Outline `json:"children,omitempty"`
}

// Describe outlines block.
func Describe(block program.Block) Outline {
	o := Outline{Kind: block.Kind(), Term: formatTerm(block.Term())}
	switch b := block.(type) {
	case *program.SequenceBlock:
		for _, c := range b.Children {
			o.Children = append(o.Children, Describe(c))
		}
	case *program.StateBlock:
		for ns := range b.State {
			o.State = append(o.State, ns)
		}
		slices.Sort(o.State)
		if b.Child != nil {
			o.Children = []Outline{Describe(b.Child)}
		}
	case *program.ProcessBlock:
		o.Name = b.Name
		o.Pausable = b.Pausable
	}
	return o
}

func formatTerm(t program.Term) string {
	if !t.Known {
		return "unknown"
	}
	return t.Value.String()
}
