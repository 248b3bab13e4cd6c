package program

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Point is a resumable cursor into a program.
type Point interface {
	isPoint()
}

// SequencePoint resumes a sequence at child Index.
type SequencePoint struct {
	Index int   `json:"index" mapstructure:"index"`
	Child Point `json:"child,omitempty" mapstructure:"-"`
}

// StatePoint resumes the child of a state block.
type StatePoint struct {
	Child Point `json:"child,omitempty" mapstructure:"-"`
}

// ProcessPoint carries the last progress committed by a process.
type ProcessPoint struct {
	Data any `json:"data,omitempty" mapstructure:"data"`
}

func (SequencePoint) isPoint() {}
func (StatePoint) isPoint()    {}
func (ProcessPoint) isPoint()  {}

// DecodePoint rebuilds a point for block from its JSON-decoded form.
func DecodePoint(block Block, raw any) (Point, error) {
	if raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("point for %s must be an object, got %T", block.Kind(), raw)
	}

	switch b := block.(type) {
	case *SequenceBlock:
		var p SequencePoint
		if err := mapstructure.WeakDecode(m, &p); err != nil {
			return nil, fmt.Errorf("sequence point: %w", err)
		}
		if p.Index < 0 || p.Index > len(b.Children) {
			return nil, fmt.Errorf("sequence point index %d out of range", p.Index)
		}
		if p.Index < len(b.Children) {
			child, err := DecodePoint(b.Children[p.Index], m["child"])
			if err != nil {
				return nil, err
			}
			p.Child = child
		}
		return p, nil
	case *StateBlock:
		var p StatePoint
		if b.Child != nil {
			child, err := DecodePoint(b.Child, m["child"])
			if err != nil {
				return nil, err
			}
			p.Child = child
		}
		return p, nil
	case *ProcessBlock:
		var p ProcessPoint
		if err := mapstructure.Decode(m, &p); err != nil {
			return nil, fmt.Errorf("process point: %w", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown block kind %s", block.Kind())
}

// Term is a duration estimate. Unknown terms propagate.
type Term struct {
	Value time.Duration `json:"value"`
	Known bool          `json:"known"`
}

func (t Term) Add(o Term) Term {
	return Term{Value: t.Value + o.Value, Known: t.Known && o.Known}
}

func sumTerms(blocks []Block) Term {
	total := Term{Known: true}
	for _, b := range blocks {
		total = total.Add(b.Term())
	}
	return total
}
