package program

import (
	"context"
	"fmt"

	"github.com/aretw0/labrun/pkg/domain"
	"github.com/aretw0/labrun/pkg/pool"
)

// Sequence modes.
const (
	SequenceNormal       = "normal"
	SequencePausingChild = "pausing_child"
	SequencePaused       = "paused"
	SequenceHalting      = "halting"
	SequenceHalted       = "halted"
)

// SequenceLocation is the reported location of a sequence.
type SequenceLocation struct {
	Mode      string `json:"mode"`
	Index     int    `json:"index"`
	Interrupt bool   `json:"interrupt,omitempty"`
	Child     any    `json:"child,omitempty"`
}

type sequenceProgram struct {
	base
	block *SequenceBlock

	tasks       *pool.Pool
	index       int
	nextPoint   Point
	pending     *SequencePoint
	interrupt   bool
	child       *Handle
	childCancel context.CancelFunc
	childStatus Status
}

func (b *SequenceBlock) newProgram(h *Handle) Program {
	p := &sequenceProgram{block: b}
	p.init(h, "sequence", SequenceNormal)
	return p
}

func (p *sequenceProgram) Run(ctx context.Context, point Point) error {
	ctx, err := p.begin(ctx)
	if err != nil {
		return err
	}
	p.tasks = pool.New(ctx, pool.WithLogger(p.logger), pool.WithMetrics(p.h.master.stats))
	p.setMode(SequenceNormal)

	start := SequencePoint{}
	if sp, ok := point.(SequencePoint); ok {
		start = sp
	}
	p.startChild(start.Index, start.Child)

	if !p.finished {
		err = p.loop(ctx, p.handle)
	}

	p.shutdown(p.tasks)
	p.end(err)
	return err
}

func (p *sequenceProgram) startChild(index int, point Point) {
	p.index = index
	p.nextPoint = nil
	if index >= len(p.block.Children) {
		p.finished = true
		p.report()
		return
	}

	h := p.h.CreateChild(p.block.Children[index], index)
	ctx, cancel := context.WithCancel(p.tasks.Context())
	p.child, p.childCancel = h, cancel
	p.childStatus = Status{}
	p.spawn(ctx, p.tasks, h, point)
	p.report()
}

// stopChild halts the active child, cancelling it if it refuses.
func (p *sequenceProgram) stopChild() {
	if err := p.child.program.Halt(); err != nil {
		p.logger.Debug("child refused halt, cancelling", "err", err)
		p.childCancel()
	}
}

func (p *sequenceProgram) handle(v any) {
	switch m := v.(type) {
	case childEvent:
		if m.h != p.child {
			return
		}
		p.childStatus = m.s
		if m.s.Stopped && !m.s.Terminated {
			switch p.Mode() {
			case SequencePausingChild, SequenceNormal:
				p.setMode(SequencePaused)
			}
		}
		p.report()

	case childDone:
		if m.h != p.child {
			return
		}
		p.child = nil
		p.childCancel()

		if m.crashed {
			p.childStatus.Diagnostics = crashDiagnostics(p.childStatus.Diagnostics, m)
			p.setMode(SequenceHalted)
			p.finished = true
			p.report()
			return
		}

		switch mode := p.Mode(); {
		case mode == SequenceHalting:
			p.setMode(SequenceHalted)
			p.finished = true
			p.report()
		case p.pending != nil:
			next := *p.pending
			p.pending = nil
			if mode == SequencePaused {
				p.index, p.nextPoint = next.Index, next.Child
				p.report()
				return
			}
			p.startChild(next.Index, next.Child)
		case p.index+1 >= len(p.block.Children):
			p.index++
			p.finished = true
			p.report()
		case mode == SequencePausingChild || mode == SequencePaused || p.interrupt:
			p.index++
			p.setMode(SequencePaused)
			p.report()
		default:
			p.startChild(p.index+1, nil)
		}
	}
}

func (p *sequenceProgram) report() {
	mode := p.Mode()
	var childPoint Point
	term := Term{Known: true}
	if p.child != nil {
		childPoint = p.child.program.Export().Point
		term = p.child.program.TermInfo()
	} else {
		childPoint = p.nextPoint
		if p.index < len(p.block.Children) {
			term = p.block.Children[p.index].Term()
		}
	}
	if p.index+1 < len(p.block.Children) {
		term = term.Add(sumTerms(p.block.Children[p.index+1:]))
	}
	if p.finished {
		term = Term{Known: true}
	}

	p.publish(Status{
		Location: SequenceLocation{
			Mode:      mode,
			Index:     p.index,
			Interrupt: p.interrupt,
			Child:     p.childStatus.Location,
		},
		Stopped:     mode == SequencePaused || mode == SequenceHalted,
		Terminated:  p.finished,
		Diagnostics: p.childStatus.Diagnostics,
	}, SequencePoint{Index: p.index, Child: childPoint}, term)
}

func (p *sequenceProgram) Pause() error {
	return p.call(func() error {
		if p.Mode() != SequenceNormal || p.child == nil {
			return p.invalid("pause")
		}
		if err := p.child.program.Pause(); err != nil {
			return err
		}
		p.setMode(SequencePausingChild)
		p.report()
		return nil
	})
}

func (p *sequenceProgram) Resume() error {
	return p.call(func() error {
		if p.Mode() != SequencePaused {
			return p.invalid("resume")
		}
		if p.child != nil {
			if err := p.child.program.Resume(); err != nil {
				return err
			}
			p.setMode(SequenceNormal)
			p.report()
			return nil
		}
		p.setMode(SequenceNormal)
		p.startChild(p.index, p.nextPoint)
		return nil
	})
}

func (p *sequenceProgram) Halt() error {
	return p.call(func() error {
		switch p.Mode() {
		case SequenceNormal, SequencePaused:
		default:
			return p.invalid("halt")
		}
		p.setMode(SequenceHalting)
		if p.child == nil {
			p.setMode(SequenceHalted)
			p.finished = true
			p.report()
			return nil
		}
		p.stopChild()
		p.report()
		return nil
	})
}

func (p *sequenceProgram) Jump(point Point) error {
	sp, ok := point.(SequencePoint)
	if !ok {
		return fmt.Errorf("%w: %T is not a sequence point", domain.ErrInvalidTransition, point)
	}
	if sp.Index < 0 || sp.Index >= len(p.block.Children) {
		return fmt.Errorf("%w: sequence index %d out of range", domain.ErrInvalidTransition, sp.Index)
	}
	return p.call(func() error {
		switch p.Mode() {
		case SequenceNormal, SequencePaused:
		default:
			return p.invalid("jump")
		}
		switch {
		case p.child != nil && sp.Index == p.index:
			return p.child.program.Jump(sp.Child)
		case p.child != nil:
			p.pending = &sp
			p.stopChild()
		default:
			p.index, p.nextPoint = sp.Index, sp.Child
			p.report()
		}
		return nil
	})
}

// setInterrupt makes the sequence pause before starting its next child.
func (p *sequenceProgram) setInterrupt(value bool) error {
	return p.call(func() error {
		p.interrupt = value
		p.report()
		return nil
	})
}

func (p *sequenceProgram) Receive(msg domain.Message) error {
	if msg.Type == domain.MessageSetInterrupt {
		return p.setInterrupt(msg.Value)
	}
	return dispatch(p, p.block, msg)
}
