package program

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/labrun/pkg/domain"
	"github.com/aretw0/labrun/pkg/pool"
	"github.com/aretw0/labrun/pkg/state"
)

// State modes.
const (
	StateApplying     = "applying"
	StateNormal       = "normal"
	StatePausingChild = "pausing_child"
	StatePausingState = "pausing_state"
	StatePaused       = "paused"
	StateResuming     = "resuming"
	StateHalting      = "halting"
	StateHalted       = "halted"
	StateSuspending   = "suspending"
)

// teardownTimeout bounds the suspension of state when a run ends.
const teardownTimeout = 10 * time.Second

// StateLocation is the reported location of a state program.
type StateLocation struct {
	Mode  string       `json:"mode"`
	State state.Record `json:"state"`
	Child any          `json:"child,omitempty"`
}

type applied struct {
	failed bool
	err    error
}

type suspended struct {
	record state.Record
	err    error
}

type itemUpdated struct {
	record state.Record
}

type stateProgram struct {
	base
	block *StateBlock

	tasks       *pool.Pool
	item        *state.Item
	record      state.Record
	terminal    bool
	childPoint  Point
	child       *Handle
	childCancel context.CancelFunc
	childStatus Status
}

func (b *StateBlock) newProgram(h *Handle) Program {
	p := &stateProgram{block: b, terminal: b.Child == nil}
	p.init(h, "state", StateApplying)
	return p
}

func (p *stateProgram) manager() *state.Manager {
	return p.h.master.manager
}

func (p *stateProgram) Run(ctx context.Context, point Point) error {
	ctx, err := p.begin(ctx)
	if err != nil {
		return err
	}
	if sp, ok := point.(StatePoint); ok {
		p.childPoint = sp.Child
	}

	p.item, err = p.manager().Add(p.h, p.block.State, func(r state.Record) {
		p.in.push(itemUpdated{record: r})
	})
	if err != nil {
		p.end(err)
		return err
	}
	p.record = p.item.Record()
	p.tasks = pool.New(ctx, pool.WithLogger(p.logger), pool.WithMetrics(p.h.master.stats))
	p.apply(StateApplying)

	err = p.loop(ctx, p.handle)

	p.shutdown(p.tasks)
	p.teardown()
	p.end(err)
	return err
}

// teardown leaves no state applied and no claims held behind the run.
func (p *stateProgram) teardown() {
	m := p.manager()
	if p.item.Applied() && !p.terminal {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		if _, err := m.Suspend(ctx, p.h); err != nil {
			p.logger.Warn("state teardown incomplete", "err", err)
		}
		cancel()
	}
	m.Clear(p.h)
	m.Remove(p.h)
}

func (p *stateProgram) apply(mode string) {
	p.setMode(mode)
	p.tasks.StartSoon("apply "+p.h.name, func(ctx context.Context) error {
		failed, err := p.manager().Apply(ctx, p.h, p.terminal)
		p.in.push(applied{failed: failed, err: err})
		return nil
	}, false)
	p.report()
}

func (p *stateProgram) suspend(mode string) {
	p.setMode(mode)
	p.tasks.StartSoon("suspend "+p.h.name, func(ctx context.Context) error {
		rec, err := p.manager().Suspend(ctx, p.h)
		p.in.push(suspended{record: rec, err: err})
		return nil
	}, false)
	p.report()
}

func (p *stateProgram) startChild() {
	h := p.h.CreateChild(p.block.Child, 0)
	ctx, cancel := context.WithCancel(p.tasks.Context())
	p.child, p.childCancel = h, cancel
	p.childStatus = Status{}
	p.spawn(ctx, p.tasks, h, p.childPoint)
}

func (p *stateProgram) handle(v any) {
	switch m := v.(type) {
	case itemUpdated:
		p.record = m.record
		p.report()

	case applied:
		if m.err != nil {
			return
		}
		if m.failed {
			p.logger.Warn("state applied with failures")
		}
		switch p.Mode() {
		case StateApplying:
			p.setMode(StateNormal)
			if p.block.Child == nil {
				p.finished = true
			} else {
				p.startChild()
			}
		case StateResuming:
			p.setMode(StateNormal)
			if p.child != nil {
				if err := p.child.program.Resume(); err != nil {
					p.logger.Warn("child did not resume", "err", err)
				}
			}
		}
		p.report()

	case childEvent:
		if m.h != p.child {
			return
		}
		p.childStatus = m.s
		if m.s.Stopped && !m.s.Terminated {
			switch p.Mode() {
			case StatePausingChild, StateNormal:
				p.suspend(StatePausingState)
				return
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
		}
		if p.Mode() == StateHalting {
			p.setMode(StateHalted)
			p.finished = true
			p.report()
			return
		}
		p.suspend(StateSuspending)

	case suspended:
		p.record = m.record
		switch p.Mode() {
		case StatePausingState:
			p.setMode(StatePaused)
		case StateSuspending:
			p.finished = true
		}
		p.report()
	}
}

func (p *stateProgram) report() {
	mode := p.Mode()
	var childPoint Point = p.childPoint
	term := p.block.Term()
	if p.child != nil {
		childPoint = p.child.program.Export().Point
		term = p.child.program.TermInfo()
	}
	if p.finished {
		term = Term{Known: true}
	}

	diags := append([]domain.Diagnostic(nil), p.record.Diagnostics...)
	diags = append(diags, p.childStatus.Diagnostics...)
	p.publish(Status{
		Location: StateLocation{
			Mode:  mode,
			State: p.record,
			Child: p.childStatus.Location,
		},
		Stopped:     mode == StatePaused || mode == StateHalted,
		Terminated:  p.finished,
		Diagnostics: diags,
	}, StatePoint{Child: childPoint}, term)
}

func (p *stateProgram) Pause() error {
	return p.call(func() error {
		if p.Mode() != StateNormal || p.child == nil {
			return p.invalid("pause")
		}
		if err := p.child.program.Pause(); err != nil {
			return err
		}
		p.setMode(StatePausingChild)
		p.report()
		return nil
	})
}

func (p *stateProgram) Resume() error {
	return p.call(func() error {
		if p.Mode() != StatePaused {
			return p.invalid("resume")
		}
		p.apply(StateResuming)
		return nil
	})
}

func (p *stateProgram) Halt() error {
	return p.call(func() error {
		switch p.Mode() {
		case StateNormal, StatePaused:
		default:
			return p.invalid("halt")
		}
		p.setMode(StateHalting)
		if p.child == nil {
			p.setMode(StateHalted)
			p.finished = true
			p.report()
			return nil
		}
		if err := p.child.program.Halt(); err != nil {
			p.logger.Debug("child refused halt, cancelling", "err", err)
			p.childCancel()
		}
		p.report()
		return nil
	})
}

func (p *stateProgram) Jump(point Point) error {
	sp, ok := point.(StatePoint)
	if !ok {
		return fmt.Errorf("%w: %T is not a state point", domain.ErrInvalidTransition, point)
	}
	return p.call(func() error {
		switch p.Mode() {
		case StateNormal, StatePaused:
		default:
			return p.invalid("jump")
		}
		if p.child == nil {
			return p.invalid("jump")
		}
		return p.child.program.Jump(sp.Child)
	})
}

func (p *stateProgram) Receive(msg domain.Message) error {
	return dispatch(p, p.block, msg)
}
