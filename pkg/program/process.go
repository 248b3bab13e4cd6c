package program

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc/panics"

	"github.com/aretw0/labrun/pkg/domain"
	"github.com/aretw0/labrun/pkg/pool"
)

// Process modes.
const (
	ProcessCollecting       = "collecting"
	ProcessCollectionFailed = "collection_failed"
	ProcessNormal           = "normal"
	ProcessPausing          = "pausing"
	ProcessPaused           = "paused"
	ProcessFailed           = "failed"
	ProcessHalting          = "halting"
	ProcessHalted           = "halted"
	ProcessDone             = "done"
)

// ErrNotPausable is returned when pausing a process that does not support it.
var ErrNotPausable = errors.New("process is not pausable")

// ProcessLocation is the reported location of a process.
type ProcessLocation struct {
	Mode     string `json:"mode"`
	Name     string `json:"name"`
	Point    any    `json:"point,omitempty"`
	Pausable bool   `json:"pausable"`
}

type collected struct {
	gen    int
	params map[string]any
	err    error
}

type ran struct {
	gen    int
	result Result
	err    error
	point  any
}

type processProgram struct {
	base
	block *ProcessBlock

	tasks      *pool.Pool
	gen        int
	taskCancel context.CancelFunc
	cp         *Checkpoint
	params     map[string]any
	point      any
	diags      []domain.Diagnostic
}

func (b *ProcessBlock) newProgram(h *Handle) Program {
	p := &processProgram{block: b}
	p.init(h, "process", ProcessCollecting)
	return p
}

func (p *processProgram) Run(ctx context.Context, point Point) error {
	ctx, err := p.begin(ctx)
	if err != nil {
		return err
	}
	if pp, ok := point.(ProcessPoint); ok {
		p.point = pp.Data
	}
	p.tasks = pool.New(ctx, pool.WithLogger(p.logger), pool.WithMetrics(p.h.master.stats))
	p.collect()

	err = p.loop(ctx, p.handle)

	p.shutdown(p.tasks)
	p.end(err)
	return err
}

func (p *processProgram) newTask() context.Context {
	if p.taskCancel != nil {
		p.taskCancel()
	}
	p.gen++
	ctx, cancel := context.WithCancel(p.tasks.Context())
	p.taskCancel = cancel
	return ctx
}

func (p *processProgram) collect() {
	p.setMode(ProcessCollecting)
	ctx := p.newTask()
	gen := p.gen
	p.tasks.StartSoon("collect "+p.h.name, func(context.Context) error {
		var params map[string]any
		var err error
		var pc panics.Catcher
		pc.Try(func() { params, err = p.block.params(ctx) })
		if r := pc.Recovered(); r != nil {
			err = r.AsError()
		}
		p.in.push(collected{gen: gen, params: params, err: err})
		return nil
	}, false)
	p.report()
}

func (p *processProgram) start() {
	p.setMode(ProcessNormal)
	ctx := p.newTask()
	gen := p.gen
	cp := newCheckpoint(p.point)
	p.cp = cp
	params := p.params
	p.tasks.StartSoon("run "+p.h.name, func(context.Context) error {
		var res Result
		var err error
		var pc panics.Catcher
		pc.Try(func() { res, err = p.block.Process.Run(ctx, params, cp) })
		if r := pc.Recovered(); r != nil {
			err = r.AsError()
		}
		p.in.push(ran{gen: gen, result: res, err: err, point: cp.Point()})
		return nil
	}, false)
	p.report()
}

func (p *processProgram) handle(v any) {
	switch m := v.(type) {
	case collected:
		if m.gen != p.gen {
			return
		}
		if p.Mode() == ProcessHalting {
			p.halted()
			return
		}
		if m.err != nil {
			p.logger.Warn("parameter collection failed", "err", m.err)
			p.diags = []domain.Diagnostic{domain.ErrorDiagnostic("process.collection_failed", m.err)}
			p.setMode(ProcessCollectionFailed)
			p.report()
			return
		}
		p.params = m.params
		p.diags = nil
		p.start()

	case ran:
		if m.gen != p.gen {
			return
		}
		p.point = m.point
		if p.Mode() == ProcessHalting {
			p.halted()
			return
		}
		if m.err != nil {
			p.logger.Warn("process failed", "err", m.err)
			p.diags = []domain.Diagnostic{domain.ErrorDiagnostic("process.failed", m.err)}
			p.setMode(ProcessFailed)
			p.report()
			return
		}
		switch m.result.Kind {
		case ResultPaused:
			if m.result.Point != nil {
				p.point = m.result.Point
			}
			p.setMode(ProcessPaused)
			p.report()
		case ResultJumped:
			p.point = m.result.Point
			if p.Mode() == ProcessPausing {
				p.setMode(ProcessPaused)
				p.report()
				return
			}
			p.start()
		default:
			p.setMode(ProcessDone)
			p.finished = true
			p.report()
		}
	}
}

func (p *processProgram) halted() {
	if p.taskCancel != nil {
		p.taskCancel()
	}
	p.setMode(ProcessHalted)
	p.finished = true
	p.report()
}

func (p *processProgram) report() {
	mode := p.Mode()
	term := p.block.Term()
	if mode == ProcessDone || mode == ProcessHalted {
		term = Term{Known: true}
	}
	p.publish(Status{
		Location: ProcessLocation{
			Mode:     mode,
			Name:     p.block.Name,
			Point:    p.point,
			Pausable: p.block.Pausable,
		},
		Stopped:     mode == ProcessPaused || mode == ProcessHalted,
		Terminated:  p.finished,
		Diagnostics: p.diags,
	}, ProcessPoint{Data: p.point}, term)
}

func (p *processProgram) Pause() error {
	return p.call(func() error {
		if p.Mode() != ProcessNormal {
			return p.invalid("pause")
		}
		if !p.block.Pausable {
			return fmt.Errorf("%w: %s", ErrNotPausable, p.block.Name)
		}
		p.setMode(ProcessPausing)
		p.cp.requestPause()
		p.report()
		return nil
	})
}

func (p *processProgram) Resume() error {
	return p.call(func() error {
		if p.Mode() != ProcessPaused {
			return p.invalid("resume")
		}
		p.start()
		return nil
	})
}

func (p *processProgram) Halt() error {
	return p.call(func() error {
		switch p.Mode() {
		case ProcessCollecting, ProcessNormal, ProcessPausing:
			p.setMode(ProcessHalting)
			p.taskCancel()
			p.report()
		case ProcessPaused, ProcessFailed, ProcessCollectionFailed:
			p.halted()
		default:
			return p.invalid("halt")
		}
		return nil
	})
}

func (p *processProgram) Jump(point Point) error {
	pp, ok := point.(ProcessPoint)
	if !ok && point != nil {
		return fmt.Errorf("%w: %T is not a process point", domain.ErrInvalidTransition, point)
	}
	return p.call(func() error {
		switch p.Mode() {
		case ProcessNormal:
			p.cp.requestJump(pp.Data)
		case ProcessPaused, ProcessFailed:
			p.point = pp.Data
			p.report()
		default:
			return p.invalid("jump")
		}
		return nil
	})
}

// retry resumes a failed run from the last committed point, or re-runs a
// failed parameter collection.
func (p *processProgram) retry() error {
	return p.call(func() error {
		switch p.Mode() {
		case ProcessFailed:
			p.diags = nil
			p.start()
		case ProcessCollectionFailed:
			p.diags = nil
			p.collect()
		default:
			return p.invalid("retry")
		}
		return nil
	})
}

func (p *processProgram) skip() error {
	return p.call(func() error {
		switch p.Mode() {
		case ProcessFailed, ProcessCollectionFailed:
			p.setMode(ProcessDone)
			p.finished = true
			p.report()
		default:
			return p.invalid("skip")
		}
		return nil
	})
}

func (p *processProgram) Receive(msg domain.Message) error {
	switch msg.Type {
	case domain.MessageRetry:
		return p.retry()
	case domain.MessageSkip:
		return p.skip()
	}
	return dispatch(p, p.block, msg)
}
