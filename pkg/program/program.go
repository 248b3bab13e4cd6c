package program

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/labrun/pkg/domain"
	"github.com/aretw0/labrun/pkg/pool"
)

// Program executes one block. Control methods are safe to call from any
// goroutine; they fail with domain.ErrNotRunning outside Run and with
// domain.ErrInvalidTransition when the current mode forbids them.
type Program interface {
	// Run executes the block from point until it terminates. Only context
	// cancellation is returned as an error.
	Run(ctx context.Context, point Point) error
	Halt() error
	Pause() error
	Resume() error
	Jump(point Point) error
	Receive(msg domain.Message) error
	TermInfo() Term
	Export() Export
}

// Export is a program's snapshot.
type Export struct {
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Mode     string `json:"mode"`
	Point    Point  `json:"point,omitempty"`
	Location any    `json:"location,omitempty"`
	Term     Term   `json:"term"`
}

type request struct {
	fn    func() error
	reply chan error
}

type childEvent struct {
	h *Handle
	s Status
}

type childDone struct {
	h       *Handle
	err     error
	crashed bool
}

// base is the supervising loop shared by all program kinds. Everything not
// guarded by mu is owned by the loop goroutine.
type base struct {
	h      *Handle
	kind   string
	logger *slog.Logger
	in     *inbox

	finished bool
	span     trace.Span

	mu      sync.Mutex
	mode    string
	running bool
	done    chan struct{}
	last    *Status
	export  Export
}

func (b *base) init(h *Handle, kind, mode string) {
	b.h = h
	b.kind = kind
	b.mode = mode
	b.logger = h.master.logger.With("program", h.name)
	b.in = newInbox()
	b.export = Export{Kind: kind, Name: h.name, Mode: mode, Term: h.block.Term()}
	h.listen(func(child *Handle, s Status) {
		b.in.push(childEvent{h: child, s: s})
	})
}

func (b *base) begin(ctx context.Context) (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return ctx, fmt.Errorf("%w: %s already running", domain.ErrInvalidTransition, b.h.name)
	}
	b.running = true
	b.finished = false
	b.done = make(chan struct{})
	ctx, b.span = b.h.master.tracer.Start(ctx, "program."+b.kind, trace.WithAttributes(
		attribute.String("program.name", b.h.name),
		attribute.IntSlice("program.path", b.h.path),
	))
	return ctx, nil
}

// spawn runs child h from point as a member of tasks. The loop hears about
// the child finishing even when its program panics.
func (b *base) spawn(ctx context.Context, tasks *pool.Pool, h *Handle, point Point) {
	tasks.StartSoon(h.Name(), func(context.Context) error {
		var err error
		var pc panics.Catcher
		pc.Try(func() { err = h.program.Run(ctx, point) })
		if r := pc.Recovered(); r != nil {
			err = r.AsError()
			b.logger.Error("child program panicked", "child", h.Name(), "err", err)
			b.in.push(childDone{h: h, err: err, crashed: true})
			return err
		}
		b.in.push(childDone{h: h, err: err})
		return nil
	}, false)
}

// shutdown closes tasks and waits for them, logging what they failed with.
func (b *base) shutdown(tasks *pool.Pool) {
	tasks.Close()
	if err := tasks.Wait(context.Background(), false); err != nil {
		b.logger.Warn("program tasks failed", "err", err)
	}
}

// crashDiagnostics appends the failure of a crashed child to diags.
func crashDiagnostics(diags []domain.Diagnostic, m childDone) []domain.Diagnostic {
	out := append([]domain.Diagnostic(nil), diags...)
	return append(out, domain.ErrorDiagnostic("program.crashed", fmt.Errorf("%s: %w", m.h.Name(), m.err)))
}

func (b *base) end(err error) {
	if err != nil {
		b.span.RecordError(err)
		b.span.SetStatus(codes.Error, err.Error())
	}
	b.span.End()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	close(b.done)
}

// call runs fn on the loop goroutine and returns its error.
func (b *base) call(fn func() error) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return domain.ErrNotRunning
	}
	done := b.done
	b.mu.Unlock()

	reply := make(chan error, 1)
	b.in.push(request{fn: fn, reply: reply})
	select {
	case err := <-reply:
		return err
	case <-done:
		return domain.ErrNotRunning
	}
}

// loop dispatches inbox messages to handle until the program finishes or
// ctx is done.
func (b *base) loop(ctx context.Context, handle func(any)) error {
	for {
		for {
			v, ok := b.in.pop()
			if !ok {
				break
			}
			if r, ok := v.(request); ok {
				r.reply <- r.fn()
			} else {
				handle(v)
			}
			if b.finished {
				return nil
			}
		}
		select {
		case <-b.in.wait():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *base) Mode() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

func (b *base) setMode(to string) {
	b.mu.Lock()
	from := b.mode
	b.mode = to
	b.mu.Unlock()
	if from == to {
		return
	}
	b.logger.Debug("mode changed", "from", from, "to", to)
	if b.span != nil {
		b.span.AddEvent("mode", trace.WithAttributes(attribute.String("mode", to)))
	}
	b.h.master.modeChanged(b.h, b.kind, from, to)
}

// publish reports s to the parent unless it repeats the previous report.
func (b *base) publish(s Status, point Point, term Term) {
	b.mu.Lock()
	b.export = Export{
		Kind:     b.kind,
		Name:     b.h.name,
		Mode:     b.mode,
		Point:    point,
		Location: s.Location,
		Term:     term,
	}
	dup := b.last != nil && reflect.DeepEqual(*b.last, s)
	if !dup {
		last := s
		b.last = &last
	}
	b.mu.Unlock()

	b.h.SendTerm(term)
	if !dup {
		b.h.SendLocation(s)
	}
}

func (b *base) Export() Export {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.export
}

func (b *base) TermInfo() Term {
	return b.Export().Term
}

func (b *base) invalid(op string) error {
	return fmt.Errorf("%w: %s while %s", domain.ErrInvalidTransition, op, b.Mode())
}

// dispatch routes the messages every program understands.
func dispatch(p Program, block Block, msg domain.Message) error {
	switch msg.Type {
	case domain.MessagePause:
		return p.Pause()
	case domain.MessageResume:
		return p.Resume()
	case domain.MessageHalt:
		return p.Halt()
	case domain.MessageJump:
		point, ok := msg.Point.(Point)
		if !ok {
			var err error
			if point, err = DecodePoint(block, msg.Point); err != nil {
				return err
			}
		}
		return p.Jump(point)
	}
	return fmt.Errorf("%w: %s", domain.ErrUnknownMessage, msg.Type)
}
