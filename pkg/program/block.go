package program

import (
	"context"
	"time"
)

// Block is a compiled, immutable node of protocol structure.
//
// The set of block kinds is closed: SequenceBlock, StateBlock and
// ProcessBlock. Each kind builds its own program.
type Block interface {
	Kind() string
	// Term estimates the block's duration from its start.
	Term() Term
	newProgram(h *Handle) Program
}

// SequenceBlock runs its children one after another.
type SequenceBlock struct {
	Children []Block
}

func (*SequenceBlock) Kind() string { return "sequence" }

func (b *SequenceBlock) Term() Term {
	return sumTerms(b.Children)
}

// StateBlock holds declarative state for as long as its child runs. A state
// block without a child applies its state once and releases the devices once
// they settle.
type StateBlock struct {
	State map[string]any
	Child Block
}

func (*StateBlock) Kind() string { return "state" }

func (b *StateBlock) Term() Term {
	if b.Child == nil {
		return Term{Known: true}
	}
	return b.Child.Term()
}

// ParamsFunc evaluates process parameters. It runs in the cancellable
// collection phase before every run.
type ParamsFunc func(ctx context.Context) (map[string]any, error)

// ProcessBlock is a leaf running user process code.
type ProcessBlock struct {
	Name     string
	Process  Process
	Params   ParamsFunc
	Duration time.Duration
	Pausable bool
}

func (*ProcessBlock) Kind() string { return "process" }

func (b *ProcessBlock) Term() Term {
	return Term{Value: b.Duration, Known: b.Duration > 0}
}

func (b *ProcessBlock) params(ctx context.Context) (map[string]any, error) {
	if b.Params == nil {
		return map[string]any{}, nil
	}
	return b.Params(ctx)
}

// StaticParams returns a ParamsFunc yielding params.
func StaticParams(params map[string]any) ParamsFunc {
	return func(context.Context) (map[string]any, error) {
		return params, nil
	}
}
