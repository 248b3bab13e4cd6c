package program

import (
	"slices"
	"sync"

	"github.com/aretw0/labrun/pkg/domain"
	"github.com/aretw0/labrun/pkg/state"
)

// Status is what a program reports to its parent.
type Status struct {
	Location    any
	Stopped     bool
	Terminated  bool
	Diagnostics []domain.Diagnostic
}

// Handle is the channel between a program and its parent: the program
// reports through it and creates its children from it.
type Handle struct {
	master  *Master
	parent  *Handle
	id      int
	path    []int
	name    string
	block   Block
	program Program
	report  func(Status)

	mu       sync.Mutex
	children map[int]*Handle
	onChild  func(*Handle, Status)
	status   Status
	analysis []domain.Diagnostic
	term     Term
}

func newHandle(m *Master, parent *Handle, id int, block Block) *Handle {
	h := &Handle{
		master:   m,
		parent:   parent,
		id:       id,
		name:     m.counter.Name(block.Kind()),
		block:    block,
		children: make(map[int]*Handle),
	}
	if parent != nil {
		h.path = append(slices.Clone(parent.path), id)
	} else {
		h.path = []int{}
	}
	h.program = block.newProgram(h)
	return h
}

// CreateChild builds the program for block as child id of h. A previous
// child with the same id is replaced.
func (h *Handle) CreateChild(block Block, id int) *Handle {
	child := newHandle(h.master, h, id, block)
	child.report = func(s Status) {
		h.mu.Lock()
		fn := h.onChild
		h.mu.Unlock()
		if fn != nil {
			fn(child, s)
		}
	}
	h.mu.Lock()
	h.children[id] = child
	h.mu.Unlock()
	return child
}

func (h *Handle) listen(fn func(*Handle, Status)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChild = fn
}

// SendLocation publishes the program's status to its parent.
func (h *Handle) SendLocation(s Status) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
	if h.report != nil {
		h.report(s)
	}
}

// SendAnalysis attaches static diagnostics to the node.
func (h *Handle) SendAnalysis(diags []domain.Diagnostic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.analysis = append([]domain.Diagnostic(nil), diags...)
}

// SendTerm records the program's remaining duration estimate.
func (h *Handle) SendTerm(t Term) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.term = t
}

// Receive delivers an operator message to the handle's program.
func (h *Handle) Receive(msg domain.Message) error {
	return h.program.Receive(msg)
}

func (h *Handle) Program() Program { return h.program }

func (h *Handle) Block() Block { return h.block }

// Path lists child ids from the root.
func (h *Handle) Path() []int { return slices.Clone(h.path) }

func (h *Handle) Name() string { return h.name }

func (h *Handle) StateParent() state.Handle {
	if h.parent == nil {
		return nil
	}
	return h.parent
}

func (h *Handle) child(id int) *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.children[id]
}

// Node is the exported view of a handle subtree.
type Node struct {
	Export
	Path     []int               `json:"path"`
	Analysis []domain.Diagnostic `json:"analysis,omitempty"`
	Children []Node              `json:"children,omitempty"`
}

func (h *Handle) node() Node {
	h.mu.Lock()
	ids := make([]int, 0, len(h.children))
	for id := range h.children {
		ids = append(ids, id)
	}
	children := make([]*Handle, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		children = append(children, h.children[id])
	}
	analysis := slices.Clone(h.analysis)
	h.mu.Unlock()

	n := Node{
		Export:   h.program.Export(),
		Path:     h.Path(),
		Analysis: analysis,
	}
	for _, c := range children {
		n.Children = append(n.Children, c.node())
	}
	return n
}
