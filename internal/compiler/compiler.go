// Package compiler turns protocol files into program blocks.
//
// A protocol is a YAML document with one root node. Every node has exactly
// one of three shapes:
//
//	sequence: [node, ...]
//	state: {namespace: value, ...}
//	do: node            # optional child of a state node
//	process: wait       # registered process name
//	name: soak          # display name, defaults to the process name
//	params: {...}
//	duration: 2s        # term estimate
//	pausable: true      # defaults to what the process supports
package compiler

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/labrun/pkg/program"
	"github.com/aretw0/labrun/pkg/registry"
)

// Protocol is a parsed protocol file.
type Protocol struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	Root        Node   `mapstructure:"root"`
}

// Node is one protocol node before compilation.
type Node struct {
	Sequence []Node         `mapstructure:"sequence"`
	State    map[string]any `mapstructure:"state"`
	Do       *Node          `mapstructure:"do"`
	Process  string         `mapstructure:"process"`
	Name     string         `mapstructure:"name"`
	Params   map[string]any `mapstructure:"params"`
	Duration time.Duration  `mapstructure:"duration"`
	Pausable *bool          `mapstructure:"pausable"`
}

// Load reads and parses a protocol file.
func Load(path string) (*Protocol, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read protocol: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML protocol. Unknown keys are rejected.
func Parse(data []byte) (*Protocol, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse protocol: %w", err)
	}

	var p Protocol
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &p,
		ErrorUnused: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			secondsToDurationHook,
		),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid protocol: %w", err)
	}
	return &p, nil
}

// secondsToDurationHook reads bare numbers as seconds.
func secondsToDurationHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	}
	return data, nil
}

// Compile builds the block tree for p, resolving processes in reg. All
// problems are reported together, each prefixed by the node's location.
func Compile(p *Protocol, reg *registry.Registry) (program.Block, error) {
	c := &compilation{reg: reg}
	block := c.node(&p.Root, "root")
	if err := errors.Join(c.errs...); err != nil {
		return nil, err
	}
	return block, nil
}

type compilation struct {
	reg  *registry.Registry
	errs []error
}

func (c *compilation) fail(at, format string, args ...any) {
	c.errs = append(c.errs, fmt.Errorf("%s: %s", at, fmt.Sprintf(format, args...)))
}

func (c *compilation) node(n *Node, at string) program.Block {
	shapes := 0
	if n.Sequence != nil {
		shapes++
	}
	if n.State != nil {
		shapes++
	}
	if n.Process != "" {
		shapes++
	}
	if shapes != 1 {
		c.fail(at, "node must have exactly one of sequence, state or process")
		return nil
	}
	if n.Do != nil && n.State == nil {
		c.fail(at, "do is only valid on a state node")
	}

	switch {
	case n.Sequence != nil:
		if len(n.Sequence) == 0 {
			c.fail(at, "sequence is empty")
		}
		children := make([]program.Block, 0, len(n.Sequence))
		for i := range n.Sequence {
			children = append(children, c.node(&n.Sequence[i], fmt.Sprintf("%s.sequence[%d]", at, i)))
		}
		return &program.SequenceBlock{Children: children}

	case n.State != nil:
		b := &program.StateBlock{State: n.State}
		if n.Do != nil {
			b.Child = c.node(n.Do, at+".do")
		}
		return b

	default:
		proc, pausable, err := c.reg.Lookup(n.Process)
		if err != nil {
			c.fail(at, "%v", err)
			return nil
		}
		if n.Pausable != nil {
			if *n.Pausable && !pausable {
				c.fail(at, "process %s cannot be paused", n.Process)
			}
			pausable = *n.Pausable
		}
		name := n.Name
		if name == "" {
			name = n.Process
		}
		return &program.ProcessBlock{
			Name:     name,
			Process:  proc,
			Params:   program.StaticParams(n.Params),
			Duration: n.Duration,
			Pausable: pausable,
		}
	}
}
