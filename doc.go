/*
Package labrun is a runtime for laboratory protocols: trees of sequences, timed processes and state blocks that drive shared devices.

It implements a "Pausable Tree with Scoped Device Ownership" architecture, separating the compiled protocol (Blocks) from the running programs (Handles) and the hardware they touch (Value Nodes).

# Concept

A protocol compiles to a tree of blocks. Each block becomes a program that reports its location to its parent and obeys operator messages: pause, resume, halt, jump and setInterrupt. State blocks claim devices, write their target values and hold them while their child runs; nested state blocks borrow devices from the enclosing scope and hand them back when they finish.

# Key Features

  - Pausable Execution: pausing a leaf pauses its ancestors in order, and state is suspended only once the child has stopped.
  - Scoped Ownership: device claims form a tree mirroring the program tree and are released when a run is cancelled.
  - Resumable Runs: the exported tree is persisted after every root event (memory, Redis or SQLite) and a run can continue from its last point.
  - Observable: structured logs, Prometheus metrics, OpenTelemetry spans and a server-sent events stream.

# Usage

Build a block tree, wire a state manager over your devices and run the master.

	package main

	import (
		"context"
		"log"

		"github.com/aretw0/labrun/pkg/device"
		"github.com/aretw0/labrun/pkg/program"
		"github.com/aretw0/labrun/pkg/registry"
		"github.com/aretw0/labrun/pkg/state"
		"github.com/aretw0/labrun/pkg/state/devicestate"
	)

	func main() {
		reg := registry.NewDefault(nil)
		wait, pausable, err := reg.Lookup("wait")
		if err != nil {
			log.Fatal(err)
		}

		block := &program.StateBlock{
			State: map[string]any{"devices": map[string]any{"stirrer.rpm": 300}},
			Child: &program.ProcessBlock{
				Name:     "stir",
				Process:  wait,
				Params:   program.StaticParams(map[string]any{"duration": "5s"}),
				Pausable: pausable,
			},
		}

		devices := device.NewRegistry()
		devices.Register(device.NewSimNode("stirrer.rpm", 0))
		defer devices.Close()

		manager := state.NewManager(
			state.WithConsumer(devicestate.Namespace, devicestate.NewConsumer(devices)),
		)
		m := program.NewMaster(block, program.WithStateManager(manager))
		if err := m.Run(context.Background(), nil); err != nil {
			log.Fatal(err)
		}
	}

The labrun command wraps the same wiring behind run, serve, validate and graph.
*/
package labrun
