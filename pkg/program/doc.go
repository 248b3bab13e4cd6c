/*
Package program executes compiled protocol blocks as a tree of supervised
programs.

Each block kind builds its own program: a SequenceBlock runs children in
order, a StateBlock applies declarative device state for as long as its child
runs, and a ProcessBlock runs user code. Every program owns one loop goroutine
that is the only writer of its mode; children report to their parent through
a Handle, and parents drive children through the Program interface.

# Usage

	m := program.NewMaster(block,
		program.WithStateManager(manager),
		program.WithSnapshotStore(store),
	)
	m.Subscribe(func(ev domain.Event) { ... })
	go m.Run(ctx, nil)

	_ = m.Receive(nil, domain.Message{Type: domain.MessagePause})

# Stopping

A root event with Stopped set is published once per pause, after every
descendant has come to rest and the state of paused scopes has been
suspended. Halting and context cancellation both leave no state applied and
no device claims held when Run returns.
*/
package program
