/*
Package state applies the declarative state attached to running program
scopes and makes its convergence awaitable.

Every program node that declares state registers an Item with the Manager.
Items form a tree mirroring program handle ancestry. A state value is a map
from namespace to a namespace-specific value; each namespace is served by a
Consumer that turns the value into held side effects (usually device writes
guarded by claims) and reports progress through a NotifyFunc.

An Item is settled once every namespace entry reports settled, and trivially
settled when it declares none. Manager.Apply blocks until the applied item and
all its ancestors are settled, which is how protocol progress waits for
hardware to converge.

Consumer misbehaviour never propagates to the caller: errors and panics are
recorded as diagnostics on the item they concern.
*/
package state
