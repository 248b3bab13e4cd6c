/*
Package ports defines the driven ports (interfaces) for the labrun runtime.

These interfaces decouple the program tree from external implementations,
allowing runs to be persisted and coordinated through various backends.

# Key Interfaces

  - SnapshotStore: Persists the latest snapshot of a run, keyed by run ID.
  - DistributedLocker: Guarantees a run ID is executed by one process at a time.
*/
package ports
