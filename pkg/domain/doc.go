/*
Package domain contains the shared vocabulary of the labrun runtime.

It defines the values that cross package boundaries: diagnostics forwarded
from the language service, operator messages routed to programs, program
events published up the tree, and the explicit counter used for debug names.
The package is kept free of I/O and of the runtime packages that consume it.

# Key Entities

  - Diagnostic: opaque error/warning payload with source references.
  - Message: operator command (pause, resume, halt, jump, setInterrupt, retry, skip).
  - Event: a program's published status (location, stopped, terminated).
  - Counter: monotonic id source owned by a runtime context.
*/
package domain
