/*
Package ports defines the driven ports (interfaces) of the Flows engine.

These interfaces decouple the kernel from its collaborators, so storage backends,
notification handlers and configuration sources can be swapped freely.

# Key Interfaces

  - EventSink / ObserverSink: receive notifications and observed values, with deferred flush points.
  - Config: dotted-key settings source.
  - SnapshotStore: persists suspended process continuations.
  - DistributedLocker: serializes access to a snapshot across instances.
*/
package ports
