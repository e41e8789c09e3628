/*
Package domain contains the vocabulary shared by every part of the Flows engine.

It is kept free of I/O so that adapters, the kernel and the offload subsystem can all
depend on it without pulling each other in.

# Key Entities

  - Errors: sentinel errors for construction, runtime and persistence failures.
  - Events: notifications handed to the event sink (FlowStopped, OffloadedProcessError, FuseBlown).
  - LifecycleHooks: callbacks the kernel invokes for observability.
  - Snapshot: the versioned continuation of a suspended process.
*/
package domain
