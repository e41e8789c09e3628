/*
Package reactor implements the single-threaded, non-blocking I/O and timer loop used by
event gates and by the offload subsystem.

A Reactor owns three tables: readable handlers and writable handlers keyed by file
descriptor, and one-shot or repeating timers. Run multiplexes over every registered
descriptor with poll(2), waiting at most until the next timer is due, then runs the ready
read callbacks, the ready write callbacks and finally the due timers. Callbacks run to
completion on the goroutine that called Run; nothing is preempted.

Stop may be called from any callback. It clears every registration and makes Run return
before any further callback of the current pass is invoked.

Streams are identified by their descriptor. Use Conn to register sockets, listeners and
*os.File values without switching them to blocking mode, and FD for raw descriptors.
*/
package reactor
