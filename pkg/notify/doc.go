/*
Package notify dispatches engine notifications and observed values to handlers.

Handlers are registered with a Timing. Realtime handlers run as soon as the event is
handled. DeferFromProcess handlers are queued until the emitting process is cleaned up,
DeferFromFlow handlers until the whole flow has returned. Events and Observers implement
ports.EventSink and ports.ObserverSink and can be handed straight to the kernel.
*/
package notify
