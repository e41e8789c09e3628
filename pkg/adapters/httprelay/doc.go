/*
Package httprelay implements the HTTP relay helper used by HTTP gate events.

A single relay Server listens for HTTP requests on a TCP address and for commands on a
unix command socket. A gate event that wants to wait for a request registers a path
together with the unix socket it listens on. When a request for that path arrives the
server forwards it as a RequestMsg JSON line over the event's socket and relays the
event's ResponseMsg back to the HTTP client.

Handlers are single-shot: once the event answers with ok it is disabled and removed by
housekeeping. A handler that is busy answers 423, a disallowed method 405. Every handler
has a lifetime in seconds; expired handlers are removed as well. The /ping resource always
exists and reports the server status.

Client speaks the command protocol and Launcher starts a detached server when none is
answering on /ping.
*/
package httprelay
