/*
Package observability turns kernel lifecycle hooks into Prometheus metrics and log lines.

Metrics registers its collectors on a prometheus.Registerer and exposes them as a
domain.LifecycleHooks value; LogHooks does the same for a slog.Logger. Combine merges
several hook sets so both can be handed to the kernel.
*/
package observability
