// Package offload runs named processes in worker subprocesses.
//
// The parent writes one spawn line to each worker's stdin:
//
//	<name>|<terminator>|<rootDir>|<base64 payload>
//
// A worker answers on stdout with any number of base64 payload lines followed by the
// terminator line. On a fatal error it writes diagnostics and then the terminator to
// stderr. All pipes of a batch are driven by a single reactor.
package offload
