// Package dhterr provides the tagged error kinds shared by the DHT node,
// the signed-cache codec, and the multi-peer reader (spec §7): Aborted,
// Timeout, NetworkUnreachable, BadMessage, NotFound, InvalidArgument, and
// Responsibility. Callers distinguish kinds with errors.Is against the
// per-kind sentinel, or errors.As against *Error to recover the wrapped
// cause.
package dhterr
