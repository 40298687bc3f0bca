// Package installd is the client for the privileged out-of-process
// filesystem worker.
//
// All directory creation/removal, payload extraction, code-signature
// verification and file moves happen in the worker; this process never
// touches bundle directories directly. Calls are blocking synchronous RPCs:
// the installer thread holds the per-bundle lock across them and blocks on
// the response.
//
// Connection management follows a single "current connection" slot guarded
// by a mutex. On a transport failure the failing handle is atomically
// replaced by a reconnect; in-flight callers either complete against the
// stale handle with a connection error or pick up the new handle on their
// next call. A circuit breaker guards the worker against hammering while
// it is down.
//
// Requests and responses travel as JSON frames (sonic-encoded) over gRPC
// using a custom codec, so the worker contract stays schema-light.
package installd
