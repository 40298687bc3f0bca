// Package server wires the bundle manager together: persistent store,
// registry reload, crash-recovery replay, the transaction orchestrator,
// and the HTTP surface with its middleware stack.
//
// Startup order matters: the store is opened first, the registry reloads
// every committed record from it, unfinished transactions are replayed to
// a consistent state, and only then does the HTTP listener accept
// requests.
package server
