// Package store is the persistent half of the registry.
//
// Bundle records are serialized to JSON and kept one-row-per-bundle in
// SQLite (WAL mode, single writer). The registry persists write-ahead:
// every committing operation saves or deletes here synchronously before
// the in-memory map is touched, which is what makes install-mark replay
// possible after a crash.
//
// Alongside the bundle records the store keeps:
//   - preinstall_infos: original archive paths of system bundles, used to
//     reinstall them from scratch after a data wipe
//   - bundle_ids: the process-wide bundleId ↔ bundleName allocation table
package store
