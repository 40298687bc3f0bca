// Package registry is the single source of truth for committed bundle
// state and owns the concurrency discipline around it.
//
// Components:
//   - Manager: in-memory bundleName → BundleRecord map with a tracked
//     install state per bundle and a per-bundle mutex map
//   - the InstallState transition table; every state change is validated
//     against it, and transitions into a deleting state purge the record
//     atomically
//   - Query: read-only projections (ability/extension/application lookups)
//
// Locking:
//   - a coarse RWMutex guards the record and state maps; it is held only
//     for the duration of a single map operation, never across installd or
//     permission calls
//   - a dedicated mutex guards creation inside the bundleName → mutex map;
//     GetBundleMutex hands out a stable *sync.Mutex per bundle name, which
//     serializes all mutating operations against that bundle
//   - read-only queries take only the coarse lock and return deep copies,
//     so a query can observe a bundle mid-transaction only at the
//     granularity of a whole-record read
//
// Persistence is write-ahead: the store is updated synchronously before
// the in-memory map for every committing operation.
package registry
