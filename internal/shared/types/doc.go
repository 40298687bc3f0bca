// Package types defines the shared data model for the bundle manager.
//
// The aggregate root is BundleRecord: one record per installed bundle,
// holding the per-module map, the per-user map, version and provenance
// metadata, and the crash-recovery install mark. Records are value-copied
// at the registry boundary; nothing outside the registry mutates a
// committed record in place.
//
// Key Types:
//   - BundleRecord: aggregate root, one per bundle name
//   - ModuleRecord: one deployable sub-package (entry or feature)
//   - UserRecord: per-OS-user installation state (uid, token, timestamps)
//   - InstallState: registry state machine states
//   - InstallMark: crash-recovery checkpoint advanced around destructive steps
package types
