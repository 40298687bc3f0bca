// Package installer orchestrates install, update and uninstall
// transactions over the registry, the privileged installd worker and the
// external authorities.
//
// Every entry point locks the per-bundle mutex for the whole call, so at
// most one transaction runs per bundle name at any time. Transactions
// follow a stage-then-commit shape: new payloads land in temp-suffixed
// directories, validation and resource acquisition happen against those,
// and the final directory renames are deferred to the end where they are
// near-atomic. Failures before the rename phase roll back fully; failures
// after it are logged and left for crash recovery, never rolled back.
package installer
