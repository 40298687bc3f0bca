// Package checker validates an install batch and projects it into
// candidate bundle records.
//
// The checker is pure: it never touches the registry, the filesystem or
// the installd worker. Every check returns a specific error code, never a
// bare boolean, so the installer can report the exact failure reason.
//
// Checks applied to one batch (all archives installed together):
//   - bundle name / versionCode / versionName agree across archives
//   - module names are unique, at most one entry module
//   - required system capabilities are a subset of the device's
//   - native-library ABI agrees across archives and with the installed
//     bundle; a batch without native payload inherits the installed one
//   - ark-native file ABI likewise agrees or is inherited
//   - proxy-data URIs are globally unique across batch plus installed
//   - compile SDK target passes the compatibility policy
package checker
