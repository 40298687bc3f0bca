// Package parser reads HAP/HSP-equivalent package archives.
//
// An archive is a zip container holding a module.json manifest, optional
// native libraries under libs/<abi>/, optional ark-native (.an) artifacts
// and gzip-compressed AOT profiles (.ap). The parser only projects the
// archive into manifest structs; all cross-archive validation lives in the
// checker, and all extraction happens in the installd worker.
package parser
