package utils

import (
	"fmt"
	"regexp"
	"strings"
)

// String length limits
const (
	MaxBundleNameLength = 127
	MinBundleNameLength = 7
	MaxModuleNameLength = 31
	MaxAbilityNameLength = 127
	MaxPathLength       = 4096
)

// Regular expressions for validation
var (
	// BundleNamePattern matches reverse-domain bundle names like com.example.demo
	BundleNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*(\.[a-zA-Z0-9_]+)+$`)
	// ModuleNamePattern allows alphanumeric, hyphens, underscores, dots
	ModuleNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// ValidateBundleName checks a bundle name against the reverse-domain form.
func ValidateBundleName(name string) error {
	if name == "" {
		return fmt.Errorf("bundle name cannot be empty")
	}
	if len(name) < MinBundleNameLength || len(name) > MaxBundleNameLength {
		return fmt.Errorf("bundle name length must be between %d and %d", MinBundleNameLength, MaxBundleNameLength)
	}
	if !BundleNamePattern.MatchString(name) {
		return fmt.Errorf("bundle name %q is not a valid reverse-domain name", name)
	}
	return nil
}

// ValidateModuleName checks a module name.
func ValidateModuleName(name string) error {
	if name == "" {
		return fmt.Errorf("module name cannot be empty")
	}
	if len(name) > MaxModuleNameLength {
		return fmt.Errorf("module name exceeds %d characters", MaxModuleNameLength)
	}
	if !ModuleNamePattern.MatchString(name) {
		return fmt.Errorf("module name %q contains invalid characters", name)
	}
	return nil
}

// ValidateArchivePath checks one package archive path. Paths must be
// absolute and free of traversal segments.
func ValidateArchivePath(path string) error {
	if path == "" {
		return fmt.Errorf("archive path cannot be empty")
	}
	if len(path) > MaxPathLength {
		return fmt.Errorf("archive path exceeds %d characters", MaxPathLength)
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("archive path must be absolute")
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("archive path contains traversal segments")
	}
	return nil
}

// ValidateArchivePaths checks a non-empty list of archive paths.
func ValidateArchivePaths(paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("at least one archive path is required")
	}
	for _, p := range paths {
		if err := ValidateArchivePath(p); err != nil {
			return err
		}
	}
	return nil
}
