package checker

import "github.com/GriffinCanCode/BundleOS/backend/internal/config"

// CompatibilityPolicy decides whether a bundle compiled against a given
// SDK version may install on this device. Selected once at startup from
// the device profile; never loaded at runtime.
type CompatibilityPolicy interface {
	IsCompatible(compileTarget, deviceSDK uint32) bool
}

// BuiltinPolicy is the stock rule: the declared compile target must not
// exceed the device's running SDK version.
type BuiltinPolicy struct{}

// IsCompatible implements CompatibilityPolicy.
func (BuiltinPolicy) IsCompatible(compileTarget, deviceSDK uint32) bool {
	return compileTarget <= deviceSDK
}

// ExternalPolicy delegates the verdict to an externally supplied rule,
// preserving the pluggable-override contract: a function of the bundle's
// declared compatible version and the device SDK version.
type ExternalPolicy struct {
	Check func(compileTarget, deviceSDK uint32) bool
}

// IsCompatible implements CompatibilityPolicy.
func (p ExternalPolicy) IsCompatible(compileTarget, deviceSDK uint32) bool {
	if p.Check == nil {
		return BuiltinPolicy{}.IsCompatible(compileTarget, deviceSDK)
	}
	return p.Check(compileTarget, deviceSDK)
}

// SelectPolicy resolves the policy variant named by the device profile.
// External verdicts come from registered hooks; with none registered the
// external variant degrades to the builtin rule.
func SelectPolicy(profile *config.DeviceProfile, external func(uint32, uint32) bool) CompatibilityPolicy {
	if profile.CompatibilityPolicy == "external" {
		return ExternalPolicy{Check: external}
	}
	return BuiltinPolicy{}
}
