package checker

import (
	"fmt"

	"github.com/GriffinCanCode/BundleOS/backend/internal/config"
	"github.com/GriffinCanCode/BundleOS/backend/internal/parser"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/errcode"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"
	"github.com/GriffinCanCode/BundleOS/backend/internal/signature"
)

// Checker validates install batches against the device profile and the
// currently installed bundle.
type Checker struct {
	profile *config.DeviceProfile
	policy  CompatibilityPolicy
}

// New creates a checker for the given device profile and policy.
func New(profile *config.DeviceProfile, policy CompatibilityPolicy) *Checker {
	return &Checker{profile: profile, policy: policy}
}

// CheckBatch validates all archives of one install batch together with
// the existing installed record (nil for a fresh install) and returns one
// candidate record per archive. The first candidate doubles as the
// name/version representative the installer reads.
func (c *Checker) CheckBatch(pkgs []*parser.ParsedPackage, signs []signature.SignInfo, existing *types.BundleRecord) ([]*types.BundleRecord, error) {
	if len(pkgs) == 0 || len(pkgs) != len(signs) {
		return nil, errcode.ErrInstallParamError
	}

	if err := c.checkBatchConsistency(pkgs); err != nil {
		return nil, err
	}
	if err := c.checkEntryCount(pkgs, existing); err != nil {
		return nil, err
	}
	if err := c.checkCapabilities(pkgs); err != nil {
		return nil, err
	}
	nativeLib, err := c.resolveNativeLibrary(pkgs, existing)
	if err != nil {
		return nil, err
	}
	arkNative, err := c.resolveArkNative(pkgs, existing)
	if err != nil {
		return nil, err
	}
	if err := c.checkProxyData(pkgs, existing); err != nil {
		return nil, err
	}
	if err := c.checkSDK(pkgs); err != nil {
		return nil, err
	}

	candidates := make([]*types.BundleRecord, 0, len(pkgs))
	for i, pkg := range pkgs {
		candidates = append(candidates, buildCandidate(pkg, signs[i], nativeLib, arkNative))
	}
	return candidates, nil
}

// CheckAppLabels enforces byte-for-byte label equality on a same-version
// reinstall, mapping the mismatching field to its specific code.
func (c *Checker) CheckAppLabels(oldRecord, newRecord *types.BundleRecord) error {
	field, same := oldRecord.SameAppLabels(newRecord)
	if same {
		return nil
	}
	codes := map[string]errcode.Code{
		"vendor":            errcode.ErrInstallVendorNotSame,
		"release_type":      errcode.ErrInstallReleaseTypeNotSame,
		"distribution_type": errcode.ErrInstallDistributionTypeNotSame,
		"provision_type":    errcode.ErrInstallProvisionTypeNotSame,
		"debug":             errcode.ErrInstallDebugNotSame,
		"asan_enabled":      errcode.ErrInstallAsanNotSame,
	}
	code, ok := codes[field]
	if !ok {
		code = errcode.ErrInstallParamError
	}
	return fmt.Errorf("app label %s changed at same version: %w", field, code)
}

func (c *Checker) checkBatchConsistency(pkgs []*parser.ParsedPackage) error {
	first := pkgs[0].Manifest.App
	seen := make(map[string]bool, len(pkgs))

	for _, pkg := range pkgs {
		app := pkg.Manifest.App
		if app.BundleName != first.BundleName {
			return fmt.Errorf("%s vs %s: %w", first.BundleName, app.BundleName, errcode.ErrInstallBundleNameNotSame)
		}
		if app.VersionCode != first.VersionCode {
			return fmt.Errorf("%d vs %d: %w", first.VersionCode, app.VersionCode, errcode.ErrInstallVersionCodeNotSame)
		}
		if app.VersionName != first.VersionName {
			return fmt.Errorf("%s vs %s: %w", first.VersionName, app.VersionName, errcode.ErrInstallVersionNameNotSame)
		}
		if app.ReleaseType != first.ReleaseType {
			return fmt.Errorf("%s vs %s: %w", first.ReleaseType, app.ReleaseType, errcode.ErrInstallReleaseTypeNotSame)
		}
		if app.Singleton != first.Singleton {
			return errcode.ErrInstallSingletonIncompatible
		}

		name := pkg.Manifest.Module.Name
		if seen[name] {
			return fmt.Errorf("module %s: %w", name, errcode.ErrInstallModuleNameDuplicate)
		}
		seen[name] = true
	}
	return nil
}

func (c *Checker) checkEntryCount(pkgs []*parser.ParsedPackage, existing *types.BundleRecord) error {
	var entries int
	var batchEntry string
	for _, pkg := range pkgs {
		if pkg.IsEntry() {
			entries++
			batchEntry = pkg.Manifest.Module.Name
		}
	}
	if entries > 1 {
		return errcode.ErrInstallEntryAlreadyExist
	}

	// An incoming entry module may replace the installed entry module of
	// the same name (update); a second, differently-named entry is the
	// invariant violation. Installation-free bundles may stay entry-free.
	if entries == 1 && existing != nil {
		if installed, ok := existing.EntryModule(); ok && installed.Name != batchEntry {
			return fmt.Errorf("entry module %s already installed: %w", installed.Name, errcode.ErrInstallEntryAlreadyExist)
		}
	}
	return nil
}

func (c *Checker) checkCapabilities(pkgs []*parser.ParsedPackage) error {
	for _, pkg := range pkgs {
		for _, capability := range pkg.Manifest.Module.RequiredCapabilities {
			if !c.profile.HasCapability(capability) {
				return fmt.Errorf("capability %s: %w", capability, errcode.ErrInstallCapabilityNotSupported)
			}
		}
	}
	return nil
}

// resolveNativeLibrary reconciles the native ABI across the batch and the
// installed bundle. A batch that introduces no native payload inherits
// the installed descriptor instead of silently dropping it.
func (c *Checker) resolveNativeLibrary(pkgs []*parser.ParsedPackage, existing *types.BundleRecord) (types.NativeLibrary, error) {
	var batch types.NativeLibrary
	for _, pkg := range pkgs {
		for _, abi := range pkg.NativeLibAbis {
			if batch.CPUAbi == "" {
				batch = types.NativeLibrary{
					CPUAbi:     abi,
					Path:       "libs/" + abi,
					Compressed: pkg.Manifest.Module.CompressNativeLibs,
				}
				continue
			}
			if batch.CPUAbi != abi {
				return types.NativeLibrary{}, fmt.Errorf("%s vs %s: %w", batch.CPUAbi, abi, errcode.ErrInstallSoIncompatible)
			}
		}
	}

	if existing == nil || existing.NativeLibrary.Empty() {
		return batch, nil
	}
	if batch.Empty() {
		return existing.NativeLibrary, nil
	}
	if batch.CPUAbi != existing.NativeLibrary.CPUAbi {
		return types.NativeLibrary{}, fmt.Errorf("installed %s vs incoming %s: %w",
			existing.NativeLibrary.CPUAbi, batch.CPUAbi, errcode.ErrInstallSoIncompatible)
	}
	return batch, nil
}

func (c *Checker) resolveArkNative(pkgs []*parser.ParsedPackage, existing *types.BundleRecord) (types.ArkNative, error) {
	var batch types.ArkNative
	for _, pkg := range pkgs {
		if !pkg.HasArkNative {
			continue
		}
		if batch.FileAbi == "" {
			batch = types.ArkNative{FileAbi: pkg.ArkNativeAbi, FilePath: "an/" + pkg.ArkNativeAbi}
			continue
		}
		if batch.FileAbi != pkg.ArkNativeAbi {
			return types.ArkNative{}, fmt.Errorf("%s vs %s: %w", batch.FileAbi, pkg.ArkNativeAbi, errcode.ErrInstallAnIncompatible)
		}
	}

	if existing == nil || existing.ArkNative.Empty() {
		return batch, nil
	}
	if batch.Empty() {
		return existing.ArkNative, nil
	}
	if batch.FileAbi != existing.ArkNative.FileAbi {
		return types.ArkNative{}, fmt.Errorf("installed %s vs incoming %s: %w",
			existing.ArkNative.FileAbi, batch.FileAbi, errcode.ErrInstallAnIncompatible)
	}
	return batch, nil
}

// checkProxyData requires every proxy-data URI to be unique across all
// batch modules plus the installed bundle's other modules.
func (c *Checker) checkProxyData(pkgs []*parser.ParsedPackage, existing *types.BundleRecord) error {
	owners := make(map[string]string)
	if existing != nil {
		for uri, module := range existing.ProxyURIs() {
			owners[uri] = module
		}
	}

	for _, pkg := range pkgs {
		module := pkg.Manifest.Module.Name
		for _, pd := range pkg.Manifest.Module.ProxyData {
			if owner, taken := owners[pd.URI]; taken && owner != module {
				return fmt.Errorf("uri %s already owned by %s: %w", pd.URI, owner, errcode.ErrInstallProxyDataURIDuplicate)
			}
			owners[pd.URI] = module
		}
	}
	return nil
}

func (c *Checker) checkSDK(pkgs []*parser.ParsedPackage) error {
	for _, pkg := range pkgs {
		target := pkg.Manifest.App.CompatibleVersion
		if target == 0 {
			continue
		}
		if !c.policy.IsCompatible(target, c.profile.SDKVersion) {
			return fmt.Errorf("compile target %d, device sdk %d: %w", target, c.profile.SDKVersion, errcode.ErrInstallSdkIncompatible)
		}
	}
	return nil
}

// buildCandidate projects one parsed archive plus its signature verdict
// into a candidate bundle record carrying a single module.
func buildCandidate(pkg *parser.ParsedPackage, sign signature.SignInfo, nativeLib types.NativeLibrary, arkNative types.ArkNative) *types.BundleRecord {
	app := pkg.Manifest.App
	mod := pkg.Manifest.Module

	module := &types.ModuleRecord{
		Name:                 mod.Name,
		Package:              mod.Package,
		IsEntry:              mod.Type == "entry",
		HapPath:              pkg.Path,
		Abilities:            make(map[string]types.AbilityRecord, len(mod.Abilities)),
		Extensions:           make(map[string]types.ExtensionRecord, len(mod.Extensions)),
		RequiredCapabilities: append([]string(nil), mod.RequiredCapabilities...),
		RequestPermissions:   append([]string(nil), mod.RequestPermissions...),
		DataGroups:           append([]string(nil), mod.DataGroupIDs...),
		Removable:            make(map[int32]bool),
	}
	for _, a := range mod.Abilities {
		module.Abilities[a.Name] = types.AbilityRecord{
			Name:       a.Name,
			ModuleName: mod.Name,
			BundleName: app.BundleName,
			URIs:       append([]string(nil), a.URIs...),
			Actions:    append([]string(nil), a.Actions...),
			Entities:   append([]string(nil), a.Entities...),
			Visible:    a.Visible,
		}
	}
	for _, e := range mod.Extensions {
		module.Extensions[e.Name] = types.ExtensionRecord{
			Name:       e.Name,
			ModuleName: mod.Name,
			BundleName: app.BundleName,
			Type:       e.Type,
			URIs:       append([]string(nil), e.URIs...),
		}
	}
	for _, pd := range mod.ProxyData {
		module.ProxyDatas = append(module.ProxyDatas, types.ProxyData{
			URI:                     pd.URI,
			RequiredReadPermission:  pd.ReadPermission,
			RequiredWritePermission: pd.WritePermission,
		})
	}
	if len(pkg.NativeLibAbis) > 0 {
		module.NativeLibrary = nativeLib
	}
	if pkg.HasArkNative {
		module.ArkNative = arkNative
	}

	return &types.BundleRecord{
		BundleName:               app.BundleName,
		AppID:                    types.AppIDFor(app.BundleName, sign.Fingerprint),
		Vendor:                   app.Vendor,
		VersionCode:              app.VersionCode,
		VersionName:              app.VersionName,
		MinCompatibleVersionCode: app.MinCompatibleVersionCode,
		CompatibleVersion:        app.CompatibleVersion,
		TargetVersion:            app.TargetVersion,
		ReleaseType:              app.ReleaseType,
		DistributionType:         sign.AppDistributionType,
		Modules:                  map[string]*types.ModuleRecord{mod.Name: module},
		Users:                    make(map[int32]*types.UserRecord),
		SignatureFingerprint:     sign.Fingerprint,
		ProvisionType:            sign.ProvisionType,
		Debug:                    app.Debug,
		AsanEnabled:              app.AsanEnabled,
		AppPrivilegeLevel:        sign.AppPrivilegeLevel,
		AllowedACLs:              append([]string(nil), sign.AllowedACLs...),
		NativeLibrary:            nativeLib,
		ArkNative:                arkNative,
		Removable:                true,
		Singleton:                app.Singleton,
		InstallFree:              app.InstallFree,
		Status:                   types.BundleEnabled,
	}
}
