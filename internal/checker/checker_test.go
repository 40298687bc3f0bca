package checker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/BundleOS/backend/internal/config"
	"github.com/GriffinCanCode/BundleOS/backend/internal/parser"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/errcode"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"
	"github.com/GriffinCanCode/BundleOS/backend/internal/signature"
)

func testProfile() *config.DeviceProfile {
	return &config.DeviceProfile{
		SDKVersion:         12,
		SystemCapabilities: []string{"SystemCapability.Ability.AbilityRuntime.Core"},
	}
}

func testChecker() *Checker {
	return New(testProfile(), BuiltinPolicy{})
}

func pkg(module, modType string) *parser.ParsedPackage {
	return &parser.ParsedPackage{
		Path: "/tmp/" + module + ".hap",
		Manifest: parser.Manifest{
			App: parser.AppManifest{
				BundleName:        "com.example.demo",
				VersionCode:       100,
				VersionName:       "1.0.0",
				CompatibleVersion: 10,
				ReleaseType:       "Release",
			},
			Module: parser.ModuleManifest{Name: module, Type: modType},
		},
	}
}

func sign(fingerprint string) signature.SignInfo {
	return signature.SignInfo{
		Fingerprint:   fingerprint,
		ProvisionType: types.ProvisionRelease,
	}
}

func TestCheckBatchBuildsCandidates(t *testing.T) {
	entry := pkg("entry", "entry")
	entry.Manifest.Module.RequestPermissions = []string{"ohos.permission.INTERNET"}
	feature := pkg("feature1", "feature")

	candidates, err := testChecker().CheckBatch(
		[]*parser.ParsedPackage{entry, feature},
		[]signature.SignInfo{sign("fp"), sign("fp")},
		nil,
	)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, "com.example.demo", candidates[0].BundleName)
	assert.Equal(t, types.AppIDFor("com.example.demo", "fp"), candidates[0].AppID)
	assert.Equal(t, uint32(100), candidates[0].VersionCode)

	mod, ok := candidates[0].Modules["entry"]
	require.True(t, ok)
	assert.True(t, mod.IsEntry)
	assert.Equal(t, []string{"ohos.permission.INTERNET"}, mod.RequestPermissions)
}

func TestCheckBatchNameMismatch(t *testing.T) {
	a := pkg("entry", "entry")
	b := pkg("feature1", "feature")
	b.Manifest.App.BundleName = "com.example.other"

	_, err := testChecker().CheckBatch(
		[]*parser.ParsedPackage{a, b},
		[]signature.SignInfo{sign("fp"), sign("fp")},
		nil,
	)
	assert.ErrorIs(t, err, errcode.ErrInstallBundleNameNotSame)
}

func TestCheckBatchVersionCodeMismatch(t *testing.T) {
	a := pkg("entry", "entry")
	b := pkg("feature1", "feature")
	b.Manifest.App.VersionCode = 101

	_, err := testChecker().CheckBatch(
		[]*parser.ParsedPackage{a, b},
		[]signature.SignInfo{sign("fp"), sign("fp")},
		nil,
	)
	assert.ErrorIs(t, err, errcode.ErrInstallVersionCodeNotSame)
}

func TestCheckBatchDuplicateModuleName(t *testing.T) {
	_, err := testChecker().CheckBatch(
		[]*parser.ParsedPackage{pkg("feature1", "feature"), pkg("feature1", "feature")},
		[]signature.SignInfo{sign("fp"), sign("fp")},
		nil,
	)
	assert.ErrorIs(t, err, errcode.ErrInstallModuleNameDuplicate)
}

func TestCheckBatchTwoEntriesRejected(t *testing.T) {
	_, err := testChecker().CheckBatch(
		[]*parser.ParsedPackage{pkg("entry", "entry"), pkg("entry2", "entry")},
		[]signature.SignInfo{sign("fp"), sign("fp")},
		nil,
	)
	assert.ErrorIs(t, err, errcode.ErrInstallEntryAlreadyExist)
}

func TestCheckBatchEntryConflictsWithInstalled(t *testing.T) {
	existing := &types.BundleRecord{
		BundleName: "com.example.demo",
		Modules: map[string]*types.ModuleRecord{
			"main": {Name: "main", IsEntry: true},
		},
	}

	// A second entry under a different module name is a conflict.
	_, err := testChecker().CheckBatch(
		[]*parser.ParsedPackage{pkg("entry", "entry")},
		[]signature.SignInfo{sign("fp")},
		existing,
	)
	assert.ErrorIs(t, err, errcode.ErrInstallEntryAlreadyExist)

	// Updating the installed entry module itself is allowed.
	_, err = testChecker().CheckBatch(
		[]*parser.ParsedPackage{pkg("main", "entry")},
		[]signature.SignInfo{sign("fp")},
		existing,
	)
	assert.NoError(t, err)
}

func TestCheckBatchCapabilityMissing(t *testing.T) {
	p := pkg("entry", "entry")
	p.Manifest.Module.RequiredCapabilities = []string{"SystemCapability.Does.Not.Exist"}

	_, err := testChecker().CheckBatch(
		[]*parser.ParsedPackage{p},
		[]signature.SignInfo{sign("fp")},
		nil,
	)
	assert.ErrorIs(t, err, errcode.ErrInstallCapabilityNotSupported)
}

func TestCheckBatchNativeAbiMismatch(t *testing.T) {
	a := pkg("entry", "entry")
	a.NativeLibAbis = []string{"arm64-v8a"}
	b := pkg("feature1", "feature")
	b.NativeLibAbis = []string{"armeabi-v7a"}

	_, err := testChecker().CheckBatch(
		[]*parser.ParsedPackage{a, b},
		[]signature.SignInfo{sign("fp"), sign("fp")},
		nil,
	)
	assert.ErrorIs(t, err, errcode.ErrInstallSoIncompatible)
}

func TestCheckBatchNativeAbiConflictsWithInstalled(t *testing.T) {
	existing := &types.BundleRecord{
		BundleName:    "com.example.demo",
		NativeLibrary: types.NativeLibrary{CPUAbi: "arm64-v8a", Path: "libs/arm64-v8a"},
		Modules:       map[string]*types.ModuleRecord{},
	}
	p := pkg("feature1", "feature")
	p.NativeLibAbis = []string{"armeabi-v7a"}

	_, err := testChecker().CheckBatch(
		[]*parser.ParsedPackage{p},
		[]signature.SignInfo{sign("fp")},
		existing,
	)
	assert.ErrorIs(t, err, errcode.ErrInstallSoIncompatible)
}

func TestCheckBatchInheritsInstalledNativeLibrary(t *testing.T) {
	existing := &types.BundleRecord{
		BundleName:    "com.example.demo",
		NativeLibrary: types.NativeLibrary{CPUAbi: "arm64-v8a", Path: "libs/arm64-v8a"},
		Modules:       map[string]*types.ModuleRecord{},
	}

	candidates, err := testChecker().CheckBatch(
		[]*parser.ParsedPackage{pkg("feature1", "feature")},
		[]signature.SignInfo{sign("fp")},
		existing,
	)
	require.NoError(t, err)
	assert.Equal(t, "arm64-v8a", candidates[0].NativeLibrary.CPUAbi)
}

func TestCheckBatchArkNativeMismatch(t *testing.T) {
	a := pkg("entry", "entry")
	a.HasArkNative = true
	a.ArkNativeAbi = "arm64"
	b := pkg("feature1", "feature")
	b.HasArkNative = true
	b.ArkNativeAbi = "arm32"

	_, err := testChecker().CheckBatch(
		[]*parser.ParsedPackage{a, b},
		[]signature.SignInfo{sign("fp"), sign("fp")},
		nil,
	)
	assert.ErrorIs(t, err, errcode.ErrInstallAnIncompatible)
}

func TestCheckBatchProxyDataDuplicate(t *testing.T) {
	a := pkg("entry", "entry")
	a.Manifest.Module.ProxyData = []parser.ProxyDataManifest{{URI: "datashareproxy://com.example.demo/data"}}
	b := pkg("feature1", "feature")
	b.Manifest.Module.ProxyData = []parser.ProxyDataManifest{{URI: "datashareproxy://com.example.demo/data"}}

	_, err := testChecker().CheckBatch(
		[]*parser.ParsedPackage{a, b},
		[]signature.SignInfo{sign("fp"), sign("fp")},
		nil,
	)
	assert.ErrorIs(t, err, errcode.ErrInstallProxyDataURIDuplicate)
}

func TestCheckBatchProxyDataSameModuleUpdateAllowed(t *testing.T) {
	existing := &types.BundleRecord{
		BundleName: "com.example.demo",
		Modules: map[string]*types.ModuleRecord{
			"entry": {
				Name:       "entry",
				ProxyDatas: []types.ProxyData{{URI: "datashareproxy://com.example.demo/data"}},
			},
		},
	}
	p := pkg("entry", "entry")
	p.Manifest.Module.ProxyData = []parser.ProxyDataManifest{{URI: "datashareproxy://com.example.demo/data"}}

	_, err := testChecker().CheckBatch(
		[]*parser.ParsedPackage{p},
		[]signature.SignInfo{sign("fp")},
		existing,
	)
	assert.NoError(t, err)
}

func TestCheckBatchSdkTooNew(t *testing.T) {
	p := pkg("entry", "entry")
	p.Manifest.App.CompatibleVersion = 99

	_, err := testChecker().CheckBatch(
		[]*parser.ParsedPackage{p},
		[]signature.SignInfo{sign("fp")},
		nil,
	)
	assert.ErrorIs(t, err, errcode.ErrInstallSdkIncompatible)
}

func TestCheckBatchExternalPolicyOverride(t *testing.T) {
	// External policy that accepts everything lets the too-new target pass.
	profile := testProfile()
	profile.CompatibilityPolicy = "external"
	c := New(profile, SelectPolicy(profile, func(uint32, uint32) bool { return true }))

	p := pkg("entry", "entry")
	p.Manifest.App.CompatibleVersion = 99

	_, err := c.CheckBatch([]*parser.ParsedPackage{p}, []signature.SignInfo{sign("fp")}, nil)
	assert.NoError(t, err)
}

func TestExternalPolicyWithoutHookFallsBack(t *testing.T) {
	profile := testProfile()
	profile.CompatibilityPolicy = "external"
	policy := SelectPolicy(profile, nil)

	assert.True(t, policy.IsCompatible(10, 12))
	assert.False(t, policy.IsCompatible(13, 12))
}

func TestCheckAppLabels(t *testing.T) {
	base := func() *types.BundleRecord {
		return &types.BundleRecord{
			Vendor:           "example",
			ReleaseType:      "Release",
			DistributionType: "app_gallery",
			ProvisionType:    types.ProvisionRelease,
		}
	}

	c := testChecker()
	assert.NoError(t, c.CheckAppLabels(base(), base()))

	changed := base()
	changed.Vendor = "other"
	assert.ErrorIs(t, c.CheckAppLabels(base(), changed), errcode.ErrInstallVendorNotSame)

	changed = base()
	changed.Debug = true
	assert.ErrorIs(t, c.CheckAppLabels(base(), changed), errcode.ErrInstallDebugNotSame)

	changed = base()
	changed.ProvisionType = types.ProvisionDebug
	assert.ErrorIs(t, c.CheckAppLabels(base(), changed), errcode.ErrInstallProvisionTypeNotSame)
}

func TestCheckBatchSingletonMismatch(t *testing.T) {
	a := pkg("entry", "entry")
	a.Manifest.App.Singleton = true
	b := pkg("feature1", "feature")

	_, err := testChecker().CheckBatch(
		[]*parser.ParsedPackage{a, b},
		[]signature.SignInfo{sign("fp"), sign("fp")},
		nil,
	)
	assert.ErrorIs(t, err, errcode.ErrInstallSingletonIncompatible)
}
