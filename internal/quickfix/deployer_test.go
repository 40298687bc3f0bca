package quickfix

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/BundleOS/backend/internal/config"
	"github.com/GriffinCanCode/BundleOS/backend/internal/grpc/installd"
	"github.com/GriffinCanCode/BundleOS/backend/internal/logging"
	"github.com/GriffinCanCode/BundleOS/backend/internal/registry"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/errcode"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]*types.BundleRecord
}

func (s *memStore) SaveStorageBundleInfo(record *types.BundleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.BundleName] = record.DeepCopy()
	return nil
}

func (s *memStore) DeleteStorageBundleInfo(bundleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, bundleName)
	return nil
}

func (s *memStore) LoadAllData() (map[string]*types.BundleRecord, error) {
	return map[string]*types.BundleRecord{}, nil
}

type fakeInstalld struct {
	installd.Service

	mu   sync.Mutex
	ops  []string
	fail map[string]error
}

func (f *fakeInstalld) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	return f.fail[op]
}

func (f *fakeInstalld) CreateBundleDir(_ context.Context, path string) error {
	return f.record("create")
}

func (f *fakeInstalld) CopyFile(_ context.Context, from, to string) error {
	return f.record("copy")
}

func (f *fakeInstalld) ExtractFiles(_ context.Context, _ installd.ExtractParam) error {
	return f.record("extract")
}

func (f *fakeInstalld) RemoveDir(_ context.Context, path string) error {
	return f.record("remove")
}

func (f *fakeInstalld) RenameDir(_ context.Context, from, to string) error {
	return f.record("rename")
}

func writePatch(t *testing.T, manifest PatchManifest) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "patch.hqf")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("patch.json")
	require.NoError(t, err)
	_, err = fmt.Fprintf(w,
		`{"bundleName":%q,"versionCode":%d,"versionName":%q,"patchVersionCode":%d,"patchVersionName":%q,"type":%q}`,
		manifest.BundleName, manifest.VersionCode, manifest.VersionName,
		manifest.PatchVersionCode, manifest.PatchVersionName, manifest.Type)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return path
}

func commitBundle(t *testing.T, reg *registry.Manager, record *types.BundleRecord) {
	t.Helper()
	require.True(t, reg.UpdateInstallState(record.BundleName, types.InstallStart))
	require.True(t, reg.AddBundleRecord(record.BundleName, record))
	require.True(t, reg.UpdateInstallState(record.BundleName, types.InstallSuccess))
}

func releaseBundle() *types.BundleRecord {
	return &types.BundleRecord{
		BundleName:    "com.example.demo",
		VersionCode:   100,
		VersionName:   "1.0.0",
		ProvisionType: types.ProvisionRelease,
		Modules:       map[string]*types.ModuleRecord{"entry": {Name: "entry", IsEntry: true}},
		Users:         map[int32]*types.UserRecord{types.StartUserID: {UserID: types.StartUserID}},
		Mark:          types.InstallMark{Status: types.InstallFinishStatus},
	}
}

func debugBundle() *types.BundleRecord {
	r := releaseBundle()
	r.Debug = true
	r.ProvisionType = types.ProvisionDebug
	return r
}

func patchManifest(patchType types.QuickFixType, patchVersion uint32) PatchManifest {
	return PatchManifest{
		BundleName:       "com.example.demo",
		VersionCode:      100,
		VersionName:      "1.0.0",
		PatchVersionCode: patchVersion,
		PatchVersionName: "patch-1",
		Type:             patchType,
	}
}

type env struct {
	dep *Deployer
	reg *registry.Manager
	fs  *fakeInstalld
}

func newEnv(t *testing.T) *env {
	t.Helper()
	reg := registry.NewManager(&memStore{records: make(map[string]*types.BundleRecord)}, logging.NewNop())
	fs := &fakeInstalld{fail: make(map[string]error)}
	profile := &config.DeviceProfile{SDKVersion: 12, SupportsQuickFix: true}
	return &env{
		dep: NewDeployer(config.Default(), profile, reg, fs, logging.NewNop()),
		reg: reg,
		fs:  fs,
	}
}

func TestDeployPatchOnReleaseBundle(t *testing.T) {
	e := newEnv(t)
	commitBundle(t, e.reg, releaseBundle())

	path := writePatch(t, patchManifest(types.QuickFixPatch, 1))
	require.NoError(t, e.dep.Deploy(context.Background(), path))

	record, ok := e.reg.GetBundle("com.example.demo")
	require.True(t, ok)
	require.NotNil(t, record.QuickFix)
	assert.Equal(t, types.QuickFixPatch, record.QuickFix.Type)
	assert.Equal(t, uint32(1), record.QuickFix.VersionCode)
	assert.Equal(t, types.QuickFixDeployEnd, record.QuickFix.Status)
	assert.False(t, record.QuickFix.NeedsDeleteOnNext)

	assert.Equal(t, types.QuickFixDeployEnd, e.reg.GetQuickFixStatus("com.example.demo"))
}

func TestDeployHotReloadOnDebugBundle(t *testing.T) {
	e := newEnv(t)
	commitBundle(t, e.reg, debugBundle())

	path := writePatch(t, patchManifest(types.QuickFixHotReload, 1))
	require.NoError(t, e.dep.Deploy(context.Background(), path))

	record, _ := e.reg.GetBundle("com.example.demo")
	require.NotNil(t, record.QuickFix)
	assert.Equal(t, types.QuickFixHotReload, record.QuickFix.Type)
	assert.True(t, record.QuickFix.NeedsDeleteOnNext)
}

func TestDeployPatchRequiresReleaseBundle(t *testing.T) {
	e := newEnv(t)
	commitBundle(t, e.reg, debugBundle())

	path := writePatch(t, patchManifest(types.QuickFixPatch, 1))
	err := e.dep.Deploy(context.Background(), path)
	assert.ErrorIs(t, err, errcode.ErrQuickFixNotReleaseBundle)
}

func TestDeployHotReloadRequiresDebugBundle(t *testing.T) {
	e := newEnv(t)
	commitBundle(t, e.reg, releaseBundle())

	path := writePatch(t, patchManifest(types.QuickFixHotReload, 1))
	err := e.dep.Deploy(context.Background(), path)
	assert.ErrorIs(t, err, errcode.ErrQuickFixNotDebugBundle)
}

func TestDeployPatchRejectsExistingHotReload(t *testing.T) {
	e := newEnv(t)
	record := releaseBundle()
	record.QuickFix = &types.QuickFixInfo{Type: types.QuickFixHotReload, VersionCode: 1, Status: types.QuickFixDeployEnd}
	commitBundle(t, e.reg, record)

	path := writePatch(t, patchManifest(types.QuickFixPatch, 1))
	err := e.dep.Deploy(context.Background(), path)
	assert.ErrorIs(t, err, errcode.ErrQuickFixHotReloadAlreadyExisted)
}

func TestDeployHotReloadRejectsExistingPatch(t *testing.T) {
	e := newEnv(t)
	record := debugBundle()
	record.QuickFix = &types.QuickFixInfo{Type: types.QuickFixPatch, VersionCode: 1, Status: types.QuickFixDeployEnd}
	commitBundle(t, e.reg, record)

	path := writePatch(t, patchManifest(types.QuickFixHotReload, 1))
	err := e.dep.Deploy(context.Background(), path)
	assert.ErrorIs(t, err, errcode.ErrQuickFixPatchAlreadyExisted)
}

func TestDeployCrossKindConflictBeatsSigningGate(t *testing.T) {
	// A release bundle already carrying a patch: hot reload is refused
	// for the conflicting overlay, not for the signing mode.
	e := newEnv(t)
	record := releaseBundle()
	record.QuickFix = &types.QuickFixInfo{Type: types.QuickFixPatch, VersionCode: 1, Status: types.QuickFixDeployEnd}
	commitBundle(t, e.reg, record)

	err := e.dep.Deploy(context.Background(), writePatch(t, patchManifest(types.QuickFixHotReload, 1)))
	assert.ErrorIs(t, err, errcode.ErrQuickFixPatchAlreadyExisted)

	// And the mirror image: a debug bundle carrying a hot reload refuses
	// a patch for the same reason.
	e = newEnv(t)
	record = debugBundle()
	record.QuickFix = &types.QuickFixInfo{Type: types.QuickFixHotReload, VersionCode: 1, Status: types.QuickFixDeployEnd}
	commitBundle(t, e.reg, record)

	err = e.dep.Deploy(context.Background(), writePatch(t, patchManifest(types.QuickFixPatch, 1)))
	assert.ErrorIs(t, err, errcode.ErrQuickFixHotReloadAlreadyExisted)
}

func TestDeployCoordinateMismatches(t *testing.T) {
	e := newEnv(t)
	commitBundle(t, e.reg, releaseBundle())

	m := patchManifest(types.QuickFixPatch, 1)
	m.BundleName = "com.example.other"
	err := e.dep.Deploy(context.Background(), writePatch(t, m))
	assert.ErrorIs(t, err, errcode.ErrQuickFixBundleNotExist)

	m = patchManifest(types.QuickFixPatch, 1)
	m.VersionCode = 99
	err = e.dep.Deploy(context.Background(), writePatch(t, m))
	assert.ErrorIs(t, err, errcode.ErrQuickFixVersionCodeNotMatch)

	m = patchManifest(types.QuickFixPatch, 1)
	m.VersionName = "9.9.9"
	err = e.dep.Deploy(context.Background(), writePatch(t, m))
	assert.ErrorIs(t, err, errcode.ErrQuickFixVersionNameNotMatch)
}

func TestDeployPatchVersionOrdering(t *testing.T) {
	e := newEnv(t)
	record := releaseBundle()
	record.QuickFix = &types.QuickFixInfo{Type: types.QuickFixPatch, VersionCode: 5, Status: types.QuickFixDeployEnd}
	commitBundle(t, e.reg, record)

	err := e.dep.Deploy(context.Background(), writePatch(t, patchManifest(types.QuickFixPatch, 5)))
	assert.ErrorIs(t, err, errcode.ErrQuickFixPatchAlreadyExisted)

	err = e.dep.Deploy(context.Background(), writePatch(t, patchManifest(types.QuickFixPatch, 4)))
	assert.ErrorIs(t, err, errcode.ErrQuickFixPatchVersionError)

	require.NoError(t, e.dep.Deploy(context.Background(), writePatch(t, patchManifest(types.QuickFixPatch, 6))))
	updated, _ := e.reg.GetBundle("com.example.demo")
	assert.Equal(t, uint32(6), updated.QuickFix.VersionCode)
}

func TestDeployInvalidType(t *testing.T) {
	e := newEnv(t)
	commitBundle(t, e.reg, releaseBundle())

	m := patchManifest("firmware", 1)
	err := e.dep.Deploy(context.Background(), writePatch(t, m))
	assert.ErrorIs(t, err, errcode.ErrQuickFixInvalidPatchType)
}

func TestDeployStagingFailureResetsStatus(t *testing.T) {
	e := newEnv(t)
	commitBundle(t, e.reg, releaseBundle())
	e.fs.fail["copy"] = errcode.ErrInstallFileActionFailed

	err := e.dep.Deploy(context.Background(), writePatch(t, patchManifest(types.QuickFixPatch, 1)))
	assert.ErrorIs(t, err, errcode.ErrQuickFixDeployFailed)

	assert.Equal(t, types.QuickFixNotDeployed, e.reg.GetQuickFixStatus("com.example.demo"))
	record, _ := e.reg.GetBundle("com.example.demo")
	assert.Nil(t, record.QuickFix)
}

func TestDeployUnsupportedDevice(t *testing.T) {
	e := newEnv(t)
	e.dep.profile = &config.DeviceProfile{SupportsQuickFix: false}
	commitBundle(t, e.reg, releaseBundle())

	err := e.dep.Deploy(context.Background(), writePatch(t, patchManifest(types.QuickFixPatch, 1)))
	assert.ErrorIs(t, err, errcode.ErrQuickFixDeployFailed)
}

func TestDeleteRemovesOverlay(t *testing.T) {
	e := newEnv(t)
	record := releaseBundle()
	record.QuickFix = &types.QuickFixInfo{Type: types.QuickFixPatch, VersionCode: 1, Status: types.QuickFixDeployEnd}
	commitBundle(t, e.reg, record)

	require.NoError(t, e.dep.Delete(context.Background(), "com.example.demo"))

	updated, _ := e.reg.GetBundle("com.example.demo")
	assert.Nil(t, updated.QuickFix)
	assert.Equal(t, types.QuickFixNotDeployed, e.reg.GetQuickFixStatus("com.example.demo"))

	// Idempotent without an overlay; unknown bundles are reported.
	assert.NoError(t, e.dep.Delete(context.Background(), "com.example.demo"))
	assert.ErrorIs(t, e.dep.Delete(context.Background(), "com.example.ghost"), errcode.ErrQuickFixBundleNotExist)
}
