// Package quickfix deploys patch overlays onto committed bundles. The
// overlay lifecycle is tracked in its own small state machine next to,
// never inside, the primary install state: a bundle mid-patch still
// answers queries as a committed bundle.
package quickfix

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/BundleOS/backend/internal/config"
	"github.com/GriffinCanCode/BundleOS/backend/internal/grpc/installd"
	"github.com/GriffinCanCode/BundleOS/backend/internal/logging"
	"github.com/GriffinCanCode/BundleOS/backend/internal/registry"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/errcode"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"
)

const manifestName = "patch.json"

const tmpSuffix = "_tmp"

// PatchManifest is the parsed patch.json of one patch archive.
type PatchManifest struct {
	BundleName       string             `json:"bundleName"`
	VersionCode      uint32             `json:"versionCode"`
	VersionName      string             `json:"versionName"`
	PatchVersionCode uint32             `json:"patchVersionCode"`
	PatchVersionName string             `json:"patchVersionName"`
	Type             types.QuickFixType `json:"type"`
}

// Deployer applies and removes patch overlays.
type Deployer struct {
	log      *logging.Logger
	cfg      *config.Config
	profile  *config.DeviceProfile
	registry *registry.Manager
	fs       installd.Service
}

// NewDeployer creates a patch deployer.
func NewDeployer(cfg *config.Config, profile *config.DeviceProfile, reg *registry.Manager, fs installd.Service, log *logging.Logger) *Deployer {
	return &Deployer{
		log:      log.Named("quickfix"),
		cfg:      cfg,
		profile:  profile,
		registry: reg,
		fs:       fs,
	}
}

// Deploy applies one patch archive to its target bundle. The target must
// be committed, match the patch coordinates exactly, and pass the
// type-specific signing gate.
func (d *Deployer) Deploy(ctx context.Context, path string) error {
	if !d.profile.SupportsQuickFix {
		return errcode.ErrQuickFixDeployFailed
	}

	manifest, err := parsePatch(path)
	if err != nil {
		return err
	}
	if manifest.Type != types.QuickFixPatch && manifest.Type != types.QuickFixHotReload {
		return errcode.ErrQuickFixInvalidPatchType
	}

	bundleName := manifest.BundleName
	mtx := d.registry.GetBundleMutex(bundleName)
	mtx.Lock()
	defer mtx.Unlock()

	record, ok := d.registry.GetBundle(bundleName)
	if !ok {
		return errcode.ErrQuickFixBundleNotExist
	}
	if err := checkTarget(manifest, record); err != nil {
		return err
	}

	if !d.registry.SetQuickFixStatus(bundleName, types.QuickFixDeployStart) {
		return errcode.ErrQuickFixDeployFailed
	}

	dir := d.patchDir(bundleName)
	tmp := dir + tmpSuffix
	if err := d.stage(ctx, path, record, tmp, dir); err != nil {
		d.registry.SetQuickFixStatus(bundleName, types.QuickFixNotDeployed)
		d.removeDirLogged(ctx, tmp)
		return fmt.Errorf("patch staging: %v: %w", err, errcode.ErrQuickFixDeployFailed)
	}

	info := &types.QuickFixInfo{
		Type:        manifest.Type,
		VersionCode: manifest.PatchVersionCode,
		VersionName: manifest.PatchVersionName,
		Status:      types.QuickFixDeployEnd,
		LibraryPath: filepath.Join(dir, "libs"),
		// Hot-reload overlays target one debug build; the next primary
		// update deletes them.
		NeedsDeleteOnNext: manifest.Type == types.QuickFixHotReload,
	}
	if !d.registry.CommitQuickFix(bundleName, info) {
		d.registry.SetQuickFixStatus(bundleName, types.QuickFixNotDeployed)
		d.removeDirLogged(ctx, dir)
		return errcode.ErrQuickFixDeployFailed
	}

	d.log.Info("patch deployed",
		zap.String("bundle", bundleName),
		zap.String("type", string(manifest.Type)),
		zap.Uint32("patch_version", manifest.PatchVersionCode))
	return nil
}

// Delete removes the patch overlay of a bundle. Deleting a bundle with no
// overlay is a no-op.
func (d *Deployer) Delete(ctx context.Context, bundleName string) error {
	mtx := d.registry.GetBundleMutex(bundleName)
	mtx.Lock()
	defer mtx.Unlock()

	record, ok := d.registry.GetBundle(bundleName)
	if !ok {
		return errcode.ErrQuickFixBundleNotExist
	}
	if record.QuickFix == nil {
		return nil
	}

	d.removeDirLogged(ctx, d.patchDir(bundleName))
	if !d.registry.CommitQuickFix(bundleName, nil) {
		return errcode.ErrQuickFixDeployFailed
	}

	d.log.Info("patch removed", zap.String("bundle", bundleName))
	return nil
}

// checkTarget gates one manifest against the committed record: exact
// coordinate equality, no overlay of the other kind, signing-mode
// compatibility, and monotonically increasing patch versions. The
// cross-kind check runs before the signing gate so a conflicting overlay
// is reported as such whatever the target's signing mode.
func checkTarget(manifest *PatchManifest, record *types.BundleRecord) error {
	if manifest.BundleName != record.BundleName {
		return errcode.ErrQuickFixBundleNameNotMatch
	}
	if manifest.VersionCode != record.VersionCode {
		return errcode.ErrQuickFixVersionCodeNotMatch
	}
	if manifest.VersionName != record.VersionName {
		return errcode.ErrQuickFixVersionNameNotMatch
	}

	switch manifest.Type {
	case types.QuickFixPatch:
		if record.QuickFix != nil && record.QuickFix.Type == types.QuickFixHotReload {
			return errcode.ErrQuickFixHotReloadAlreadyExisted
		}
		if record.Debug || record.ProvisionType != types.ProvisionRelease {
			return errcode.ErrQuickFixNotReleaseBundle
		}
	case types.QuickFixHotReload:
		if record.QuickFix != nil && record.QuickFix.Type == types.QuickFixPatch {
			return errcode.ErrQuickFixPatchAlreadyExisted
		}
		if !record.Debug && record.ProvisionType != types.ProvisionDebug {
			return errcode.ErrQuickFixNotDebugBundle
		}
	}

	if record.QuickFix != nil && record.QuickFix.Type == manifest.Type {
		if manifest.PatchVersionCode == record.QuickFix.VersionCode {
			return errcode.ErrQuickFixPatchAlreadyExisted
		}
		if manifest.PatchVersionCode < record.QuickFix.VersionCode {
			return errcode.ErrQuickFixPatchVersionError
		}
	}
	return nil
}

// stage lands the patch payload: archive copy plus extracted native
// overlay libraries, then swaps the overlay directory into place.
func (d *Deployer) stage(ctx context.Context, path string, record *types.BundleRecord, tmp, dir string) error {
	if err := d.fs.CreateBundleDir(ctx, tmp); err != nil {
		return err
	}
	if err := d.fs.CopyFile(ctx, path, filepath.Join(tmp, "patch.hqf")); err != nil {
		return err
	}
	if !record.NativeLibrary.Empty() {
		err := d.fs.ExtractFiles(ctx, installd.ExtractParam{
			SrcPath:   path,
			TargetDir: filepath.Join(tmp, "libs"),
			CPUAbi:    record.NativeLibrary.CPUAbi,
			FileType:  installd.ExtractSO,
		})
		if err != nil {
			return err
		}
	}
	if record.QuickFix != nil {
		// Replacing an older overlay: its directory goes first.
		if err := d.fs.RemoveDir(ctx, dir); err != nil {
			return err
		}
	}
	return d.fs.RenameDir(ctx, tmp, dir)
}

func (d *Deployer) patchDir(bundleName string) string {
	return filepath.Join(d.cfg.Storage.QuickFixDir, bundleName)
}

func (d *Deployer) removeDirLogged(ctx context.Context, dir string) {
	if err := d.fs.RemoveDir(ctx, dir); err != nil {
		d.log.Warn("patch cleanup failed", zap.String("dir", dir), zap.Error(err))
	}
}

// parsePatch reads the patch manifest out of the archive.
func parsePatch(path string) (*PatchManifest, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open patch %s: %v: %w", path, err, errcode.ErrQuickFixDeployFailed)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != manifestName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("read %s: %v: %w", manifestName, err, errcode.ErrQuickFixDeployFailed)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %v: %w", manifestName, err, errcode.ErrQuickFixDeployFailed)
		}
		var manifest PatchManifest
		if err := sonic.Unmarshal(data, &manifest); err != nil {
			return nil, fmt.Errorf("parse %s: %v: %w", manifestName, err, errcode.ErrQuickFixDeployFailed)
		}
		return &manifest, nil
	}
	return nil, fmt.Errorf("%s missing in %s: %w", manifestName, path, errcode.ErrQuickFixDeployFailed)
}
