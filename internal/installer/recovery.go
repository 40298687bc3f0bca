package installer

import (
	"context"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"
)

// ReplayUnfinished rolls every record with an unfinished install mark
// back to a consistent committed state. Called once at startup with the
// candidates the registry reported while loading.
func (i *Installer) ReplayUnfinished(ctx context.Context, pending []*types.BundleRecord) {
	for _, record := range pending {
		i.replayOne(ctx, record)
	}
}

func (i *Installer) replayOne(ctx context.Context, record *types.BundleRecord) {
	bundleName := record.BundleName
	log := i.log.WithFields(
		zap.String("bundle", bundleName),
		zap.String("mark", string(record.Mark.Status)))

	mtx := i.registry.GetBundleMutex(bundleName)
	mtx.Lock()
	defer mtx.Unlock()

	switch record.Mark.Status {
	case types.InstallStartStatus:
		// The first install never reached its finish checkpoint; the
		// record must not survive. Sweep whatever landed on disk.
		log.Warn("replaying unfinished install, purging bundle")
		i.purgeReplayed(ctx, record)

	case types.UpdatingExistedStart:
		// Module replacement interrupted: drop staged payloads, move any
		// half-swapped directory back, recommit the persisted record.
		log.Warn("replaying unfinished update, restoring module dirs")
		for name := range record.Modules {
			mdir := i.moduleDir(bundleName, name)
			i.removeDirLogged(mdir + tmpSuffix)
			// Present only if the crash hit mid-swap; the rename is a
			// no-op failure otherwise.
			if err := i.fs.RenameDir(ctx, mdir+oldSuffix, mdir); err != nil {
				log.Debug("no old dir to restore", zap.String("module", name))
			}
		}
		i.recommitReplayed(record)

	case types.UpdatingNewStart:
		// A new module was mid-install: its payload and record entry go.
		moduleName := record.Mark.PackageName
		log.Warn("replaying unfinished module add, dropping module",
			zap.String("module", moduleName))
		mdir := i.moduleDir(bundleName, moduleName)
		i.removeDirLogged(mdir + tmpSuffix)
		i.removeDirLogged(mdir)

		if !i.registry.UpdateInstallState(bundleName, types.RollBack) {
			log.Error("rollback transition failed")
			return
		}
		if _, ok := record.Modules[moduleName]; ok {
			if !i.registry.RemoveModule(bundleName, moduleName, record) {
				log.Error("module rollback persist failed")
			}
			delete(record.Modules, moduleName)
		}
		record.Mark = types.InstallMark{BundleName: bundleName, Status: types.UpdatingFinishStatus}
		if !i.registry.UpdateBundleRecord(bundleName, record) {
			log.Error("rollback record persist failed")
		}
		if !i.registry.UpdateInstallState(bundleName, types.UpdatingSuccess) {
			log.Error("rollback finish transition failed")
		}

	case types.UninstallBundleStart:
		// The uninstall already passed its point of no return: finish it.
		log.Warn("replaying unfinished uninstall, completing removal")
		i.purgeReplayed(ctx, record)

	default:
		log.Error("unrecognized install mark, leaving record untouched")
	}
}

// purgeReplayed removes every on-disk trace of record and purges it from
// the registry through the uninstall transitions.
func (i *Installer) purgeReplayed(ctx context.Context, record *types.BundleRecord) {
	bundleName := record.BundleName

	if !i.registry.UpdateInstallState(bundleName, types.UninstallStart) {
		i.log.Error("replay purge transition failed", zap.String("bundle", bundleName))
		return
	}

	i.removeDirLogged(i.codeDir(bundleName) + tmpSuffix)
	i.removeDirLogged(i.codeDir(bundleName))
	for userID, user := range record.Users {
		i.removeDirLogged(i.dataDir(userID, bundleName))
		if err := i.authority.DeleteAccessTokenID(user.AccessTokenID); err != nil {
			i.log.Warn("replay token revocation failed", zap.String("bundle", bundleName), zap.Error(err))
		}
	}
	if record.QuickFix != nil {
		i.removeDirLogged(i.patchDir(bundleName))
	}
	if err := i.ids.Release(bundleName); err != nil {
		i.log.Warn("replay id release failed", zap.String("bundle", bundleName), zap.Error(err))
	}

	if !i.registry.UpdateInstallState(bundleName, types.UninstallSuccess) {
		i.log.Error("replay purge finish failed", zap.String("bundle", bundleName))
		return
	}
	i.pruneDataGroups(ctx, record)
}

// recommitReplayed persists the restored record with a finished mark via
// the rollback transitions.
func (i *Installer) recommitReplayed(record *types.BundleRecord) {
	bundleName := record.BundleName

	if !i.registry.UpdateInstallState(bundleName, types.RollBack) {
		i.log.Error("replay recommit transition failed", zap.String("bundle", bundleName))
		return
	}
	record.Mark = types.InstallMark{BundleName: bundleName, Status: types.UpdatingFinishStatus}
	if !i.registry.UpdateBundleRecord(bundleName, record) {
		i.log.Error("replay recommit persist failed", zap.String("bundle", bundleName))
	}
	if !i.registry.UpdateInstallState(bundleName, types.UpdatingSuccess) {
		i.log.Error("replay recommit finish failed", zap.String("bundle", bundleName))
	}
}
