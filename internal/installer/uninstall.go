package installer

import (
	"context"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/errcode"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"
)

// Uninstall removes a bundle for one OS user. With other users remaining
// only the per-user state goes; the last user takes the whole bundle with
// it.
func (i *Installer) Uninstall(ctx context.Context, bundleName string, param types.UninstallParam) error {
	if bundleName == "" {
		return errcode.ErrUninstallParamError
	}
	userID, err := resolveUserID(param.UserID)
	if err != nil {
		return errcode.ErrUninstallParamError
	}

	mtx := i.registry.GetBundleMutex(bundleName)
	mtx.Lock()
	defer mtx.Unlock()

	record, ok := i.registry.GetBundle(bundleName)
	if !ok {
		return errcode.ErrUninstallMissingInstalledBundle
	}
	if !record.HasUser(userID) {
		return errcode.ErrUninstallMissingInstalledBundle
	}
	if !record.Removable && !param.ForceExecuted {
		return errcode.ErrUninstallSystemAppError
	}
	if !i.gate.IsUninstallAllowed(ctx, record.AppID, userID) {
		return errcode.ErrUninstallDisallowed
	}

	if len(record.Users) > 1 {
		return i.removeUser(ctx, record, userID, param)
	}
	return i.removeBundle(ctx, record, userID, param)
}

// UninstallModule removes one module from a committed bundle. Removing
// the only module degrades to a whole-bundle uninstall for that user.
func (i *Installer) UninstallModule(ctx context.Context, bundleName, moduleName string, param types.UninstallParam) error {
	if bundleName == "" || moduleName == "" {
		return errcode.ErrUninstallParamError
	}
	userID, err := resolveUserID(param.UserID)
	if err != nil {
		return errcode.ErrUninstallParamError
	}

	mtx := i.registry.GetBundleMutex(bundleName)
	mtx.Lock()
	defer mtx.Unlock()

	record, ok := i.registry.GetBundle(bundleName)
	if !ok {
		return errcode.ErrUninstallMissingInstalledBundle
	}
	if !record.HasUser(userID) {
		return errcode.ErrUninstallMissingInstalledBundle
	}
	if _, ok := record.Modules[moduleName]; !ok {
		return errcode.ErrUninstallMissingInstalledModule
	}

	if len(record.Modules) == 1 {
		if !record.Removable && !param.ForceExecuted {
			return errcode.ErrUninstallSystemAppError
		}
		if !i.gate.IsUninstallAllowed(ctx, record.AppID, userID) {
			return errcode.ErrUninstallDisallowed
		}
		if len(record.Users) > 1 {
			return i.removeUser(ctx, record, userID, param)
		}
		return i.removeBundle(ctx, record, userID, param)
	}

	if !i.registry.UpdateInstallState(bundleName, types.UninstallStart) {
		return errcode.ErrInstallAlreadyInProgress
	}
	i.registry.SaveInstallMark(bundleName, types.InstallMark{
		BundleName:  bundleName,
		PackageName: moduleName,
		Status:      types.UninstallBundleStart,
	})

	restore := func(err error) error {
		if !i.registry.UpdateInstallState(bundleName, types.UserChange) ||
			!i.registry.UpdateInstallState(bundleName, types.UpdatingSuccess) {
			i.log.Error("module uninstall restore failed", zap.String("bundle", bundleName))
			return err
		}
		i.registry.SaveInstallMark(bundleName, types.InstallMark{
			BundleName: bundleName,
			Status:     types.UninstallBundleFinish,
		})
		return err
	}

	if err := i.fs.RemoveDir(ctx, i.moduleDir(bundleName, moduleName)); err != nil {
		return restore(err)
	}

	if !i.registry.RemoveModule(bundleName, moduleName, record) {
		return restore(errcode.ErrStorageWriteFailed)
	}
	if !i.registry.UpdateInstallState(bundleName, types.UserChange) ||
		!i.registry.UpdateInstallState(bundleName, types.UpdatingSuccess) {
		return errcode.ErrUninstallStateError
	}
	i.registry.SaveInstallMark(bundleName, types.InstallMark{
		BundleName: bundleName,
		Status:     types.UninstallBundleFinish,
	})

	i.notifier.NotifyBundleEvent(EventUninstall, bundleName, userID)
	i.log.Info("module uninstalled",
		zap.String("bundle", bundleName), zap.String("module", moduleName), zap.Int32("user", userID))
	return nil
}

// removeUser drops one user's installation while other users keep the
// bundle. The caller holds the per-bundle mutex.
func (i *Installer) removeUser(ctx context.Context, record *types.BundleRecord, userID int32, param types.UninstallParam) error {
	bundleName := record.BundleName
	user := record.Users[userID]

	prior, ok := i.registry.GetInstallState(bundleName)
	if !ok {
		return errcode.ErrUninstallStateError
	}
	if !i.registry.UpdateInstallState(bundleName, types.UserChange) {
		return errcode.ErrInstallAlreadyInProgress
	}

	if param.KillProcess {
		if err := i.fs.KillProcessesByUID(ctx, user.UID); err != nil {
			i.log.Warn("process kill failed", zap.String("bundle", bundleName), zap.Uint32("uid", user.UID), zap.Error(err))
		}
	}
	if err := i.fs.RemoveDir(ctx, i.dataDir(userID, bundleName)); err != nil {
		i.log.Warn("user data dir removal failed", zap.String("bundle", bundleName), zap.Int32("user", userID), zap.Error(err))
	}
	if err := i.authority.DeleteAccessTokenID(user.AccessTokenID); err != nil {
		i.log.Warn("token revocation failed", zap.String("bundle", bundleName), zap.Error(err))
	}

	merged := record.DeepCopy()
	delete(merged.Users, userID)

	if !i.registry.UpdateBundleRecord(bundleName, merged) {
		i.registry.UpdateInstallState(bundleName, prior)
		return errcode.ErrStorageWriteFailed
	}
	if !i.registry.UpdateInstallState(bundleName, prior) {
		return errcode.ErrUninstallStateError
	}

	i.notifier.NotifyBundleEvent(EventUninstall, bundleName, userID)
	i.log.Info("bundle uninstalled for user",
		zap.String("bundle", bundleName), zap.Int32("user", userID))
	return nil
}

// removeBundle removes the last user and the whole bundle. A failed
// destructive step restores the committed record, re-enabled; a crash
// mid-removal is finished by replay off the persisted start mark. The
// record is purged only once every removal step has succeeded.
func (i *Installer) removeBundle(ctx context.Context, record *types.BundleRecord, userID int32, param types.UninstallParam) error {
	bundleName := record.BundleName
	user := record.Users[userID]

	prior, ok := i.registry.GetInstallState(bundleName)
	if !ok {
		return errcode.ErrUninstallStateError
	}

	// The bundle goes dark before anything is destroyed; any failure
	// re-enables it.
	i.registry.SetApplicationEnabled(bundleName, userID, false)
	reenable := newGuard()
	reenable.push(func() { i.registry.SetApplicationEnabled(bundleName, userID, true) })
	defer reenable.run()

	if !i.registry.UpdateInstallState(bundleName, types.UninstallStart) {
		return errcode.ErrInstallAlreadyInProgress
	}
	restore := func(err error) error {
		if !i.registry.UpdateInstallState(bundleName, types.UserChange) ||
			!i.registry.UpdateInstallState(bundleName, prior) {
			i.log.Error("uninstall restore failed", zap.String("bundle", bundleName))
			return err
		}
		i.registry.SaveInstallMark(bundleName, types.InstallMark{
			BundleName: bundleName,
			Status:     types.UninstallBundleFinish,
		})
		return err
	}
	if !i.registry.SaveInstallMark(bundleName, types.InstallMark{
		BundleName: bundleName,
		Status:     types.UninstallBundleStart,
	}) {
		return restore(errcode.ErrStorageWriteFailed)
	}

	if param.KillProcess {
		if err := i.fs.KillProcessesByUID(ctx, user.UID); err != nil {
			i.log.Warn("process kill failed", zap.String("bundle", bundleName), zap.Uint32("uid", user.UID), zap.Error(err))
		}
	}
	if err := i.fs.RemoveDir(ctx, i.dataDir(userID, bundleName)); err != nil {
		return restore(err)
	}
	if err := i.fs.RemoveDir(ctx, i.codeDir(bundleName)); err != nil {
		return restore(err)
	}
	if record.QuickFix != nil {
		if err := i.fs.RemoveDir(ctx, i.patchDir(bundleName)); err != nil {
			i.log.Warn("patch dir removal failed", zap.String("bundle", bundleName), zap.Error(err))
		}
	}
	if err := i.authority.DeleteAccessTokenID(user.AccessTokenID); err != nil {
		i.log.Warn("token revocation failed", zap.String("bundle", bundleName), zap.Error(err))
	}
	if err := i.ids.Release(bundleName); err != nil {
		i.log.Warn("bundle id release failed", zap.String("bundle", bundleName), zap.Error(err))
	}

	if !i.registry.UpdateInstallState(bundleName, types.UninstallSuccess) {
		return errcode.ErrUninstallStateError
	}
	reenable.dismiss()

	i.pruneDataGroups(ctx, record)
	i.notifier.NotifyBundleEvent(EventUninstall, bundleName, userID)
	i.log.Info("bundle uninstalled",
		zap.String("bundle", bundleName), zap.Int32("user", userID))
	return nil
}
