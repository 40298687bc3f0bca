package installer

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/BundleOS/backend/internal/grpc/installd"
	"github.com/GriffinCanCode/BundleOS/backend/internal/parser"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/errcode"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"
)

// processNewInstall runs the first-install transaction. The caller holds
// the per-bundle mutex.
func (i *Installer) processNewInstall(ctx context.Context, pkgs []*parser.ParsedPackage, record *types.BundleRecord, userID int32, param types.InstallParam, paths []string) error {
	bundleName := record.BundleName

	if !i.registry.UpdateInstallState(bundleName, types.InstallStart) {
		return errcode.ErrInstallAlreadyInProgress
	}

	tx := newGuard()
	defer tx.run()
	fail := func(err error) error {
		// InstallFail purges the tracked state; the guard undoes the rest.
		i.registry.UpdateInstallState(bundleName, types.InstallFail)
		return err
	}

	bundleID, err := i.ids.Acquire(bundleName)
	if err != nil {
		return fail(err)
	}
	tx.push(func() { i.ids.Release(bundleName) })

	// Checkpoint before the first destructive step: a crash from here on
	// leaves a record with a start mark, and replay sweeps whatever
	// landed on disk. InstallFail purges the checkpoint on the error path.
	record.BundleID = bundleID
	record.Mark = types.InstallMark{
		BundleName:  bundleName,
		PackageName: pkgs[0].Manifest.Module.Name,
		Status:      types.InstallStartStatus,
	}
	if !i.registry.AddBundleRecord(bundleName, record) {
		return fail(errcode.ErrStorageWriteFailed)
	}

	code := i.codeDir(bundleName)
	tmp := code + tmpSuffix
	if err := i.fs.CreateBundleDir(ctx, tmp); err != nil {
		return fail(err)
	}
	tx.push(func() { i.removeDirLogged(tmp) })

	abi := record.NativeLibrary.CPUAbi
	if param.SpecifiedAbi != "" {
		abi = param.SpecifiedAbi
	}
	for _, pkg := range pkgs {
		if err := i.stageModule(ctx, pkg, filepath.Join(tmp, pkg.Manifest.Module.Name), abi, param); err != nil {
			return fail(err)
		}
	}

	// Commit point for the code payload.
	if err := i.fs.RenameDir(ctx, tmp, code); err != nil {
		return fail(err)
	}
	tx.push(func() { i.removeDirLogged(code) })

	uid := types.UIDFor(userID, bundleID)
	owned, err := i.fs.CreateBundleDataDir(ctx, installd.DataDirParam{
		BundleName:     bundleName,
		UserID:         userID,
		UID:            uid,
		GID:            uid,
		APL:            record.AppPrivilegeLevel,
		IsPreInstalled: param.IsPreInstallApp,
		Debug:          record.Debug,
	})
	if err != nil {
		return fail(err)
	}
	data := i.dataDir(userID, bundleName)
	tx.push(func() { i.removeDirLogged(data) })

	if err := i.fs.SetDirApl(ctx, data, bundleName, record.AppPrivilegeLevel, param.IsPreInstallApp, record.Debug); err != nil {
		return fail(err)
	}

	token, err := i.authority.CreateAccessTokenIDEx(record, bundleName, userID)
	if err != nil {
		return fail(err)
	}
	tx.push(func() { _ = i.authority.DeleteAccessTokenID(token) })
	if err := i.authority.GrantRequestPermissions(record, token); err != nil {
		return fail(err)
	}

	now := nowMillis()
	record.CodePath = code
	record.IsSystemApp = param.IsPreInstallApp
	record.PreInstalled = param.IsPreInstallApp
	record.Removable = !param.IsPreInstallApp
	for name, m := range record.Modules {
		m.CodePath = i.moduleDir(bundleName, name)
		m.HapPath = filepath.Join(m.CodePath, name+".hap")
	}
	record.Users[userID] = &types.UserRecord{
		UserID:        userID,
		UID:           owned.UID,
		GID:           owned.GID,
		InstallTime:   now,
		UpdateTime:    now,
		Enabled:       true,
		AccessTokenID: token,
	}
	record.Mark = types.InstallMark{BundleName: bundleName, Status: types.InstallFinishStatus}

	if !i.registry.UpdateBundleRecord(bundleName, record) {
		return fail(errcode.ErrStorageWriteFailed)
	}
	if !i.registry.UpdateInstallState(bundleName, types.InstallSuccess) {
		return fail(errcode.ErrInstallStateError)
	}
	tx.dismiss()

	if param.IsPreInstallApp && i.pre != nil {
		err := i.pre.SavePreInstallRecord(&types.PreInstallRecord{
			BundleName:  bundleName,
			BundlePaths: append([]string(nil), paths...),
			Removable:   record.Removable,
			IsSystemApp: record.IsSystemApp,
			VersionCode: record.VersionCode,
		})
		if err != nil {
			i.log.Warn("preinstall record save failed", zap.String("bundle", bundleName), zap.Error(err))
		}
	}

	i.ensureDataGroups(ctx, record)
	i.notifier.NotifyBundleEvent(EventInstall, bundleName, userID)
	go i.runAOT(record.DeepCopy())

	i.log.Info("bundle installed",
		zap.String("bundle", bundleName),
		zap.Uint32("version", record.VersionCode),
		zap.Int32("user", userID))
	return nil
}

// stageModule lands one archive's payload in dir: the archive itself plus
// the extracted native and ark-native artifacts. AOT profiles are
// extracted asynchronously after commit.
func (i *Installer) stageModule(ctx context.Context, pkg *parser.ParsedPackage, dir, abi string, param types.InstallParam) error {
	if err := i.fs.CreateBundleDir(ctx, dir); err != nil {
		return err
	}
	dest := filepath.Join(dir, pkg.Manifest.Module.Name+".hap")
	if err := i.fs.CopyFile(ctx, pkg.Path, dest); err != nil {
		return err
	}
	if len(pkg.NativeLibAbis) > 0 {
		err := i.fs.ExtractFiles(ctx, installd.ExtractParam{
			SrcPath:   pkg.Path,
			TargetDir: filepath.Join(dir, "libs"),
			CPUAbi:    abi,
			FileType:  installd.ExtractSO,
		})
		if err != nil {
			return err
		}
	}
	if pkg.HasArkNative {
		err := i.fs.ExtractFiles(ctx, installd.ExtractParam{
			SrcPath:   pkg.Path,
			TargetDir: filepath.Join(dir, "an"),
			CPUAbi:    pkg.ArkNativeAbi,
			FileType:  installd.ExtractAN,
		})
		if err != nil {
			return err
		}
	}
	if param.SignatureDir != "" {
		if err := i.fs.VerifyCodeSignature(ctx, dest, abi, dir, param.SignatureDir); err != nil {
			return err
		}
	}
	return nil
}

// installExistingForUser adds one OS user to an already-committed bundle
// at the same version: no code payload changes, only a data directory, a
// token and a user record.
func (i *Installer) installExistingForUser(ctx context.Context, existing *types.BundleRecord, userID int32) error {
	bundleName := existing.BundleName

	prior, ok := i.registry.GetInstallState(bundleName)
	if !ok {
		return errcode.ErrInstallStateError
	}
	if !i.registry.UpdateInstallState(bundleName, types.UserChange) {
		return errcode.ErrInstallAlreadyInProgress
	}

	tx := newGuard()
	defer tx.run()
	fail := func(err error) error {
		i.registry.UpdateInstallState(bundleName, prior)
		return err
	}

	uid := types.UIDFor(userID, existing.BundleID)
	owned, err := i.fs.CreateBundleDataDir(ctx, installd.DataDirParam{
		BundleName:     bundleName,
		UserID:         userID,
		UID:            uid,
		GID:            uid,
		APL:            existing.AppPrivilegeLevel,
		IsPreInstalled: existing.PreInstalled,
		Debug:          existing.Debug,
	})
	if err != nil {
		return fail(err)
	}
	data := i.dataDir(userID, bundleName)
	tx.push(func() { i.removeDirLogged(data) })

	token, err := i.authority.CreateAccessTokenIDEx(existing, bundleName, userID)
	if err != nil {
		return fail(err)
	}
	tx.push(func() { _ = i.authority.DeleteAccessTokenID(token) })
	if err := i.authority.GrantRequestPermissions(existing, token); err != nil {
		return fail(err)
	}

	now := nowMillis()
	merged := existing.DeepCopy()
	merged.Users[userID] = &types.UserRecord{
		UserID:        userID,
		UID:           owned.UID,
		GID:           owned.GID,
		InstallTime:   now,
		UpdateTime:    now,
		Enabled:       true,
		AccessTokenID: token,
	}

	if !i.registry.UpdateBundleRecord(bundleName, merged) {
		return fail(errcode.ErrStorageWriteFailed)
	}
	if !i.registry.UpdateInstallState(bundleName, prior) {
		return fail(errcode.ErrInstallStateError)
	}
	tx.dismiss()

	i.notifier.NotifyBundleEvent(EventInstall, bundleName, userID)
	i.log.Info("bundle installed for user",
		zap.String("bundle", bundleName), zap.Int32("user", userID))
	return nil
}

// processUpdate runs the update transaction: stage every incoming module
// next to its committed directory, acquire per-user resources, then swap
// directories with deferred renames and commit the merged record.
func (i *Installer) processUpdate(ctx context.Context, existing *types.BundleRecord, pkgs []*parser.ParsedPackage, candidates []*types.BundleRecord, newAgg *types.BundleRecord, userID int32, param types.InstallParam) error {
	bundleName := existing.BundleName

	if !i.registry.UpdateInstallState(bundleName, types.UpdatingStart) {
		return errcode.ErrInstallAlreadyInProgress
	}

	// Classify the batch for the crash-recovery checkpoint: a batch that
	// only adds modules replays differently from one replacing them.
	onlyNew := true
	for _, pkg := range pkgs {
		if _, ok := existing.Modules[pkg.Manifest.Module.Name]; ok {
			onlyNew = false
			break
		}
	}
	markStatus := types.UpdatingExistedStart
	if onlyNew {
		markStatus = types.UpdatingNewStart
	}
	i.registry.SaveInstallMark(bundleName, types.InstallMark{
		BundleName:  bundleName,
		PackageName: pkgs[0].Manifest.Module.Name,
		Status:      markStatus,
	})

	tx := newGuard()
	defer tx.run()
	restore := func(err error) error {
		// Recommit the old record with a finished mark; the deferred
		// guard sweeps the staged payloads afterwards.
		if !i.registry.UpdateInstallState(bundleName, types.UpdatingSuccess) {
			i.log.Error("restore transition failed", zap.String("bundle", bundleName))
			return err
		}
		old := existing.DeepCopy()
		old.Mark = types.InstallMark{BundleName: bundleName, Status: types.UpdatingFinishStatus}
		i.registry.UpdateBundleRecord(bundleName, old)
		return err
	}

	abi := newAgg.NativeLibrary.CPUAbi
	if param.SpecifiedAbi != "" {
		abi = param.SpecifiedAbi
	}
	var staged []string
	for _, pkg := range pkgs {
		name := pkg.Manifest.Module.Name
		tmp := i.moduleDir(bundleName, name) + tmpSuffix
		tx.push(func() { i.removeDirLogged(tmp) })
		if err := i.stageModule(ctx, pkg, tmp, abi, param); err != nil {
			return restore(err)
		}
		staged = append(staged, name)
	}

	merged := buildUpdatedRecord(existing, newAgg)
	for _, name := range staged {
		merged.Modules[name].CodePath = i.moduleDir(bundleName, name)
		merged.Modules[name].HapPath = filepath.Join(merged.Modules[name].CodePath, name+".hap")
	}
	now := nowMillis()

	if user, ok := existing.User(userID); ok {
		if err := i.authority.UpdateDefineAndRequestPermissions(user.AccessTokenID, existing, merged); err != nil {
			return restore(err)
		}
		merged.Users[userID].UpdateTime = now
	} else {
		uid := types.UIDFor(userID, existing.BundleID)
		owned, err := i.fs.CreateBundleDataDir(ctx, installd.DataDirParam{
			BundleName:     bundleName,
			UserID:         userID,
			UID:            uid,
			GID:            uid,
			APL:            merged.AppPrivilegeLevel,
			IsPreInstalled: merged.PreInstalled,
			Debug:          merged.Debug,
		})
		if err != nil {
			return restore(err)
		}
		data := i.dataDir(userID, bundleName)
		tx.push(func() { i.removeDirLogged(data) })

		token, err := i.authority.CreateAccessTokenIDEx(merged, bundleName, userID)
		if err != nil {
			return restore(err)
		}
		tx.push(func() { _ = i.authority.DeleteAccessTokenID(token) })
		if err := i.authority.GrantRequestPermissions(merged, token); err != nil {
			return restore(err)
		}
		merged.Users[userID] = &types.UserRecord{
			UserID:        userID,
			UID:           owned.UID,
			GID:           owned.GID,
			InstallTime:   now,
			UpdateTime:    now,
			Enabled:       true,
			AccessTokenID: token,
		}
	}

	// Deferred rename phase. A rename failure restores the directories it
	// already moved; anything after the last rename is committed and only
	// logged on failure.
	if err := i.swapModuleDirs(ctx, existing, staged, bundleName); err != nil {
		return restore(err)
	}
	tx.dismiss()

	for _, name := range staged {
		if _, existed := existing.Modules[name]; !existed {
			continue
		}
		old := i.moduleDir(bundleName, name) + oldSuffix
		if err := i.fs.RemoveDir(ctx, old); err != nil {
			i.log.Warn("leftover old module dir", zap.String("dir", old), zap.Error(err))
		}
	}

	// A pending quick-fix overlay marked for deletion is consumed by the
	// first primary update.
	if merged.QuickFix != nil && merged.QuickFix.NeedsDeleteOnNext {
		if err := i.fs.RemoveDir(ctx, i.patchDir(bundleName)); err != nil {
			i.log.Warn("patch dir removal failed", zap.String("bundle", bundleName), zap.Error(err))
		}
		merged.QuickFix = nil
	}

	merged.Mark = types.InstallMark{BundleName: bundleName, Status: types.UpdatingFinishStatus}

	if onlyNew && merged.VersionCode == existing.VersionCode {
		// Feature-module addition at the same version: merge module by
		// module on top of the committed aggregate.
		if !i.registry.UpdateInstallState(bundleName, types.UpdatingSuccess) {
			return errcode.ErrInstallStateError
		}
		agg := existing.DeepCopy()
		agg.Mark = merged.Mark
		for _, name := range staged {
			module := merged.Modules[name]
			if !i.registry.AddModule(bundleName, module, agg) {
				return errcode.ErrStorageWriteFailed
			}
			agg.Modules[name] = module
		}
		if user, ok := merged.Users[userID]; ok {
			agg.Users[userID] = user
			i.registry.UpdateBundleRecord(bundleName, agg)
		}
	} else {
		if !i.registry.UpdateBundleRecord(bundleName, merged) {
			return errcode.ErrStorageWriteFailed
		}
		if !i.registry.UpdateInstallState(bundleName, types.UpdatingSuccess) {
			return errcode.ErrInstallStateError
		}
	}

	i.ensureDataGroups(ctx, merged)
	if merged.Singleton != existing.Singleton {
		go i.cleanupSingletonFlip(existing.DeepCopy(), merged.Singleton)
	}
	i.notifier.NotifyBundleEvent(EventUpdate, bundleName, userID)
	go i.runAOT(merged.DeepCopy())

	i.log.Info("bundle updated",
		zap.String("bundle", bundleName),
		zap.Uint32("from", existing.VersionCode),
		zap.Uint32("to", merged.VersionCode),
		zap.Int32("user", userID))
	return nil
}

// swapModuleDirs moves every staged module into place: committed dir
// aside to _old, staged _tmp dir to final. On failure it undoes the moves
// it already made so the restore path sees the old layout.
func (i *Installer) swapModuleDirs(ctx context.Context, existing *types.BundleRecord, staged []string, bundleName string) error {
	var swapped []string
	undo := func() {
		for k := len(swapped) - 1; k >= 0; k-- {
			name := swapped[k]
			mdir := i.moduleDir(bundleName, name)
			if err := i.fs.RenameDir(ctx, mdir, mdir+tmpSuffix); err != nil {
				i.log.Error("swap undo failed", zap.String("dir", mdir), zap.Error(err))
				continue
			}
			if _, existed := existing.Modules[name]; existed {
				if err := i.fs.RenameDir(ctx, mdir+oldSuffix, mdir); err != nil {
					i.log.Error("swap undo failed", zap.String("dir", mdir), zap.Error(err))
				}
			}
		}
	}

	for _, name := range staged {
		mdir := i.moduleDir(bundleName, name)
		if _, existed := existing.Modules[name]; existed {
			if err := i.fs.RenameDir(ctx, mdir, mdir+oldSuffix); err != nil {
				undo()
				return err
			}
		}
		if err := i.fs.RenameDir(ctx, mdir+tmpSuffix, mdir); err != nil {
			if _, existed := existing.Modules[name]; existed {
				if rerr := i.fs.RenameDir(ctx, mdir+oldSuffix, mdir); rerr != nil {
					i.log.Error("swap undo failed", zap.String("dir", mdir), zap.Error(rerr))
				}
			}
			undo()
			return err
		}
		swapped = append(swapped, name)
	}
	return nil
}

// buildUpdatedRecord merges the incoming aggregate onto the committed
// record: bundle-level labels and versions come from the incoming batch,
// identity and per-user state carry over, and modules not in the batch
// survive untouched.
func buildUpdatedRecord(existing, incoming *types.BundleRecord) *types.BundleRecord {
	merged := incoming.DeepCopy()
	merged.BundleID = existing.BundleID
	merged.CodePath = existing.CodePath
	merged.IsSystemApp = existing.IsSystemApp
	merged.PreInstalled = existing.PreInstalled
	merged.Removable = existing.Removable
	merged.Status = existing.Status
	merged.QuickFix = nil
	if existing.QuickFix != nil {
		qf := *existing.QuickFix
		merged.QuickFix = &qf
	}

	for name, m := range existing.Modules {
		if _, replaced := merged.Modules[name]; !replaced {
			mc := *m
			merged.Modules[name] = &mc
		}
	}
	merged.Users = make(map[int32]*types.UserRecord, len(existing.Users))
	for id, u := range existing.Users {
		uc := *u
		merged.Users[id] = &uc
	}
	return merged
}

func (i *Installer) removeDirLogged(dir string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := i.fs.RemoveDir(ctx, dir); err != nil {
		i.log.Warn("cleanup failed", zap.String("dir", dir), zap.Error(err))
	}
}
