package installer

import (
	"context"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/BundleOS/backend/internal/appcontrol"
	"github.com/GriffinCanCode/BundleOS/backend/internal/checker"
	"github.com/GriffinCanCode/BundleOS/backend/internal/config"
	"github.com/GriffinCanCode/BundleOS/backend/internal/grpc/installd"
	"github.com/GriffinCanCode/BundleOS/backend/internal/logging"
	"github.com/GriffinCanCode/BundleOS/backend/internal/parser"
	"github.com/GriffinCanCode/BundleOS/backend/internal/permission"
	"github.com/GriffinCanCode/BundleOS/backend/internal/registry"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/errcode"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/id"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"
	"github.com/GriffinCanCode/BundleOS/backend/internal/signature"
)

// Bundle change events published after commit.
const (
	EventInstall   = "install"
	EventUpdate    = "update"
	EventUninstall = "uninstall"
)

// Staging directory suffixes. A module directory carrying one of these is
// mid-transaction and gets swept by crash recovery.
const (
	tmpSuffix = "_tmp"
	oldSuffix = "_old"
)

// Notifier publishes bundle change notifications to subscribers. The
// installer publishes only after commit, never inside a transaction.
type Notifier interface {
	NotifyBundleEvent(event, bundleName string, userID int32)
}

// NopNotifier drops all notifications.
type NopNotifier struct{}

// NotifyBundleEvent implements Notifier.
func (NopNotifier) NotifyBundleEvent(string, string, int32) {}

// PreInstallStore persists the original archive paths of pre-installed
// bundles so they can be recovered after uninstall.
type PreInstallStore interface {
	SavePreInstallRecord(record *types.PreInstallRecord) error
	GetPreInstallRecord(bundleName string) (*types.PreInstallRecord, error)
	DeletePreInstallRecord(bundleName string) error
}

// Deps carries the collaborators an Installer orchestrates.
type Deps struct {
	Config    *config.Config
	Registry  *registry.Manager
	Parser    parser.Parser
	Verifier  signature.Verifier
	Checker   *checker.Checker
	Authority permission.Authority
	Gate      appcontrol.Gate
	Installd  installd.Service
	IDs       *id.Allocator
	PreStore  PreInstallStore
	Notifier  Notifier
	Logger    *logging.Logger
}

// Installer is the transaction orchestrator.
type Installer struct {
	log       *logging.Logger
	cfg       *config.Config
	registry  *registry.Manager
	parser    parser.Parser
	verifier  signature.Verifier
	checker   *checker.Checker
	authority permission.Authority
	gate      appcontrol.Gate
	fs        installd.Service
	ids       *id.Allocator
	pre       PreInstallStore
	notifier  Notifier
}

// New creates an installer from its collaborators.
func New(deps Deps) *Installer {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Installer{
		log:       deps.Logger.Named("installer"),
		cfg:       deps.Config,
		registry:  deps.Registry,
		parser:    deps.Parser,
		verifier:  deps.Verifier,
		checker:   deps.Checker,
		authority: deps.Authority,
		gate:      deps.Gate,
		fs:        deps.Installd,
		ids:       deps.IDs,
		pre:       deps.PreStore,
		notifier:  notifier,
	}
}

// Install installs or updates a bundle from a batch of archive paths for
// one OS user. Returns the bundle name once it is known so callers can
// report it even on failure.
func (i *Installer) Install(ctx context.Context, paths []string, param types.InstallParam) (string, error) {
	if len(paths) == 0 {
		return "", errcode.ErrInstallParamError
	}
	if param.UserID != types.UnspecifiedUserID && param.UserID < 0 {
		return "", errcode.ErrInstallInvalidUserID
	}

	pkgs, err := i.parser.ParseBatch(paths)
	if err != nil {
		return "", err
	}
	signs, err := i.verifier.CheckMultipleHapsSignInfo(paths)
	if err != nil {
		return "", err
	}

	bundleName := pkgs[0].Manifest.App.BundleName

	mtx := i.registry.GetBundleMutex(bundleName)
	mtx.Lock()
	defer mtx.Unlock()

	existing, exists := i.registry.GetBundle(bundleName)
	var existingRef *types.BundleRecord
	if exists {
		existingRef = existing
	}

	candidates, err := i.checker.CheckBatch(pkgs, signs, existingRef)
	if err != nil {
		return bundleName, err
	}
	newRecord := mergeCandidates(candidates)
	userID := resolveInstallUserID(param.UserID, newRecord.Singleton)

	if err := checkUserScope(newRecord.Singleton, userID); err != nil {
		return bundleName, err
	}

	if !exists {
		return bundleName, i.processNewInstall(ctx, pkgs, newRecord, userID, param, paths)
	}

	if existing.SignatureFingerprint != newRecord.SignatureFingerprint {
		return bundleName, errcode.ErrInstallSignatureMismatch
	}
	if newRecord.VersionCode < existing.VersionCode {
		return bundleName, errcode.ErrInstallVersionDowngrade
	}
	if newRecord.VersionCode < existing.MinCompatibleVersionCode {
		return bundleName, errcode.ErrInstallVersionNotCompatible
	}
	if newRecord.VersionCode == existing.VersionCode {
		if err := i.checker.CheckAppLabels(existing, newRecord); err != nil {
			return bundleName, err
		}
		if !existing.HasUser(userID) && modulesSubset(newRecord, existing) {
			return bundleName, i.installExistingForUser(ctx, existing, userID)
		}
	}

	return bundleName, i.processUpdate(ctx, existing, pkgs, candidates, newRecord, userID, param)
}

// Recover reinstalls a previously-uninstalled pre-installed bundle from
// its recorded archive paths.
func (i *Installer) Recover(ctx context.Context, bundleName string, param types.InstallParam) (string, error) {
	if bundleName == "" {
		return "", errcode.ErrRecoverParamError
	}
	if i.pre == nil {
		return "", errcode.ErrRecoverParamError
	}
	rec, err := i.pre.GetPreInstallRecord(bundleName)
	if err != nil || rec == nil {
		return "", errcode.ErrAppNotExist
	}
	param.IsPreInstallApp = true
	return i.Install(ctx, rec.BundlePaths, param)
}

// GetBundleStats asks installd for the size vector of one bundle/user.
func (i *Installer) GetBundleStats(ctx context.Context, bundleName string, userID int32) (types.BundleStats, error) {
	record, ok := i.registry.GetBundle(bundleName)
	if !ok {
		return types.BundleStats{}, errcode.ErrAppNotExist
	}
	if !record.HasUser(userID) {
		return types.BundleStats{}, errcode.ErrUserNotExist
	}
	return i.fs.GetBundleStats(ctx, bundleName, userID)
}

// SetApplicationEnabled flips the per-user enabled toggle.
func (i *Installer) SetApplicationEnabled(bundleName string, userID int32, enabled bool) error {
	mtx := i.registry.GetBundleMutex(bundleName)
	mtx.Lock()
	defer mtx.Unlock()

	if !i.registry.SetApplicationEnabled(bundleName, userID, enabled) {
		return errcode.ErrAppNotExist
	}
	return nil
}

func resolveUserID(userID int32) (int32, error) {
	if userID == types.UnspecifiedUserID {
		return types.DefaultUserID, nil
	}
	if userID < 0 {
		return 0, errcode.ErrInstallInvalidUserID
	}
	return userID, nil
}

// resolveInstallUserID maps an unspecified caller onto the user the
// bundle actually installs under: singleton bundles live with the default
// user, everything else with the active foreground user. Only callable
// once the singleton flag is known from the parsed batch.
func resolveInstallUserID(userID int32, singleton bool) int32 {
	if userID != types.UnspecifiedUserID {
		return userID
	}
	if singleton {
		return types.DefaultUserID
	}
	return types.StartUserID
}

// checkUserScope enforces the singleton/user partition: singleton bundles
// install only under the default user, everything else under real users.
func checkUserScope(singleton bool, userID int32) error {
	if singleton != (userID == types.DefaultUserID) {
		return errcode.ErrInstallZeroUserWithNoSingleton
	}
	return nil
}

// mergeCandidates folds the per-archive candidates into one aggregate
// record carrying every module of the batch.
func mergeCandidates(candidates []*types.BundleRecord) *types.BundleRecord {
	agg := candidates[0].DeepCopy()
	for _, c := range candidates[1:] {
		for name, m := range c.Modules {
			mc := *m
			agg.Modules[name] = &mc
		}
	}
	return agg
}

// modulesSubset reports whether every module of incoming is already
// committed in installed; true means the batch adds nothing new.
func modulesSubset(incoming, installed *types.BundleRecord) bool {
	for name := range incoming.Modules {
		if _, ok := installed.Modules[name]; !ok {
			return false
		}
	}
	return true
}

func (i *Installer) codeDir(bundleName string) string {
	return filepath.Join(i.cfg.Storage.AppRoot, bundleName)
}

func (i *Installer) moduleDir(bundleName, moduleName string) string {
	return filepath.Join(i.codeDir(bundleName), moduleName)
}

func (i *Installer) dataDir(userID int32, bundleName string) string {
	return filepath.Join(i.cfg.Storage.DataRoot, strconv.Itoa(int(userID)), "base", bundleName)
}

func (i *Installer) groupDir(groupID string) string {
	return filepath.Join(i.cfg.Storage.GroupRoot, groupID)
}

func (i *Installer) patchDir(bundleName string) string {
	return filepath.Join(i.cfg.Storage.QuickFixDir, bundleName)
}

// ensureDataGroups creates the shared directories referenced by the
// record's modules. Group directories are shared infrastructure, so a
// creation failure after commit is logged, not rolled back.
func (i *Installer) ensureDataGroups(ctx context.Context, record *types.BundleRecord) {
	for group := range record.DataGroupRefs() {
		if err := i.fs.CreateBundleDir(ctx, i.groupDir(group)); err != nil {
			i.log.Warn("data group dir creation failed",
				zap.String("bundle", record.BundleName), zap.String("group", group), zap.Error(err))
		}
	}
}

// pruneDataGroups removes group directories no longer referenced by any
// committed bundle. Called after the owning record is already purged.
func (i *Installer) pruneDataGroups(ctx context.Context, removed *types.BundleRecord) {
	refs := removed.DataGroupRefs()
	if len(refs) == 0 {
		return
	}
	for _, name := range i.registry.GetBundleNames(types.UnspecifiedUserID) {
		other, ok := i.registry.GetBundle(name)
		if !ok {
			continue
		}
		for g := range other.DataGroupRefs() {
			delete(refs, g)
		}
	}
	for g := range refs {
		if err := i.fs.RemoveDir(ctx, i.groupDir(g)); err != nil {
			i.log.Warn("orphan group dir removal failed", zap.String("group", g), zap.Error(err))
		}
	}
}

// runAOT extracts the AOT profiles of the committed modules so the
// runtime can compile them in the background. Post-commit optimization:
// failures are logged only.
func (i *Installer) runAOT(record *types.BundleRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for name, m := range record.Modules {
		err := i.fs.ExtractFiles(ctx, installd.ExtractParam{
			SrcPath:   m.HapPath,
			TargetDir: filepath.Join(i.moduleDir(record.BundleName, name), "ap"),
			FileType:  installd.ExtractAP,
		})
		if err != nil {
			i.log.Debug("aot profile extraction skipped",
				zap.String("bundle", record.BundleName), zap.String("module", name), zap.Error(err))
		}
	}
}

// cleanupSingletonFlip removes the data directories stranded on the other
// side of the user partition after a singleton flag flip.
func (i *Installer) cleanupSingletonFlip(old *types.BundleRecord, nowSingleton bool) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for userID := range old.Users {
		stranded := nowSingleton && userID != types.DefaultUserID ||
			!nowSingleton && userID == types.DefaultUserID
		if !stranded {
			continue
		}
		if err := i.fs.RemoveDir(ctx, i.dataDir(userID, old.BundleName)); err != nil {
			i.log.Warn("singleton flip cleanup failed",
				zap.String("bundle", old.BundleName), zap.Int32("user", userID), zap.Error(err))
		}
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }
