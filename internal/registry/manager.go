package registry

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/BundleOS/backend/internal/logging"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"
)

// Store is the persistent-store contract consumed by the manager. Saves
// and deletes happen synchronously before any in-memory mutation.
type Store interface {
	SaveStorageBundleInfo(record *types.BundleRecord) error
	DeleteStorageBundleInfo(bundleName string) error
	LoadAllData() (map[string]*types.BundleRecord, error)
}

// Manager holds all committed bundle state.
type Manager struct {
	log   *logging.Logger
	store Store

	mu       sync.RWMutex // coarse lock over bundles/states/quickFix maps
	bundles  map[string]*types.BundleRecord
	states   map[string]types.InstallState
	quickFix map[string]types.QuickFixStatus

	mutexMu       sync.Mutex // guards creation in bundleMutexes only
	bundleMutexes map[string]*sync.Mutex
}

// NewManager creates a registry manager backed by store.
func NewManager(store Store, log *logging.Logger) *Manager {
	return &Manager{
		log:           log.Named("registry"),
		store:         store,
		bundles:       make(map[string]*types.BundleRecord),
		states:        make(map[string]types.InstallState),
		quickFix:      make(map[string]types.QuickFixStatus),
		bundleMutexes: make(map[string]*sync.Mutex),
	}
}

// LoadFromStore fills the in-memory map from the persistent store and
// returns the records whose install mark is not finished; those are the
// crash-recovery candidates the installer replays through rollback.
func (m *Manager) LoadFromStore() ([]*types.BundleRecord, error) {
	records, err := m.store.LoadAllData()
	if err != nil {
		return nil, err
	}

	var pending []*types.BundleRecord

	m.mu.Lock()
	for name, record := range records {
		m.bundles[name] = record
		m.states[name] = types.InstallSuccess
		if record.QuickFix != nil {
			m.quickFix[name] = record.QuickFix.Status
		}
		if !record.Mark.Status.IsFinished() {
			pending = append(pending, record.DeepCopy())
		}
	}
	total := len(m.bundles)
	m.mu.Unlock()

	m.log.Info("registry loaded",
		zap.Int("bundles", total),
		zap.Int("recovery_candidates", len(pending)))
	return pending, nil
}

// GetBundleMutex returns the stable per-bundle mutex for bundleName,
// creating it on first use. Callers hold it for the duration of any
// read-modify-write sequence against that bundle; at most one
// install/update/uninstall sequence runs per bundle name at any time.
func (m *Manager) GetBundleMutex(bundleName string) *sync.Mutex {
	m.mutexMu.Lock()
	defer m.mutexMu.Unlock()

	mtx, ok := m.bundleMutexes[bundleName]
	if !ok {
		mtx = &sync.Mutex{}
		m.bundleMutexes[bundleName] = mtx
	}
	return mtx
}

// UpdateInstallState applies a validated state-machine transition. A
// bundle with no tracked state may only enter InstallStart. Reaching a
// deleting state purges the record in the same operation: the persisted
// row is deleted first, then the in-memory record, so queries never see a
// "deleted" state with a live record.
func (m *Manager) UpdateInstallState(bundleName string, newState types.InstallState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, tracked := m.states[bundleName]
	if !tracked {
		if newState != types.InstallStart {
			m.log.Warn("rejected transition for untracked bundle",
				zap.String("bundle", bundleName), zap.String("to", string(newState)))
			return false
		}
		m.states[bundleName] = newState
		return true
	}

	if !allowed(current, newState) {
		m.log.Warn("rejected state transition",
			zap.String("bundle", bundleName),
			zap.String("from", string(current)), zap.String("to", string(newState)))
		return false
	}

	if newState.IsDeleting() {
		if _, exists := m.bundles[bundleName]; exists {
			if err := m.store.DeleteStorageBundleInfo(bundleName); err != nil {
				m.log.Error("failed to delete persisted bundle",
					zap.String("bundle", bundleName), zap.Error(err))
				return false
			}
			delete(m.bundles, bundleName)
		}
		delete(m.states, bundleName)
		delete(m.quickFix, bundleName)
		return true
	}

	m.states[bundleName] = newState
	return true
}

// GetInstallState returns the tracked state of bundleName, if any.
func (m *Manager) GetInstallState(bundleName string) (types.InstallState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[bundleName]
	return state, ok
}

// AddBundleRecord inserts a brand-new bundle. Succeeds only if no record
// exists yet and the tracked state is InstallStart. Persists write-ahead.
func (m *Manager) AddBundleRecord(bundleName string, record *types.BundleRecord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bundles[bundleName]; exists {
		return false
	}
	if m.states[bundleName] != types.InstallStart {
		return false
	}

	if err := m.store.SaveStorageBundleInfo(record); err != nil {
		m.log.Error("failed to persist new bundle", zap.String("bundle", bundleName), zap.Error(err))
		return false
	}
	m.bundles[bundleName] = record.DeepCopy()
	return true
}

// AddModule merges one new module into the stored aggregate. Succeeds
// only while the tracked state is UpdatingSuccess.
func (m *Manager) AddModule(bundleName string, module *types.ModuleRecord, aggregate *types.BundleRecord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.states[bundleName] != types.UpdatingSuccess {
		return false
	}
	if _, exists := m.bundles[bundleName]; !exists {
		return false
	}

	merged := aggregate.DeepCopy()
	if merged.Modules == nil {
		merged.Modules = make(map[string]*types.ModuleRecord)
	}
	mc := *module
	merged.Modules[module.Name] = &mc

	if err := m.store.SaveStorageBundleInfo(merged); err != nil {
		m.log.Error("failed to persist module add", zap.String("bundle", bundleName), zap.Error(err))
		return false
	}
	m.bundles[bundleName] = merged
	return true
}

// RemoveModule drops one module from the stored aggregate. Succeeds only
// while the tracked state is UninstallStart or RollBack.
func (m *Manager) RemoveModule(bundleName, moduleName string, aggregate *types.BundleRecord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.states[bundleName]
	if state != types.UninstallStart && state != types.RollBack {
		return false
	}
	if _, exists := m.bundles[bundleName]; !exists {
		return false
	}

	merged := aggregate.DeepCopy()
	delete(merged.Modules, moduleName)

	if err := m.store.SaveStorageBundleInfo(merged); err != nil {
		m.log.Error("failed to persist module removal", zap.String("bundle", bundleName), zap.Error(err))
		return false
	}
	m.bundles[bundleName] = merged
	return true
}

// UpdateBundleRecord replaces the stored aggregate wholesale. Permitted
// only while the bundle is inside a mutating transaction; committed
// (InstallSuccess) records are never replaced in place without a state
// transition first.
func (m *Manager) UpdateBundleRecord(bundleName string, record *types.BundleRecord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.states[bundleName] {
	case types.InstallStart, types.UpdatingStart, types.UpdatingSuccess, types.UserChange, types.UninstallStart, types.RollBack:
	default:
		return false
	}
	if _, exists := m.bundles[bundleName]; !exists {
		return false
	}

	if err := m.store.SaveStorageBundleInfo(record); err != nil {
		m.log.Error("failed to persist bundle update", zap.String("bundle", bundleName), zap.Error(err))
		return false
	}
	m.bundles[bundleName] = record.DeepCopy()
	return true
}

// SaveInstallMark persists the crash-recovery checkpoint on a committed
// record without a state transition. Used around destructive steps.
func (m *Manager) SaveInstallMark(bundleName string, mark types.InstallMark) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.bundles[bundleName]
	if !exists {
		return false
	}

	updated := record.DeepCopy()
	updated.Mark = mark
	if err := m.store.SaveStorageBundleInfo(updated); err != nil {
		m.log.Error("failed to persist install mark", zap.String("bundle", bundleName), zap.Error(err))
		return false
	}
	m.bundles[bundleName] = updated
	return true
}

// GetBundle returns a deep copy of the committed record for bundleName.
func (m *Manager) GetBundle(bundleName string) (*types.BundleRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.bundles[bundleName]
	if !ok {
		return nil, false
	}
	return record.DeepCopy(), true
}

// IsAppExist reports whether a committed record exists for bundleName.
func (m *Manager) IsAppExist(bundleName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.bundles[bundleName]
	return ok
}

// SetApplicationEnabled toggles the per-user enabled flag. Runs under the
// caller-held per-bundle mutex like every other mutation.
func (m *Manager) SetApplicationEnabled(bundleName string, userID int32, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.bundles[bundleName]
	if !exists {
		return false
	}
	if _, ok := record.Users[userID]; !ok {
		return false
	}

	updated := record.DeepCopy()
	updated.Users[userID].Enabled = enabled
	updated.Users[userID].UpdateTime = time.Now().UnixMilli()

	if err := m.store.SaveStorageBundleInfo(updated); err != nil {
		m.log.Error("failed to persist enabled flag", zap.String("bundle", bundleName), zap.Error(err))
		return false
	}
	m.bundles[bundleName] = updated
	return true
}

// SetQuickFixStatus applies a validated patch-overlay transition.
func (m *Manager) SetQuickFixStatus(bundleName string, status types.QuickFixStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.quickFix[bundleName]
	if !ok {
		current = types.QuickFixNotDeployed
	}
	if !quickFixAllowed(current, status) {
		return false
	}
	m.quickFix[bundleName] = status
	return true
}

// GetQuickFixStatus returns the tracked patch-overlay state.
func (m *Manager) GetQuickFixStatus(bundleName string) types.QuickFixStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.quickFix[bundleName]
	if !ok {
		return types.QuickFixNotDeployed
	}
	return status
}

// CommitQuickFix persists the patch metadata onto the committed record.
func (m *Manager) CommitQuickFix(bundleName string, info *types.QuickFixInfo) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.bundles[bundleName]
	if !exists {
		return false
	}

	updated := record.DeepCopy()
	updated.QuickFix = info

	if err := m.store.SaveStorageBundleInfo(updated); err != nil {
		m.log.Error("failed to persist quick fix", zap.String("bundle", bundleName), zap.Error(err))
		return false
	}
	m.bundles[bundleName] = updated
	if info != nil {
		m.quickFix[bundleName] = info.Status
	} else {
		m.quickFix[bundleName] = types.QuickFixNotDeployed
	}
	return true
}
