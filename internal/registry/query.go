package registry

import (
	"strings"

	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"
)

// Query-layer projections. Reads take only the coarse registry lock for
// the duration of a snapshot read; they never take a per-bundle mutex, so
// a lookup may observe a bundle mid-transaction only as a whole,
// internally-consistent record.

// GetBundleInfo returns the committed record for bundleName, scoped to
// userID: a bundle not installed for that user is not found.
func (m *Manager) GetBundleInfo(bundleName string, userID int32) (*types.BundleRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.bundles[bundleName]
	if !ok {
		return nil, false
	}
	if userID != types.UnspecifiedUserID && !record.HasUser(userID) {
		return nil, false
	}
	return record.DeepCopy(), true
}

// GetBundleNames returns the names of every committed bundle, optionally
// scoped to one user.
func (m *Manager) GetBundleNames(userID int32) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.bundles))
	for name, record := range m.bundles {
		if userID != types.UnspecifiedUserID && !record.HasUser(userID) {
			continue
		}
		names = append(names, name)
	}
	return names
}

// GetBundlesForUser returns deep copies of every bundle installed for
// userID.
func (m *Manager) GetBundlesForUser(userID int32) []*types.BundleRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []*types.BundleRecord
	for _, record := range m.bundles {
		if record.HasUser(userID) {
			records = append(records, record.DeepCopy())
		}
	}
	return records
}

// QueryAbility resolves one ability by explicit (bundle, module, ability)
// coordinates. Disabled abilities are filtered per user.
func (m *Manager) QueryAbility(bundleName, moduleName, abilityName string, userID int32) (*types.AbilityRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.bundles[bundleName]
	if !ok {
		return nil, false
	}
	user, ok := record.Users[userID]
	if !ok || !user.Enabled {
		return nil, false
	}
	module, ok := record.Modules[moduleName]
	if !ok {
		return nil, false
	}
	ability, ok := module.Abilities[abilityName]
	if !ok {
		return nil, false
	}
	for _, disabled := range user.DisabledAbilities {
		if disabled == abilityName {
			return nil, false
		}
	}
	cp := ability
	return &cp, true
}

// QueryAbilitiesByAction returns every visible ability matching an intent
// action for userID.
func (m *Manager) QueryAbilitiesByAction(action string, userID int32) []types.AbilityRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []types.AbilityRecord
	for _, record := range m.bundles {
		user, ok := record.Users[userID]
		if !ok || !user.Enabled {
			continue
		}
		for _, module := range record.Modules {
			for _, ability := range module.Abilities {
				if !ability.Visible {
					continue
				}
				for _, a := range ability.Actions {
					if a == action {
						matches = append(matches, ability)
						break
					}
				}
			}
		}
	}
	return matches
}

// QueryAbilityByURI resolves an ability by URI prefix match.
func (m *Manager) QueryAbilityByURI(uri string, userID int32) (*types.AbilityRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, record := range m.bundles {
		user, ok := record.Users[userID]
		if !ok || !user.Enabled {
			continue
		}
		for _, module := range record.Modules {
			for _, ability := range module.Abilities {
				for _, u := range ability.URIs {
					if u == uri || strings.HasPrefix(uri, u+"/") {
						cp := ability
						return &cp, true
					}
				}
			}
		}
	}
	return nil, false
}

// QueryExtensionsByType returns every extension of one type for userID.
func (m *Manager) QueryExtensionsByType(extType string, userID int32) []types.ExtensionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []types.ExtensionRecord
	for _, record := range m.bundles {
		if !record.HasUser(userID) {
			continue
		}
		for _, module := range record.Modules {
			for _, ext := range module.Extensions {
				if ext.Type == extType {
					matches = append(matches, ext)
				}
			}
		}
	}
	return matches
}

// Stats summarizes registry contents.
type Stats struct {
	TotalBundles  int `json:"total_bundles"`
	SystemBundles int `json:"system_bundles"`
	TotalModules  int `json:"total_modules"`
	TotalUsers    int `json:"total_users"`
}

// GetStats returns registry statistics.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Stats
	users := make(map[int32]bool)
	for _, record := range m.bundles {
		s.TotalBundles++
		if record.IsSystemApp {
			s.SystemBundles++
		}
		s.TotalModules += len(record.Modules)
		for id := range record.Users {
			users[id] = true
		}
	}
	s.TotalUsers = len(users)
	return s
}
