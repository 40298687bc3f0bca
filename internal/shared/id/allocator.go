// Package id provides process-wide bundle id allocation.
//
// Every installed bundle owns one bundle id drawn from the bounded range
// [types.BaseAppUID, types.MaxAppUID]. The uid of a bundle under an OS user
// is derived deterministically from (userID, bundleID), so the id table is
// global state shared by all install transactions and is guarded by its own
// mutex, separate from any per-bundle lock.
package id

import (
	"sync"

	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/errcode"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"
)

// Store persists bundle id assignments write-ahead of the in-memory table.
type Store interface {
	SaveBundleID(bundleName string, id uint32) error
	DeleteBundleID(bundleName string) error
}

// Allocator hands out bundle ids with a monotonically-probed cursor.
type Allocator struct {
	mu     sync.Mutex
	byName map[string]uint32
	byID   map[uint32]string
	cursor uint32
	limit  uint32
	store  Store
}

// NewAllocator creates an allocator backed by store.
func NewAllocator(store Store) *Allocator {
	return &Allocator{
		byName: make(map[string]uint32),
		byID:   make(map[uint32]string),
		limit:  types.MaxAppUID - types.BaseAppUID,
		store:  store,
	}
}

// Restore seeds the table from persisted assignments at load time.
func (a *Allocator) Restore(assignments map[string]uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for name, id := range assignments {
		a.byName[name] = id
		a.byID[id] = name
		if id >= a.cursor {
			a.cursor = id + 1
		}
	}
}

// Acquire returns the bundle id for bundleName, allocating one if the
// bundle has none yet. Re-acquiring an existing name is idempotent, which
// is what makes same-version reinstall safe against double allocation.
func (a *Allocator) Acquire(bundleName string) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.byName[bundleName]; ok {
		return id, nil
	}

	if uint32(len(a.byID)) > a.limit {
		return 0, errcode.ErrInstallUidExhausted
	}

	// Probe forward from the cursor, wrapping once.
	id := a.cursor % (a.limit + 1)
	for probed := uint32(0); probed <= a.limit; probed++ {
		if _, taken := a.byID[id]; !taken {
			if a.store != nil {
				if err := a.store.SaveBundleID(bundleName, id); err != nil {
					return 0, errcode.ErrStorageWriteFailed
				}
			}
			a.byName[bundleName] = id
			a.byID[id] = bundleName
			a.cursor = id + 1
			return id, nil
		}
		id = (id + 1) % (a.limit + 1)
	}

	return 0, errcode.ErrInstallUidExhausted
}

// Release frees the id held by bundleName, if any.
func (a *Allocator) Release(bundleName string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	id, ok := a.byName[bundleName]
	if !ok {
		return nil
	}
	if a.store != nil {
		if err := a.store.DeleteBundleID(bundleName); err != nil {
			return errcode.ErrStorageDeleteFailed
		}
	}
	delete(a.byName, bundleName)
	delete(a.byID, id)
	return nil
}

// IDFor looks up the id currently held by bundleName.
func (a *Allocator) IDFor(bundleName string) (uint32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id, ok := a.byName[bundleName]
	return id, ok
}
