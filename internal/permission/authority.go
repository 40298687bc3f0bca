// Package permission is the boundary to the access-token authority. The
// installer mints one token per (bundle, user) pair and reverses it on
// rollback and uninstall.
package permission

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/errcode"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"
)

// Authority issues and revokes access tokens and permission grants.
type Authority interface {
	CreateAccessTokenIDEx(record *types.BundleRecord, bundleName string, userID int32) (uint64, error)
	GrantRequestPermissions(record *types.BundleRecord, tokenID uint64) error
	DeleteAccessTokenID(tokenID uint64) error
	UpdateDefineAndRequestPermissions(tokenID uint64, oldRecord, newRecord *types.BundleRecord) error
}

// TokenAuthority is the in-process authority implementation: monotonic
// token ids with a grant table keyed by token.
type TokenAuthority struct {
	next   uint64
	mu     sync.Mutex
	grants map[uint64][]string
}

// NewAuthority creates a token authority.
func NewAuthority() *TokenAuthority {
	return &TokenAuthority{grants: make(map[uint64][]string)}
}

// CreateAccessTokenIDEx mints a token for (bundle, user).
func (a *TokenAuthority) CreateAccessTokenIDEx(record *types.BundleRecord, bundleName string, userID int32) (uint64, error) {
	if record == nil || bundleName == "" {
		return 0, errcode.ErrInstallAccessTokenFailed
	}
	token := atomic.AddUint64(&a.next, 1)

	a.mu.Lock()
	a.grants[token] = nil
	a.mu.Unlock()
	return token, nil
}

// GrantRequestPermissions grants every permission the bundle's modules
// request. Granting twice for the same token is a no-op, which keeps
// same-version reinstall idempotent.
func (a *TokenAuthority) GrantRequestPermissions(record *types.BundleRecord, tokenID uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.grants[tokenID]; !ok {
		return fmt.Errorf("unknown token %d: %w", tokenID, errcode.ErrInstallGrantPermissionFailed)
	}

	granted := make(map[string]bool)
	for _, p := range a.grants[tokenID] {
		granted[p] = true
	}
	for _, module := range record.Modules {
		for _, p := range module.RequestPermissions {
			if !granted[p] {
				a.grants[tokenID] = append(a.grants[tokenID], p)
				granted[p] = true
			}
		}
	}
	return nil
}

// DeleteAccessTokenID revokes a token and every grant attached to it.
func (a *TokenAuthority) DeleteAccessTokenID(tokenID uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.grants, tokenID)
	return nil
}

// UpdateDefineAndRequestPermissions reconciles grants after an update:
// permissions no longer requested are revoked, new ones granted.
func (a *TokenAuthority) UpdateDefineAndRequestPermissions(tokenID uint64, oldRecord, newRecord *types.BundleRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.grants[tokenID]; !ok {
		return fmt.Errorf("unknown token %d: %w", tokenID, errcode.ErrInstallGrantPermissionFailed)
	}

	requested := make(map[string]bool)
	for _, module := range newRecord.Modules {
		for _, p := range module.RequestPermissions {
			requested[p] = true
		}
	}

	var next []string
	for p := range requested {
		next = append(next, p)
	}
	a.grants[tokenID] = next
	return nil
}

// Grants returns the permissions currently granted to a token. Test and
// query helper; not part of the Authority contract.
func (a *TokenAuthority) Grants(tokenID uint64) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]string(nil), a.grants[tokenID]...)
}
