package installd

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/errcode"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"
)

// Service is the installd contract consumed by the installer and quick-fix
// subsystems. All calls are idempotent-safe to retry on connection loss.
type Service interface {
	CreateBundleDir(ctx context.Context, path string) error
	CreateBundleDataDir(ctx context.Context, param DataDirParam) (OwnedIDs, error)
	RemoveDir(ctx context.Context, path string) error
	RenameDir(ctx context.Context, from, to string) error
	ExtractFiles(ctx context.Context, param ExtractParam) error
	VerifyCodeSignature(ctx context.Context, path, abi, targetPath, signatureDir string) error
	SetDirApl(ctx context.Context, dir, bundleName, apl string, isPreInstalled, debug bool) error
	MoveFile(ctx context.Context, from, to string) error
	MoveFiles(ctx context.Context, srcDir, dstDir string) error
	CopyFile(ctx context.Context, from, to string) error
	GetBundleStats(ctx context.Context, bundleName string, userID int32) (types.BundleStats, error)
	CleanBundleDataDir(ctx context.Context, path string) error
	KillProcessesByUID(ctx context.Context, uid uint32) error
}

var _ Service = (*Client)(nil)

// CreateBundleDir creates a bundle code directory.
func (c *Client) CreateBundleDir(ctx context.Context, path string) error {
	var r reply
	return c.checked(ctx, "CreateBundleDir", dirRequest{Path: path}, &r, errcode.ErrInstallCreateDirFailed)
}

// CreateBundleDataDir creates the per-user data directory tree and returns
// the uid/gid the worker applied to it.
func (c *Client) CreateBundleDataDir(ctx context.Context, param DataDirParam) (OwnedIDs, error) {
	var r dataDirReply
	if err := c.invoke(ctx, "CreateBundleDataDir", param, &r); err != nil {
		return OwnedIDs{}, err
	}
	if r.Status != 0 {
		return OwnedIDs{}, fmt.Errorf("installd CreateBundleDataDir: %s: %w", r.Message, errcode.ErrInstallCreateDirFailed)
	}
	return r.OwnedIDs, nil
}

// RemoveDir removes a directory tree.
func (c *Client) RemoveDir(ctx context.Context, path string) error {
	var r reply
	return c.checked(ctx, "RemoveDir", dirRequest{Path: path}, &r, errcode.ErrInstallRemoveDirFailed)
}

// RenameDir renames a directory. Positioned last in the install sequence
// because renames are near-atomic compared to extraction.
func (c *Client) RenameDir(ctx context.Context, from, to string) error {
	var r reply
	return c.checked(ctx, "RenameDir", moveRequest{From: from, To: to}, &r, errcode.ErrInstallRenameFailed)
}

// ExtractFiles applies one archive→directory extraction for a file-type
// class (SO, AN, AP).
func (c *Client) ExtractFiles(ctx context.Context, param ExtractParam) error {
	var r reply
	return c.checked(ctx, "ExtractFiles", param, &r, errcode.ErrInstallExtractFailed)
}

// VerifyCodeSignature verifies the code signature of an extracted payload.
func (c *Client) VerifyCodeSignature(ctx context.Context, path, abi, targetPath, signatureDir string) error {
	var r reply
	req := verifyRequest{Path: path, CPUAbi: abi, TargetPath: targetPath, SignatureDir: signatureDir}
	return c.checked(ctx, "VerifyCodeSignature", req, &r, errcode.ErrInstallCodeSignatureFailed)
}

// SetDirApl applies the app privilege level label to a directory.
func (c *Client) SetDirApl(ctx context.Context, dir, bundleName, apl string, isPreInstalled, debug bool) error {
	var r reply
	req := aplRequest{Dir: dir, BundleName: bundleName, APL: apl, IsPreInstalled: isPreInstalled, Debug: debug}
	return c.checked(ctx, "SetDirApl", req, &r, errcode.ErrInstallFileActionFailed)
}

// MoveFile moves one file.
func (c *Client) MoveFile(ctx context.Context, from, to string) error {
	var r reply
	return c.checked(ctx, "MoveFile", moveRequest{From: from, To: to}, &r, errcode.ErrInstallFileActionFailed)
}

// MoveFiles moves the contents of srcDir into dstDir.
func (c *Client) MoveFiles(ctx context.Context, srcDir, dstDir string) error {
	var r reply
	return c.checked(ctx, "MoveFiles", movesRequest{SrcDir: srcDir, DstDir: dstDir}, &r, errcode.ErrInstallFileActionFailed)
}

// CopyFile copies one file.
func (c *Client) CopyFile(ctx context.Context, from, to string) error {
	var r reply
	return c.checked(ctx, "CopyFile", moveRequest{From: from, To: to}, &r, errcode.ErrInstallFileActionFailed)
}

// GetBundleStats returns the size vector of a bundle for one user.
func (c *Client) GetBundleStats(ctx context.Context, bundleName string, userID int32) (types.BundleStats, error) {
	var r statsReply
	if err := c.invoke(ctx, "GetBundleStats", statsRequest{BundleName: bundleName, UserID: userID}, &r); err != nil {
		return types.BundleStats{}, err
	}
	if r.Status != 0 {
		return types.BundleStats{}, fmt.Errorf("installd GetBundleStats: %s: %w", r.Message, errcode.ErrInstallFileActionFailed)
	}
	return r.Stats, nil
}

// CleanBundleDataDir removes the contents of a data directory but keeps
// the directory itself.
func (c *Client) CleanBundleDataDir(ctx context.Context, path string) error {
	var r reply
	return c.checked(ctx, "CleanBundleDataDir", dirRequest{Path: path}, &r, errcode.ErrInstallRemoveDirFailed)
}

// KillProcessesByUID kills every running process owned by uid.
func (c *Client) KillProcessesByUID(ctx context.Context, uid uint32) error {
	var r reply
	return c.checked(ctx, "KillProcessesByUID", killRequest{UID: uid}, &r, errcode.ErrInstallFileActionFailed)
}
