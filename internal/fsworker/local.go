// Package fsworker is the in-process filesystem worker. It implements
// the installd contract directly against the local filesystem for
// deployments that run without a separate privileged worker daemon.
package fsworker

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/BundleOS/backend/internal/config"
	"github.com/GriffinCanCode/BundleOS/backend/internal/grpc/installd"
	"github.com/GriffinCanCode/BundleOS/backend/internal/logging"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/errcode"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"
)

const (
	dirMode  os.FileMode = 0o755
	fileMode os.FileMode = 0o644
)

// dataSubdirs is the tree created under every per-user bundle data dir.
var dataSubdirs = []string{"cache", "files", "temp", "preferences", "haps"}

// Local performs installd operations in-process.
type Local struct {
	cfg *config.Config
	log *logging.Logger
}

// NewLocal creates a local filesystem worker.
func NewLocal(cfg *config.Config, log *logging.Logger) *Local {
	return &Local{cfg: cfg, log: log.Named("fsworker")}
}

var _ installd.Service = (*Local)(nil)

// CreateBundleDir creates a bundle code directory.
func (l *Local) CreateBundleDir(ctx context.Context, path string) error {
	if err := os.MkdirAll(path, dirMode); err != nil {
		return fmt.Errorf("create %s: %v: %w", path, err, errcode.ErrInstallCreateDirFailed)
	}
	return nil
}

// CreateBundleDataDir creates the per-user data directory tree and applies
// ownership. Ownership failures are ignored when the process lacks the
// privilege, so development runs work unprivileged.
func (l *Local) CreateBundleDataDir(ctx context.Context, param installd.DataDirParam) (installd.OwnedIDs, error) {
	base := l.baseDataDir(param.UserID, param.BundleName)
	dirs := make([]string, 0, len(dataSubdirs)+2)
	dirs = append(dirs, base)
	for _, sub := range dataSubdirs {
		dirs = append(dirs, filepath.Join(base, sub))
	}
	dirs = append(dirs, l.databaseDir(param.UserID, param.BundleName))

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return installd.OwnedIDs{}, fmt.Errorf("create %s: %v: %w", dir, err, errcode.ErrInstallCreateDirFailed)
		}
		if err := os.Chown(dir, int(param.UID), int(param.GID)); err != nil {
			l.log.Debug("chown skipped", zap.String("dir", dir), zap.Error(err))
		}
	}
	return installd.OwnedIDs{UID: param.UID, GID: param.GID}, nil
}

// RemoveDir removes a directory tree. Removing a missing directory is not
// an error.
func (l *Local) RemoveDir(ctx context.Context, path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove %s: %v: %w", path, err, errcode.ErrInstallRemoveDirFailed)
	}
	return nil
}

// RenameDir renames a directory.
func (l *Local) RenameDir(ctx context.Context, from, to string) error {
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("rename %s -> %s: %v: %w", from, to, err, errcode.ErrInstallRenameFailed)
	}
	return nil
}

// ExtractFiles applies one archive extraction for a file-type class.
// Native libraries live under libs/<abi>/ in the archive, ark native
// artifacts under an/<abi>/, AOT profiles are .ap entries at any depth.
func (l *Local) ExtractFiles(ctx context.Context, param installd.ExtractParam) error {
	zr, err := zip.OpenReader(param.SrcPath)
	if err != nil {
		return fmt.Errorf("open %s: %v: %w", param.SrcPath, err, errcode.ErrInstallExtractFailed)
	}
	defer zr.Close()

	extracted := 0
	for _, f := range zr.File {
		rel, ok := selectEntry(f.Name, param)
		if !ok || f.FileInfo().IsDir() {
			continue
		}
		if err := writeEntry(f, filepath.Join(param.TargetDir, rel)); err != nil {
			return fmt.Errorf("extract %s: %v: %w", f.Name, err, errcode.ErrInstallExtractFailed)
		}
		extracted++
	}

	l.log.Debug("extracted payload",
		zap.String("src", param.SrcPath),
		zap.String("type", string(param.FileType)),
		zap.Int("files", extracted))
	return nil
}

// selectEntry decides whether an archive entry belongs to the requested
// class and returns its path relative to the target dir.
func selectEntry(name string, param installd.ExtractParam) (string, bool) {
	switch param.FileType {
	case installd.ExtractSO:
		prefix := "libs/" + param.CPUAbi + "/"
		if strings.HasPrefix(name, prefix) {
			return name[len(prefix):], true
		}
	case installd.ExtractAN:
		prefix := "an/" + param.CPUAbi + "/"
		if strings.HasPrefix(name, prefix) {
			return name[len(prefix):], true
		}
	case installd.ExtractAP:
		if strings.HasSuffix(name, ".ap") {
			return filepath.Base(name), true
		}
	case installd.ExtractAll:
		return name, true
	}
	return "", false
}

func writeEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), dirMode); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// VerifyCodeSignature checks that the enforced signature file for a
// payload exists and is non-empty. Full cryptographic enforcement lives
// in the privileged worker; the local worker only gates presence.
func (l *Local) VerifyCodeSignature(ctx context.Context, path, abi, targetPath, signatureDir string) error {
	if signatureDir == "" {
		return nil
	}
	sig := filepath.Join(signatureDir, filepath.Base(path)+".sig")
	info, err := os.Stat(sig)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("signature %s: %w", sig, errcode.ErrInstallCodeSignatureFailed)
	}
	return nil
}

// SetDirApl applies the privilege level to a directory. Locally this is
// a permission tightening only.
func (l *Local) SetDirApl(ctx context.Context, dir, bundleName, apl string, isPreInstalled, debug bool) error {
	if err := os.Chmod(dir, 0o711); err != nil {
		return fmt.Errorf("apl %s: %v: %w", dir, err, errcode.ErrInstallFileActionFailed)
	}
	l.log.Debug("apl applied", zap.String("dir", dir), zap.String("apl", apl))
	return nil
}

// MoveFile moves one file, falling back to copy+remove across devices.
func (l *Local) MoveFile(ctx context.Context, from, to string) error {
	if err := os.MkdirAll(filepath.Dir(to), dirMode); err != nil {
		return fmt.Errorf("move %s: %v: %w", to, err, errcode.ErrInstallFileActionFailed)
	}
	if err := os.Rename(from, to); err == nil {
		return nil
	}
	if err := l.CopyFile(ctx, from, to); err != nil {
		return err
	}
	if err := os.Remove(from); err != nil {
		return fmt.Errorf("move cleanup %s: %v: %w", from, err, errcode.ErrInstallFileActionFailed)
	}
	return nil
}

// MoveFiles moves the direct children of srcDir into dstDir.
func (l *Local) MoveFiles(ctx context.Context, srcDir, dstDir string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("move dir %s: %v: %w", srcDir, err, errcode.ErrInstallFileActionFailed)
	}
	if err := os.MkdirAll(dstDir, dirMode); err != nil {
		return fmt.Errorf("move dir %s: %v: %w", dstDir, err, errcode.ErrInstallFileActionFailed)
	}
	for _, e := range entries {
		from := filepath.Join(srcDir, e.Name())
		to := filepath.Join(dstDir, e.Name())
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("move %s: %v: %w", from, err, errcode.ErrInstallFileActionFailed)
		}
	}
	return nil
}

// CopyFile copies one file.
func (l *Local) CopyFile(ctx context.Context, from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return fmt.Errorf("copy %s: %v: %w", from, err, errcode.ErrInstallFileActionFailed)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(to), dirMode); err != nil {
		return fmt.Errorf("copy %s: %v: %w", to, err, errcode.ErrInstallFileActionFailed)
	}
	dst, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode)
	if err != nil {
		return fmt.Errorf("copy %s: %v: %w", to, err, errcode.ErrInstallFileActionFailed)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copy %s: %v: %w", to, err, errcode.ErrInstallFileActionFailed)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("copy %s: %v: %w", to, err, errcode.ErrInstallFileActionFailed)
	}
	return nil
}

// GetBundleStats measures the on-disk size vector of one bundle for a
// user.
func (l *Local) GetBundleStats(ctx context.Context, bundleName string, userID int32) (types.BundleStats, error) {
	base := l.baseDataDir(userID, bundleName)
	cache := dirSize(filepath.Join(base, "cache"))
	stats := types.BundleStats{
		AppSize:      dirSize(filepath.Join(l.cfg.Storage.AppRoot, bundleName)),
		UserDataSize: dirSize(base) - cache,
		DatabaseSize: dirSize(l.databaseDir(userID, bundleName)),
		CacheSize:    cache,
	}
	return stats, nil
}

// CleanBundleDataDir removes the contents of a data directory but keeps
// the directory itself.
func (l *Local) CleanBundleDataDir(ctx context.Context, path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("clean %s: %v: %w", path, err, errcode.ErrInstallRemoveDirFailed)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(path, e.Name())); err != nil {
			return fmt.Errorf("clean %s: %v: %w", path, err, errcode.ErrInstallRemoveDirFailed)
		}
	}
	return nil
}

// KillProcessesByUID terminates every process owned by uid by scanning
// the process table. Best effort: a process that exits mid-scan is not
// an error.
func (l *Local) KillProcessesByUID(ctx context.Context, uid uint32) error {
	pids, err := processesOwnedBy(uid)
	if err != nil {
		return fmt.Errorf("scan processes: %v: %w", err, errcode.ErrInstallFileActionFailed)
	}
	for _, pid := range pids {
		proc, err := os.FindProcess(pid)
		if err != nil {
			continue
		}
		if err := proc.Kill(); err != nil {
			l.log.Debug("kill skipped", zap.Int("pid", pid), zap.Error(err))
		}
	}
	l.log.Info("killed bundle processes", zap.Uint32("uid", uid), zap.Int("count", len(pids)))
	return nil
}

// baseDataDir matches the layout the orchestrator addresses: the base
// data dir of a bundle under one OS user.
func (l *Local) baseDataDir(userID int32, bundleName string) string {
	return filepath.Join(l.cfg.Storage.DataRoot, strconv.Itoa(int(userID)), "base", bundleName)
}

func (l *Local) databaseDir(userID int32, bundleName string) string {
	return filepath.Join(l.cfg.Storage.DataRoot, strconv.Itoa(int(userID)), "database", bundleName)
}

// processesOwnedBy lists pids whose real uid matches uid, via /proc.
func processesOwnedBy(uid uint32) ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join("/proc", e.Name(), "status"))
		if err != nil {
			continue
		}
		if ownerUID(string(data)) == uid {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

func ownerUID(status string) uint32 {
	for _, line := range strings.Split(status, "\n") {
		if !strings.HasPrefix(line, "Uid:") {
			continue
		}
		fields := strings.Fields(line[4:])
		if len(fields) == 0 {
			return 0
		}
		v, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return 0
		}
		return uint32(v)
	}
	return 0
}

func dirSize(root string) uint64 {
	var total uint64
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}
