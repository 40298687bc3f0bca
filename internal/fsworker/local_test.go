package fsworker

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/BundleOS/backend/internal/config"
	"github.com/GriffinCanCode/BundleOS/backend/internal/grpc/installd"
	"github.com/GriffinCanCode/BundleOS/backend/internal/logging"
)

func newLocal(t *testing.T) (*Local, *config.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Storage.AppRoot = filepath.Join(root, "app")
	cfg.Storage.DataRoot = filepath.Join(root, "data")
	cfg.Storage.QuickFixDir = filepath.Join(root, "patch")
	return NewLocal(cfg, logging.NewNop()), cfg
}

func writeArchive(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pkg.hap")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestCreateAndRemoveBundleDir(t *testing.T) {
	l, cfg := newLocal(t)
	ctx := context.Background()

	dir := filepath.Join(cfg.Storage.AppRoot, "com.example.demo")
	require.NoError(t, l.CreateBundleDir(ctx, dir))
	assert.DirExists(t, dir)

	require.NoError(t, l.RemoveDir(ctx, dir))
	assert.NoDirExists(t, dir)

	// Removing a missing dir is not an error.
	require.NoError(t, l.RemoveDir(ctx, dir))
}

func TestCreateBundleDataDirLayout(t *testing.T) {
	l, cfg := newLocal(t)

	ids, err := l.CreateBundleDataDir(context.Background(), installd.DataDirParam{
		BundleName: "com.example.demo",
		UserID:     100,
		UID:        20010001,
		GID:        20010001,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(20010001), ids.UID)

	base := filepath.Join(cfg.Storage.DataRoot, "100", "base", "com.example.demo")
	assert.DirExists(t, base)
	assert.DirExists(t, filepath.Join(base, "cache"))
	assert.DirExists(t, filepath.Join(base, "files"))
	assert.DirExists(t, filepath.Join(cfg.Storage.DataRoot, "100", "database", "com.example.demo"))
}

func TestRenameDir(t *testing.T) {
	l, cfg := newLocal(t)
	ctx := context.Background()

	tmp := filepath.Join(cfg.Storage.AppRoot, "com.example.demo_tmp")
	final := filepath.Join(cfg.Storage.AppRoot, "com.example.demo")
	require.NoError(t, l.CreateBundleDir(ctx, tmp))

	require.NoError(t, l.RenameDir(ctx, tmp, final))
	assert.DirExists(t, final)
	assert.NoDirExists(t, tmp)

	err := l.RenameDir(ctx, tmp, final)
	assert.Error(t, err)
}

func TestExtractNativeLibraries(t *testing.T) {
	l, _ := newLocal(t)
	archive := writeArchive(t, map[string]string{
		"libs/arm64-v8a/libdemo.so": "elf",
		"libs/armeabi/libdemo.so":   "elf32",
		"module.json":               "{}",
	})

	target := t.TempDir()
	err := l.ExtractFiles(context.Background(), installd.ExtractParam{
		SrcPath:   archive,
		TargetDir: target,
		CPUAbi:    "arm64-v8a",
		FileType:  installd.ExtractSO,
	})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(target, "libdemo.so"))
	entries, err := os.ReadDir(target)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExtractProfiles(t *testing.T) {
	l, _ := newLocal(t)
	archive := writeArchive(t, map[string]string{
		"entry/profile.ap": "profile",
		"module.json":      "{}",
	})

	target := t.TempDir()
	err := l.ExtractFiles(context.Background(), installd.ExtractParam{
		SrcPath:   archive,
		TargetDir: target,
		FileType:  installd.ExtractAP,
	})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(target, "profile.ap"))
}

func TestCopyAndMoveFile(t *testing.T) {
	l, _ := newLocal(t)
	ctx := context.Background()
	dir := t.TempDir()

	src := filepath.Join(dir, "src.hap")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	copied := filepath.Join(dir, "sub", "copy.hap")
	require.NoError(t, l.CopyFile(ctx, src, copied))
	data, err := os.ReadFile(copied)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	moved := filepath.Join(dir, "moved.hap")
	require.NoError(t, l.MoveFile(ctx, copied, moved))
	assert.FileExists(t, moved)
	assert.NoFileExists(t, copied)
}

func TestMoveFiles(t *testing.T) {
	l, _ := newLocal(t)
	ctx := context.Background()

	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "dst")
	require.NoError(t, os.WriteFile(filepath.Join(src, "a"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "b"), []byte("b"), 0o644))

	require.NoError(t, l.MoveFiles(ctx, src, dst))
	assert.FileExists(t, filepath.Join(dst, "a"))
	assert.FileExists(t, filepath.Join(dst, "b"))
}

func TestCleanBundleDataDirKeepsRoot(t *testing.T) {
	l, _ := newLocal(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))

	require.NoError(t, l.CleanBundleDataDir(context.Background(), dir))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.DirExists(t, dir)
}

func TestGetBundleStats(t *testing.T) {
	l, cfg := newLocal(t)
	ctx := context.Background()

	code := filepath.Join(cfg.Storage.AppRoot, "com.example.demo")
	require.NoError(t, os.MkdirAll(code, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(code, "entry.hap"), make([]byte, 100), 0o644))

	_, err := l.CreateBundleDataDir(ctx, installd.DataDirParam{
		BundleName: "com.example.demo", UserID: 100, UID: 1, GID: 1,
	})
	require.NoError(t, err)
	base := filepath.Join(cfg.Storage.DataRoot, "100", "base", "com.example.demo")
	require.NoError(t, os.WriteFile(filepath.Join(base, "files", "doc"), make([]byte, 40), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "cache", "tmp"), make([]byte, 10), 0o644))

	stats, err := l.GetBundleStats(ctx, "com.example.demo", 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), stats.AppSize)
	assert.Equal(t, uint64(40), stats.UserDataSize)
	assert.Equal(t, uint64(10), stats.CacheSize)
}

func TestVerifyCodeSignature(t *testing.T) {
	l, _ := newLocal(t)
	ctx := context.Background()

	// No signature dir means nothing to enforce.
	require.NoError(t, l.VerifyCodeSignature(ctx, "/a/entry.hap", "arm64-v8a", "/b", ""))

	sigDir := t.TempDir()
	err := l.VerifyCodeSignature(ctx, "/a/entry.hap", "arm64-v8a", "/b", sigDir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(sigDir, "entry.hap.sig"), []byte("sig"), 0o644))
	assert.NoError(t, l.VerifyCodeSignature(ctx, "/a/entry.hap", "arm64-v8a", "/b", sigDir))
}

func TestSelectEntryClasses(t *testing.T) {
	rel, ok := selectEntry("libs/arm64-v8a/libx.so", installd.ExtractParam{FileType: installd.ExtractSO, CPUAbi: "arm64-v8a"})
	assert.True(t, ok)
	assert.Equal(t, "libx.so", rel)

	_, ok = selectEntry("libs/armeabi/libx.so", installd.ExtractParam{FileType: installd.ExtractSO, CPUAbi: "arm64-v8a"})
	assert.False(t, ok)

	rel, ok = selectEntry("an/arm64-v8a/entry.an", installd.ExtractParam{FileType: installd.ExtractAN, CPUAbi: "arm64-v8a"})
	assert.True(t, ok)
	assert.Equal(t, "entry.an", rel)

	rel, ok = selectEntry("anything/at/all", installd.ExtractParam{FileType: installd.ExtractAll})
	assert.True(t, ok)
	assert.Equal(t, "anything/at/all", rel)
}

func TestOwnerUID(t *testing.T) {
	status := "Name:\tdemo\nUid:\t20010001\t20010001\t20010001\t20010001\nGid:\t1000\n"
	assert.Equal(t, uint32(20010001), ownerUID(status))
	assert.Equal(t, uint32(0), ownerUID("Name:\tdemo\n"))
}
