package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "bundles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(name string) *types.BundleRecord {
	return &types.BundleRecord{
		BundleName:  name,
		VersionCode: 1,
		VersionName: "1.0.0",
		Modules: map[string]*types.ModuleRecord{
			"entry": {Name: "entry", IsEntry: true},
		},
		Users: map[int32]*types.UserRecord{
			100: {UserID: 100, UID: 20100, Enabled: true},
		},
		Status: types.BundleEnabled,
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveStorageBundleInfo(testRecord("com.example.app")))

	records, err := s.LoadAllData()
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records["com.example.app"]
	require.NotNil(t, got)
	assert.Equal(t, uint32(1), got.VersionCode)
	assert.True(t, got.Modules["entry"].IsEntry)
	assert.Equal(t, uint32(20100), got.Users[100].UID)
}

func TestSaveOverwritesExisting(t *testing.T) {
	s := openTestStore(t)

	rec := testRecord("com.example.app")
	require.NoError(t, s.SaveStorageBundleInfo(rec))

	rec.VersionCode = 2
	require.NoError(t, s.SaveStorageBundleInfo(rec))

	records, err := s.LoadAllData()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint32(2), records["com.example.app"].VersionCode)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveStorageBundleInfo(testRecord("com.example.app")))
	require.NoError(t, s.DeleteStorageBundleInfo("com.example.app"))

	records, err := s.LoadAllData()
	require.NoError(t, err)
	assert.Empty(t, records)

	// Deleting a missing record is not an error.
	assert.NoError(t, s.DeleteStorageBundleInfo("com.example.missing"))
}

func TestPreInstallRecords(t *testing.T) {
	s := openTestStore(t)

	rec := &types.PreInstallRecord{
		BundleName:  "com.system.settings",
		BundlePaths: []string{"/system/app/settings.hap"},
		IsSystemApp: true,
		Removable:   false,
		VersionCode: 7,
	}
	require.NoError(t, s.SavePreInstallRecord(rec))

	got, err := s.GetPreInstallRecord("com.system.settings")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.BundlePaths, got.BundlePaths)
	assert.True(t, got.IsSystemApp)

	missing, err := s.GetPreInstallRecord("com.system.other")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.DeletePreInstallRecord("com.system.settings"))
	got, err = s.GetPreInstallRecord("com.system.settings")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBundleIDTable(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveBundleID("com.example.a", 1))
	require.NoError(t, s.SaveBundleID("com.example.b", 2))

	ids, err := s.LoadBundleIDs()
	require.NoError(t, err)
	assert.Equal(t, map[string]uint32{"com.example.a": 1, "com.example.b": 2}, ids)

	require.NoError(t, s.DeleteBundleID("com.example.a"))
	ids, err = s.LoadBundleIDs()
	require.NoError(t, err)
	assert.Equal(t, map[string]uint32{"com.example.b": 2}, ids)
}
