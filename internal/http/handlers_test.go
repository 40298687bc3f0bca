package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/BundleOS/backend/internal/events"
	"github.com/GriffinCanCode/BundleOS/backend/internal/logging"
	"github.com/GriffinCanCode/BundleOS/backend/internal/monitoring"
	"github.com/GriffinCanCode/BundleOS/backend/internal/registry"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/errcode"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"
)

type memStore struct {
	records map[string]*types.BundleRecord
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*types.BundleRecord)}
}

func (s *memStore) SaveStorageBundleInfo(record *types.BundleRecord) error {
	s.records[record.BundleName] = record.DeepCopy()
	return nil
}

func (s *memStore) DeleteStorageBundleInfo(bundleName string) error {
	delete(s.records, bundleName)
	return nil
}

func (s *memStore) LoadAllData() (map[string]*types.BundleRecord, error) {
	out := make(map[string]*types.BundleRecord, len(s.records))
	for name, rec := range s.records {
		out[name] = rec.DeepCopy()
	}
	return out, nil
}

var sharedMetrics *monitoring.Metrics

// Prometheus collectors register globally, so the test process holds one
// collector set.
func testMetrics() *monitoring.Metrics {
	if sharedMetrics == nil {
		sharedMetrics = monitoring.NewMetrics()
	}
	return sharedMetrics
}

func newTestRouter(t *testing.T) (*gin.Engine, *registry.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logging.NewNop()
	reg := registry.NewManager(newMemStore(), log)
	hub := events.NewHub(log)
	handlers := NewHandlers(nil, reg, nil, hub, testMetrics())

	router := gin.New()
	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/bundles", handlers.ListBundles)
	router.GET("/bundles/:name", handlers.GetBundle)
	router.GET("/abilities", handlers.QueryAbility)
	router.GET("/abilities/action/:action", handlers.QueryAbilitiesByAction)
	router.GET("/abilities/uri", handlers.QueryAbilityByURI)
	router.GET("/extensions/:type", handlers.QueryExtensionsByType)
	router.GET("/stats", handlers.Stats)
	return router, reg
}

func commitBundle(t *testing.T, reg *registry.Manager, name string, userID int32) {
	t.Helper()
	record := &types.BundleRecord{
		BundleName:  name,
		VersionCode: 100,
		VersionName: "1.0.0",
		Modules: map[string]*types.ModuleRecord{
			"entry": {
				Name:    "entry",
				IsEntry: true,
				Abilities: map[string]types.AbilityRecord{
					"MainAbility": {
						Name:       "MainAbility",
						ModuleName: "entry",
						BundleName: name,
						Actions:    []string{"action.system.home"},
						URIs:       []string{"dataproxy://" + name},
						Visible:    true,
					},
				},
				Extensions: map[string]types.ExtensionRecord{
					"BackupExt": {
						Name:       "BackupExt",
						ModuleName: "entry",
						BundleName: name,
						Type:       "backup",
					},
				},
			},
		},
		Users: map[int32]*types.UserRecord{
			userID: {UserID: userID, Enabled: true},
		},
		Status: types.BundleEnabled,
	}
	require.True(t, reg.UpdateInstallState(name, types.InstallStart))
	require.True(t, reg.AddBundleRecord(name, record))
	require.True(t, reg.UpdateInstallState(name, types.InstallSuccess))
}

func doRequest(router *gin.Engine, method, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRootReportsOnline(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doRequest(router, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "online")
}

func TestGetBundleFound(t *testing.T) {
	router, reg := newTestRouter(t)
	commitBundle(t, reg, "com.example.demo", types.StartUserID)

	w := doRequest(router, http.MethodGet, "/bundles/com.example.demo", "")
	require.Equal(t, http.StatusOK, w.Code)

	var record types.BundleRecord
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, "com.example.demo", record.BundleName)
	assert.Equal(t, uint32(100), record.VersionCode)
}

func TestGetBundleScopedToUser(t *testing.T) {
	router, reg := newTestRouter(t)
	commitBundle(t, reg, "com.example.demo", types.StartUserID)

	w := doRequest(router, http.MethodGet, "/bundles/com.example.demo?user_id=101", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(router, http.MethodGet, "/bundles/com.example.demo?user_id=100", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetBundleInvalidName(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doRequest(router, http.MethodGet, "/bundles/short", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListBundles(t *testing.T) {
	router, reg := newTestRouter(t)
	commitBundle(t, reg, "com.example.demo", types.StartUserID)
	commitBundle(t, reg, "com.example.other", types.StartUserID+1)

	w := doRequest(router, http.MethodGet, "/bundles", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "com.example.demo")
	assert.Contains(t, w.Body.String(), "com.example.other")

	w = doRequest(router, http.MethodGet, "/bundles?user_id=100", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "com.example.demo")
	assert.NotContains(t, w.Body.String(), "com.example.other")
}

func TestListBundlesBadUserID(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doRequest(router, http.MethodGet, "/bundles?user_id=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryAbilityByCoordinates(t *testing.T) {
	router, reg := newTestRouter(t)
	commitBundle(t, reg, "com.example.demo", types.StartUserID)

	w := doRequest(router, http.MethodGet,
		"/abilities?bundle=com.example.demo&module=entry&ability=MainAbility&user_id=100", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "MainAbility")

	w = doRequest(router, http.MethodGet,
		"/abilities?bundle=com.example.demo&module=entry&ability=Missing&user_id=100", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueryAbilityMissingParams(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doRequest(router, http.MethodGet, "/abilities?bundle=com.example.demo", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryAbilitiesByAction(t *testing.T) {
	router, reg := newTestRouter(t)
	commitBundle(t, reg, "com.example.demo", types.StartUserID)

	w := doRequest(router, http.MethodGet, "/abilities/action/action.system.home?user_id=100", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "MainAbility")
}

func TestQueryAbilityByURI(t *testing.T) {
	router, reg := newTestRouter(t)
	commitBundle(t, reg, "com.example.demo", types.StartUserID)

	w := doRequest(router, http.MethodGet, "/abilities/uri?uri=dataproxy://com.example.demo&user_id=100", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "MainAbility")
}

func TestQueryExtensionsByType(t *testing.T) {
	router, reg := newTestRouter(t)
	commitBundle(t, reg, "com.example.demo", types.StartUserID)

	w := doRequest(router, http.MethodGet, "/extensions/backup?user_id=100", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "BackupExt")
}

func TestStatsEndpoint(t *testing.T) {
	router, reg := newTestRouter(t)
	commitBundle(t, reg, "com.example.demo", types.StartUserID)

	w := doRequest(router, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "total_bundles")
}

func TestStatusForTaxonomy(t *testing.T) {
	assert.Equal(t, http.StatusOK, statusFor(errcode.OK))
	assert.Equal(t, http.StatusBadRequest, statusFor(errcode.ErrInstallParamError))
	assert.Equal(t, http.StatusNotFound, statusFor(errcode.ErrAppNotExist))
	assert.Equal(t, http.StatusConflict, statusFor(errcode.ErrInstallAlreadyInProgress))
	assert.Equal(t, http.StatusForbidden, statusFor(errcode.ErrUninstallDisallowed))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(errcode.ErrInstalldServiceUnavailable))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errcode.ErrStorageWriteFailed))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(errcode.ErrInstallVersionDowngrade))
}
