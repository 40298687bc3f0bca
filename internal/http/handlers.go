package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/GriffinCanCode/BundleOS/backend/internal/events"
	"github.com/GriffinCanCode/BundleOS/backend/internal/installer"
	"github.com/GriffinCanCode/BundleOS/backend/internal/monitoring"
	"github.com/GriffinCanCode/BundleOS/backend/internal/quickfix"
	"github.com/GriffinCanCode/BundleOS/backend/internal/registry"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/errcode"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/utils"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	installer *installer.Installer
	registry  *registry.Manager
	quickfix  *quickfix.Deployer
	hub       *events.Hub
	metrics   *monitoring.Metrics
}

// NewHandlers creates a new handler set
func NewHandlers(
	ins *installer.Installer,
	reg *registry.Manager,
	qf *quickfix.Deployer,
	hub *events.Hub,
	metrics *monitoring.Metrics,
) *Handlers {
	return &Handlers{
		installer: ins,
		registry:  reg,
		quickfix:  qf,
		hub:       hub,
		metrics:   metrics,
	}
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "Bundle Manager Service (Go)",
		"version": "0.3.0",
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"registry":    h.registry.GetStats(),
		"subscribers": h.hub.ClientCount(),
	})
}

// Install installs or updates a bundle from one or more package archives
func (h *Handlers) Install(c *gin.Context) {
	var req struct {
		FilePaths       []string          `json:"file_paths" binding:"required"`
		UserID          int32             `json:"user_id"`
		InstallFlag     types.InstallFlag `json:"install_flag"`
		IsPreInstallApp bool              `json:"is_pre_install_app"`
		SpecifiedAbi    string            `json:"specified_abi"`
		SignatureDir    string            `json:"signature_dir"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Validate archive paths
	if err := utils.ValidateArchivePaths(req.FilePaths); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	param := types.InstallParam{
		UserID:          req.UserID,
		InstallFlag:     req.InstallFlag,
		IsPreInstallApp: req.IsPreInstallApp,
		SpecifiedAbi:    req.SpecifiedAbi,
		SignatureDir:    req.SignatureDir,
	}
	if param.InstallFlag == "" {
		param.InstallFlag = types.FlagNormal
	}

	timer := monitoring.NewTimer(h.metrics, "install")
	bundleName, err := h.installer.Install(c.Request.Context(), req.FilePaths, param)
	if err != nil {
		timer.Stop("error")
		writeCodeError(c, err, errcode.ErrInstallParamError, bundleName)
		return
	}
	timer.Stop("success")
	h.metrics.SetBundlesTracked(h.registry.GetStats().TotalBundles)

	c.JSON(http.StatusOK, types.InstallResult{
		BundleName:    bundleName,
		TransactionID: uuid.NewString(),
		Code:          int32(errcode.OK),
		Message:       errcode.OK.String(),
	})
}

// Uninstall removes a bundle for one user, or entirely for its last user
func (h *Handlers) Uninstall(c *gin.Context) {
	bundleName := c.Param("name")
	if err := utils.ValidateBundleName(bundleName); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req struct {
		UserID        int32 `json:"user_id"`
		ForceExecuted bool  `json:"force_executed"`
		KillProcess   bool  `json:"kill_process"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	param := types.UninstallParam{
		UserID:        req.UserID,
		ForceExecuted: req.ForceExecuted,
		KillProcess:   req.KillProcess,
	}

	timer := monitoring.NewTimer(h.metrics, "uninstall")
	if err := h.installer.Uninstall(c.Request.Context(), bundleName, param); err != nil {
		timer.Stop("error")
		writeCodeError(c, err, errcode.ErrUninstallParamError, bundleName)
		return
	}
	timer.Stop("success")
	h.metrics.SetBundlesTracked(h.registry.GetStats().TotalBundles)

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"bundle_name": bundleName,
	})
}

// UninstallModule removes one module of a bundle
func (h *Handlers) UninstallModule(c *gin.Context) {
	bundleName := c.Param("name")
	moduleName := c.Param("module")
	if err := utils.ValidateBundleName(bundleName); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateModuleName(moduleName); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req struct {
		UserID        int32 `json:"user_id"`
		ForceExecuted bool  `json:"force_executed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	param := types.UninstallParam{
		UserID:        req.UserID,
		ForceExecuted: req.ForceExecuted,
	}

	timer := monitoring.NewTimer(h.metrics, "uninstall_module")
	if err := h.installer.UninstallModule(c.Request.Context(), bundleName, moduleName, param); err != nil {
		timer.Stop("error")
		writeCodeError(c, err, errcode.ErrUninstallParamError, bundleName)
		return
	}
	timer.Stop("success")

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"bundle_name": bundleName,
		"module_name": moduleName,
	})
}

// Recover reinstalls a removed pre-installed bundle from its recorded
// archive paths
func (h *Handlers) Recover(c *gin.Context) {
	bundleName := c.Param("name")
	if err := utils.ValidateBundleName(bundleName); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req struct {
		UserID int32 `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timer := monitoring.NewTimer(h.metrics, "recover")
	name, err := h.installer.Recover(c.Request.Context(), bundleName, types.InstallParam{UserID: req.UserID})
	if err != nil {
		timer.Stop("error")
		writeCodeError(c, err, errcode.ErrRecoverParamError, bundleName)
		return
	}
	timer.Stop("success")

	c.JSON(http.StatusOK, types.InstallResult{
		BundleName:    name,
		TransactionID: uuid.NewString(),
		Code:          int32(errcode.OK),
		Message:       errcode.OK.String(),
	})
}

// SetEnabled enables or disables a bundle for one user
func (h *Handlers) SetEnabled(c *gin.Context) {
	bundleName := c.Param("name")
	if err := utils.ValidateBundleName(bundleName); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req struct {
		UserID  int32 `json:"user_id"`
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.installer.SetApplicationEnabled(bundleName, req.UserID, *req.Enabled); err != nil {
		writeCodeError(c, err, errcode.ErrAppNotExist, bundleName)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"bundle_name": bundleName,
		"enabled":     *req.Enabled,
	})
}

// GetBundle returns the committed record of one bundle
func (h *Handlers) GetBundle(c *gin.Context) {
	bundleName := c.Param("name")
	if err := utils.ValidateBundleName(bundleName); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, err := userQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, ok := h.registry.GetBundleInfo(bundleName, userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": errcode.ErrAppNotExist.String()})
		return
	}

	c.JSON(http.StatusOK, record)
}

// ListBundles lists committed bundles, optionally scoped to one user
func (h *Handlers) ListBundles(c *gin.Context) {
	userID, err := userQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	names := h.registry.GetBundleNames(userID)
	stats := h.registry.GetStats()

	c.JSON(http.StatusOK, gin.H{
		"bundles": names,
		"stats":   stats,
	})
}

// GetBundleStats returns the on-disk size vector of one bundle for a user
func (h *Handlers) GetBundleStats(c *gin.Context) {
	bundleName := c.Param("name")
	if err := utils.ValidateBundleName(bundleName); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, err := userQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stats, err := h.installer.GetBundleStats(c.Request.Context(), bundleName, userID)
	if err != nil {
		writeCodeError(c, err, errcode.ErrAppNotExist, bundleName)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// QueryAbility resolves one ability by explicit coordinates
func (h *Handlers) QueryAbility(c *gin.Context) {
	bundleName := c.Query("bundle")
	moduleName := c.Query("module")
	abilityName := c.Query("ability")
	if bundleName == "" || moduleName == "" || abilityName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bundle, module and ability are required"})
		return
	}

	userID, err := userQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ability, ok := h.registry.QueryAbility(bundleName, moduleName, abilityName, userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "ability not found"})
		return
	}

	c.JSON(http.StatusOK, ability)
}

// QueryAbilitiesByAction returns every visible ability matching an action
func (h *Handlers) QueryAbilitiesByAction(c *gin.Context) {
	action := c.Param("action")
	if action == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action is required"})
		return
	}

	userID, err := userQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	abilities := h.registry.QueryAbilitiesByAction(action, userID)

	c.JSON(http.StatusOK, gin.H{
		"action":    action,
		"abilities": abilities,
	})
}

// QueryAbilityByURI resolves an ability by URI prefix match
func (h *Handlers) QueryAbilityByURI(c *gin.Context) {
	uri := c.Query("uri")
	if uri == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uri is required"})
		return
	}

	userID, err := userQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ability, ok := h.registry.QueryAbilityByURI(uri, userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "ability not found"})
		return
	}

	c.JSON(http.StatusOK, ability)
}

// QueryExtensionsByType returns every extension of one type
func (h *Handlers) QueryExtensionsByType(c *gin.Context) {
	extType := c.Param("type")
	if extType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type is required"})
		return
	}

	userID, err := userQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	extensions := h.registry.QueryExtensionsByType(extType, userID)

	c.JSON(http.StatusOK, gin.H{
		"type":       extType,
		"extensions": extensions,
	})
}

// DeployQuickFix applies a patch archive to its target bundle
func (h *Handlers) DeployQuickFix(c *gin.Context) {
	var req struct {
		FilePath string `json:"file_path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := utils.ValidateArchivePath(req.FilePath); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timer := monitoring.NewTimer(h.metrics, "quickfix_deploy")
	if err := h.quickfix.Deploy(c.Request.Context(), req.FilePath); err != nil {
		timer.Stop("error")
		writeCodeError(c, err, errcode.ErrQuickFixDeployFailed, "")
		return
	}
	timer.Stop("success")

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DeleteQuickFix removes the patch overlay of a bundle
func (h *Handlers) DeleteQuickFix(c *gin.Context) {
	bundleName := c.Param("name")
	if err := utils.ValidateBundleName(bundleName); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timer := monitoring.NewTimer(h.metrics, "quickfix_delete")
	if err := h.quickfix.Delete(c.Request.Context(), bundleName); err != nil {
		timer.Stop("error")
		writeCodeError(c, err, errcode.ErrQuickFixDeployFailed, bundleName)
		return
	}
	timer.Stop("success")

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"bundle_name": bundleName,
	})
}

// Stats returns registry statistics plus a metrics snapshot
func (h *Handlers) Stats(c *gin.Context) {
	snapshot := h.metrics.Snapshot()

	c.JSON(http.StatusOK, gin.H{
		"registry": h.registry.GetStats(),
		"requests": gin.H{
			"total":  snapshot.TotalRequests,
			"errors": snapshot.TotalErrors,
		},
		"operations": gin.H{
			"total":  snapshot.TotalOperations,
			"failed": snapshot.FailedOps,
		},
		"subscribers":    h.hub.ClientCount(),
		"uptime_seconds": h.metrics.UptimeSeconds(),
	})
}
