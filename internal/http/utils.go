package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/errcode"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"
)

// userQuery parses the optional user_id query parameter. Absent means
// all users.
func userQuery(c *gin.Context) (int32, error) {
	raw := c.Query("user_id")
	if raw == "" {
		return types.UnspecifiedUserID, nil
	}
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(id), nil
}

// writeCodeError maps an orchestrator error onto an HTTP status and a
// JSON body carrying the stable result code.
func writeCodeError(c *gin.Context, err error, fallback errcode.Code, bundleName string) {
	code := errcode.FromError(err, fallback)

	body := gin.H{
		"code":  int32(code),
		"error": err.Error(),
	}
	if bundleName != "" {
		body["bundle_name"] = bundleName
	}
	c.JSON(statusFor(code), body)
}

// statusFor picks the HTTP status for a result code taxonomy.
func statusFor(code errcode.Code) int {
	switch code {
	case errcode.OK:
		return http.StatusOK
	case errcode.ErrAppNotExist,
		errcode.ErrModuleNotExist,
		errcode.ErrUserNotExist,
		errcode.ErrUninstallMissingInstalledBundle,
		errcode.ErrUninstallMissingInstalledModule,
		errcode.ErrQuickFixBundleNotExist:
		return http.StatusNotFound
	case errcode.ErrInstallAlreadyInProgress,
		errcode.ErrInstallStateError,
		errcode.ErrUninstallStateError:
		return http.StatusConflict
	case errcode.ErrUninstallSystemAppError,
		errcode.ErrUninstallDisallowed:
		return http.StatusForbidden
	case errcode.ErrInstalldServiceUnavailable:
		return http.StatusServiceUnavailable
	}
	if code.IsParamError() {
		return http.StatusBadRequest
	}
	if code.IsResourceError() {
		return http.StatusInternalServerError
	}
	// Compatibility and quick-fix precondition failures.
	return http.StatusUnprocessableEntity
}
