package types

// InstallState tracks a bundle's position in the install state machine.
type InstallState string

const (
	InstallStart     InstallState = "install_start"
	InstallSuccess   InstallState = "install_success"
	InstallFail      InstallState = "install_fail"
	UpdatingStart    InstallState = "updating_start"
	UpdatingSuccess  InstallState = "updating_success"
	UpdatingFail     InstallState = "updating_fail"
	UninstallStart   InstallState = "uninstall_start"
	UninstallSuccess InstallState = "uninstall_success"
	UninstallFail    InstallState = "uninstall_fail"
	RollBack         InstallState = "roll_back"
	UserChange       InstallState = "user_change"
)

// IsDeleting reports whether reaching this state purges the bundle record.
func (s InstallState) IsDeleting() bool {
	switch s {
	case InstallFail, UninstallFail, UninstallSuccess, UpdatingFail:
		return true
	}
	return false
}

// InstallExceptionStatus is the checkpoint value carried by an InstallMark.
type InstallExceptionStatus string

const (
	InstallExceptionUnknown InstallExceptionStatus = "unknown"
	InstallStartStatus      InstallExceptionStatus = "install_start"
	InstallFinishStatus     InstallExceptionStatus = "install_finish"
	UpdatingExistedStart    InstallExceptionStatus = "updating_existed_start"
	UpdatingNewStart        InstallExceptionStatus = "updating_new_start"
	UpdatingFinishStatus    InstallExceptionStatus = "updating_finish"
	UninstallBundleStart    InstallExceptionStatus = "uninstall_bundle_start"
	UninstallBundleFinish   InstallExceptionStatus = "uninstall_bundle_finish"
)

// IsFinished reports whether the mark reached a *_FINISH checkpoint. Any
// mark that is not finished at registry load time is replayed through
// rollback.
func (s InstallExceptionStatus) IsFinished() bool {
	switch s {
	case InstallFinishStatus, UpdatingFinishStatus, UninstallBundleFinish, InstallExceptionUnknown:
		return true
	}
	return false
}

// BundleStatus is the user-visible enabled/disabled toggle.
type BundleStatus string

const (
	BundleEnabled  BundleStatus = "enabled"
	BundleDisabled BundleStatus = "disabled"
)

// QuickFixStatus tracks the patch overlay state machine, kept alongside
// (never merged into) the primary install state.
type QuickFixStatus string

const (
	QuickFixNotDeployed QuickFixStatus = "not_deployed"
	QuickFixDeployStart QuickFixStatus = "deploy_start"
	QuickFixDeployEnd   QuickFixStatus = "deploy_end"
)

// QuickFixType distinguishes the two patch kinds with different
// compatibility gates.
type QuickFixType string

const (
	QuickFixPatch     QuickFixType = "patch"
	QuickFixHotReload QuickFixType = "hot_reload"
)

// ProvisionType distinguishes debug from release signing provisions.
type ProvisionType string

const (
	ProvisionDebug   ProvisionType = "debug"
	ProvisionRelease ProvisionType = "release"
)
