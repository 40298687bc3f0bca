package errcode

import (
	"errors"
	"fmt"
)

// Code is the result code returned by every orchestrator entry point.
// It implements error so internal helpers can propagate a specific code
// up the call stack without wrapping it in a generic failure.
type Code int32

const (
	OK Code = 0

	// Parameter errors: rejected before any mutation.
	ErrInstallParamError Code = 8001 + iota
	ErrInstallInvalidHapPath
	ErrInstallInvalidUserID
	ErrUninstallParamError
	ErrRecoverParamError

	// State errors: rejected by the registry transition table.
	ErrInstallStateError
	ErrUninstallStateError
	ErrInstallAlreadyInProgress
	ErrAppNotExist
	ErrModuleNotExist
	ErrUserNotExist
	ErrUninstallMissingInstalledBundle

	// Compatibility errors: rejected before any filesystem mutation.
	ErrInstallVersionDowngrade
	ErrInstallVersionNotCompatible
	ErrInstallBundleNameNotSame
	ErrInstallVersionCodeNotSame
	ErrInstallVersionNameNotSame
	ErrInstallVendorNotSame
	ErrInstallReleaseTypeNotSame
	ErrInstallDistributionTypeNotSame
	ErrInstallProvisionTypeNotSame
	ErrInstallDebugNotSame
	ErrInstallAsanNotSame
	ErrInstallEntryAlreadyExist
	ErrInstallModuleNameDuplicate
	ErrInstallSoIncompatible
	ErrInstallAnIncompatible
	ErrInstallProxyDataURIDuplicate
	ErrInstallSdkIncompatible
	ErrInstallCapabilityNotSupported
	ErrInstallSignatureMismatch
	ErrInstallParseFailed
	ErrInstallZeroUserWithNoSingleton
	ErrInstallSingletonIncompatible
	ErrUninstallSystemAppError
	ErrUninstallDisallowed
	ErrUninstallMissingInstalledModule
	ErrUninstallOnlyModule

	// Resource errors: occur mid-transaction, always trigger rollback.
	ErrInstallFileActionFailed
	ErrInstallCreateDirFailed
	ErrInstallRemoveDirFailed
	ErrInstallExtractFailed
	ErrInstallRenameFailed
	ErrInstallCodeSignatureFailed
	ErrInstallUidExhausted
	ErrInstallAccessTokenFailed
	ErrInstallGrantPermissionFailed
	ErrInstallGenerateUidError

	// External-dependency errors: fail closed, no partial commit.
	ErrInstalldServiceUnavailable
	ErrStorageWriteFailed
	ErrStorageDeleteFailed

	// Quick-fix taxonomy.
	ErrQuickFixBundleNameNotMatch
	ErrQuickFixVersionCodeNotMatch
	ErrQuickFixVersionNameNotMatch
	ErrQuickFixPatchVersionError
	ErrQuickFixPatchAlreadyExisted
	ErrQuickFixHotReloadAlreadyExisted
	ErrQuickFixNotDebugBundle
	ErrQuickFixNotReleaseBundle
	ErrQuickFixBundleNotExist
	ErrQuickFixDeployFailed
	ErrQuickFixInvalidPatchType
)

var codeNames = map[Code]string{
	OK:                                 "ok",
	ErrInstallParamError:               "install param error",
	ErrInstallInvalidHapPath:           "invalid package path",
	ErrInstallInvalidUserID:            "invalid user id",
	ErrUninstallParamError:             "uninstall param error",
	ErrRecoverParamError:               "recover param error",
	ErrInstallStateError:               "install state transition not allowed",
	ErrUninstallStateError:             "uninstall state transition not allowed",
	ErrInstallAlreadyInProgress:        "bundle operation already in progress",
	ErrAppNotExist:                     "bundle does not exist",
	ErrModuleNotExist:                  "module does not exist",
	ErrUserNotExist:                    "user does not exist",
	ErrUninstallMissingInstalledBundle: "bundle not installed for user",
	ErrInstallVersionDowngrade:         "version downgrade",
	ErrInstallVersionNotCompatible:     "version not compatible",
	ErrInstallBundleNameNotSame:        "bundle name differs across packages",
	ErrInstallVersionCodeNotSame:       "version code differs across packages",
	ErrInstallVersionNameNotSame:       "version name differs across packages",
	ErrInstallVendorNotSame:            "vendor differs from installed bundle",
	ErrInstallReleaseTypeNotSame:       "release type differs from installed bundle",
	ErrInstallDistributionTypeNotSame:  "distribution type differs from installed bundle",
	ErrInstallProvisionTypeNotSame:     "provision type differs from installed bundle",
	ErrInstallDebugNotSame:             "debug flag differs from installed bundle",
	ErrInstallAsanNotSame:              "asan flag differs from installed bundle",
	ErrInstallEntryAlreadyExist:        "entry module already exists",
	ErrInstallModuleNameDuplicate:      "duplicate module name",
	ErrInstallSoIncompatible:           "native library abi incompatible",
	ErrInstallAnIncompatible:           "ark native abi incompatible",
	ErrInstallProxyDataURIDuplicate:    "proxy data uri duplicated",
	ErrInstallSdkIncompatible:          "compile sdk newer than device sdk",
	ErrInstallCapabilityNotSupported:   "required system capability missing",
	ErrInstallSignatureMismatch:        "signature not compatible with installed bundle",
	ErrInstallParseFailed:              "package parse failed",
	ErrInstallZeroUserWithNoSingleton:  "singleton and user scope mismatch",
	ErrInstallSingletonIncompatible:    "singleton flag incompatible",
	ErrUninstallSystemAppError:         "system app is not removable",
	ErrUninstallDisallowed:             "uninstall disposed by app control",
	ErrUninstallMissingInstalledModule: "module not installed",
	ErrUninstallOnlyModule:             "cannot remove the only module",
	ErrInstallFileActionFailed:         "file action failed",
	ErrInstallCreateDirFailed:          "create dir failed",
	ErrInstallRemoveDirFailed:          "remove dir failed",
	ErrInstallExtractFailed:            "extract failed",
	ErrInstallRenameFailed:             "rename failed",
	ErrInstallCodeSignatureFailed:      "code signature verification failed",
	ErrInstallUidExhausted:             "bundle id space exhausted",
	ErrInstallAccessTokenFailed:        "access token creation failed",
	ErrInstallGrantPermissionFailed:    "permission grant failed",
	ErrInstallGenerateUidError:         "uid generation failed",
	ErrInstalldServiceUnavailable:      "installd service unavailable",
	ErrStorageWriteFailed:              "persistent store write failed",
	ErrStorageDeleteFailed:             "persistent store delete failed",
	ErrQuickFixBundleNameNotMatch:      "patch bundle name mismatch",
	ErrQuickFixVersionCodeNotMatch:     "patch version code mismatch",
	ErrQuickFixVersionNameNotMatch:     "patch version name mismatch",
	ErrQuickFixPatchVersionError:       "patch version not newer",
	ErrQuickFixPatchAlreadyExisted:     "patch already exists",
	ErrQuickFixHotReloadAlreadyExisted: "hot reload patch already exists",
	ErrQuickFixNotDebugBundle:          "hot reload requires debug bundle",
	ErrQuickFixNotReleaseBundle:        "patch requires release bundle",
	ErrQuickFixBundleNotExist:          "patch target bundle not installed",
	ErrQuickFixDeployFailed:            "patch deploy failed",
	ErrQuickFixInvalidPatchType:        "invalid patch type",
}

// Error implements the error interface.
func (c Code) Error() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("bundle error %d", int32(c))
}

// String returns the human-readable name of the code.
func (c Code) String() string { return c.Error() }

// IsParamError reports whether the code belongs to the parameter taxonomy.
func (c Code) IsParamError() bool {
	return c >= ErrInstallParamError && c <= ErrRecoverParamError
}

// IsResourceError reports whether the code belongs to the resource taxonomy,
// i.e. it occurred mid-transaction and forced a rollback.
func (c Code) IsResourceError() bool {
	return c >= ErrInstallFileActionFailed && c <= ErrStorageDeleteFailed
}

// FromError extracts a Code from err, mapping unknown errors to fallback.
func FromError(err error, fallback Code) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return fallback
}
