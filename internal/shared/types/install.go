package types

// InstallFlag selects the install-or-update disposition of a request.
type InstallFlag string

const (
	FlagNormal          InstallFlag = "normal"
	FlagReplaceExisting InstallFlag = "replace_existing"
	FlagFreeInstall     InstallFlag = "free_install"
)

// InstallParam carries the caller-supplied options for one install call.
type InstallParam struct {
	UserID          int32             `json:"user_id"`
	InstallFlag     InstallFlag       `json:"install_flag"`
	IsPreInstallApp bool              `json:"is_pre_install_app"`
	NoSkipsKill     bool              `json:"no_skips_kill"`
	Forced          bool              `json:"forced"`
	SpecifiedAbi    string            `json:"specified_abi,omitempty"`
	HashParams      map[string]string `json:"hash_params,omitempty"`
	SignatureDir    string            `json:"signature_dir,omitempty"`
}

// UninstallParam carries the caller-supplied options for one uninstall call.
type UninstallParam struct {
	UserID         int32 `json:"user_id"`
	ForceExecuted  bool  `json:"force_executed"`
	KillProcess    bool  `json:"kill_process"`
	IsUninstallAndRecover bool `json:"is_uninstall_and_recover"`
}

// BundleStats is the size vector reported by installd for one bundle/user.
type BundleStats struct {
	AppSize       uint64 `json:"app_size"`
	UserDataSize  uint64 `json:"user_data_size"`
	DistributedSize uint64 `json:"distributed_size"`
	DatabaseSize  uint64 `json:"database_size"`
	CacheSize     uint64 `json:"cache_size"`
}

// PreInstallRecord stores the original archive paths of a system bundle so
// it can be reinstalled from scratch after a data wipe without re-scanning
// the filesystem.
type PreInstallRecord struct {
	BundleName   string   `json:"bundle_name"`
	BundlePaths  []string `json:"bundle_paths"`
	AppType      string   `json:"app_type"`
	Removable    bool     `json:"removable"`
	IsSystemApp  bool     `json:"is_system_app"`
	VersionCode  uint32   `json:"version_code"`
}

// InstallResult is what the admin surface returns for one request.
type InstallResult struct {
	BundleName    string `json:"bundle_name"`
	TransactionID string `json:"transaction_id"`
	Code          int32  `json:"code"`
	Message       string `json:"message"`
}
