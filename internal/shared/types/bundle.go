package types

import "fmt"

// OS user partitioning. Singleton bundles live only under the default
// (system) user; everything else lives under real users.
const (
	DefaultUserID     int32 = 0
	StartUserID       int32 = 100
	UnspecifiedUserID int32 = -1
)

// Bundle id / uid allocation bounds. A uid is derived deterministically
// from (userID, bundleID); the bundleID space is process-wide.
const (
	BaseAppUID     uint32 = 10000
	MaxAppUID      uint32 = 65535
	UserUIDRange   uint32 = 200000
	BaseAppDataGID uint32 = 10000
)

// UIDFor derives the uid for a bundle id under a given OS user.
func UIDFor(userID int32, bundleID uint32) uint32 {
	return uint32(userID)*UserUIDRange + BaseAppUID + bundleID
}

// NativeLibrary describes the native payload attached to a module or
// inherited at the bundle level.
type NativeLibrary struct {
	CPUAbi     string `json:"cpu_abi"`
	Path       string `json:"path"`
	Compressed bool   `json:"compressed"` // compressed-in-archive vs isolated dir layout
}

// Empty reports whether no native payload is declared.
func (n NativeLibrary) Empty() bool { return n.CPUAbi == "" && n.Path == "" }

// ArkNative describes the ahead-of-time compiled artifact of a module.
type ArkNative struct {
	FileAbi  string `json:"file_abi"`
	FilePath string `json:"file_path"`
}

// Empty reports whether no ark native artifact is declared.
func (a ArkNative) Empty() bool { return a.FileAbi == "" && a.FilePath == "" }

// AbilityRecord is one ability declared by a module. The owning bundle is
// referenced by name only; queries resolve the application info on demand.
type AbilityRecord struct {
	Name       string   `json:"name"`
	ModuleName string   `json:"module_name"`
	BundleName string   `json:"bundle_name"`
	URIs       []string `json:"uris,omitempty"`
	Actions    []string `json:"actions,omitempty"`
	Entities   []string `json:"entities,omitempty"`
	Visible    bool     `json:"visible"`
}

// ExtensionRecord is one extension ability declared by a module.
type ExtensionRecord struct {
	Name       string   `json:"name"`
	ModuleName string   `json:"module_name"`
	BundleName string   `json:"bundle_name"`
	Type       string   `json:"type"`
	URIs       []string `json:"uris,omitempty"`
}

// ProxyData is a content-provider-like URI registration. URIs must be
// globally unique across all modules of a bundle.
type ProxyData struct {
	URI                     string `json:"uri"`
	RequiredReadPermission  string `json:"required_read_permission,omitempty"`
	RequiredWritePermission string `json:"required_write_permission,omitempty"`
}

// ModuleRecord is one deployable sub-package of a bundle.
type ModuleRecord struct {
	Name                 string                     `json:"name"`
	Package              string                     `json:"package"`
	IsEntry              bool                       `json:"is_entry"`
	CodePath             string                     `json:"code_path"`
	HapPath              string                     `json:"hap_path"`
	Abilities            map[string]AbilityRecord   `json:"abilities,omitempty"`
	Extensions           map[string]ExtensionRecord `json:"extensions,omitempty"`
	ProxyDatas           []ProxyData                `json:"proxy_datas,omitempty"`
	NativeLibrary        NativeLibrary              `json:"native_library"`
	ArkNative            ArkNative                  `json:"ark_native"`
	RequiredCapabilities []string                   `json:"required_capabilities,omitempty"`
	RequestPermissions   []string                   `json:"request_permissions,omitempty"`
	DataGroups           []string                   `json:"data_groups,omitempty"`
	Removable            map[int32]bool             `json:"removable,omitempty"` // per OS user
	UpgradeFlag          int32                      `json:"upgrade_flag"`
}

// UserRecord is the per-OS-user installation state of a bundle.
type UserRecord struct {
	UserID            int32           `json:"user_id"`
	UID               uint32          `json:"uid"`
	GID               uint32          `json:"gid"`
	InstallTime       int64           `json:"install_time"`
	UpdateTime        int64           `json:"update_time"`
	Enabled           bool            `json:"enabled"`
	AccessTokenID     uint64          `json:"access_token_id"`
	DisabledAbilities []string        `json:"disabled_abilities,omitempty"`
	GrantedGroups     map[string]bool `json:"granted_groups,omitempty"`
}

// InstallMark is the ephemeral crash-recovery checkpoint written before any
// destructive step and advanced to a *_FINISH value on success. A record
// whose mark is unfinished at load time is a candidate for rollback replay.
type InstallMark struct {
	BundleName  string                 `json:"bundle_name"`
	PackageName string                 `json:"package_name"`
	Status      InstallExceptionStatus `json:"status"`
}

// QuickFixInfo is the committed metadata of an applied patch overlay.
type QuickFixInfo struct {
	Type             QuickFixType   `json:"type"`
	VersionCode      uint32         `json:"version_code"`
	VersionName      string         `json:"version_name"`
	Status           QuickFixStatus `json:"status"`
	LibraryPath      string         `json:"library_path,omitempty"`
	NeedsDeleteOnNext bool          `json:"needs_delete_on_next,omitempty"`
}

// BundleRecord is the aggregate root: the full committed state of one
// installed bundle across all modules and OS users.
type BundleRecord struct {
	BundleName               string `json:"bundle_name"`
	AppID                    string `json:"app_id"`
	Vendor                   string `json:"vendor"`
	VersionCode              uint32 `json:"version_code"`
	VersionName              string `json:"version_name"`
	MinCompatibleVersionCode uint32 `json:"min_compatible_version_code"`
	CompatibleVersion        uint32 `json:"compatible_version"`
	TargetVersion            uint32 `json:"target_version"`
	ReleaseType              string `json:"release_type"`
	DistributionType         string `json:"distribution_type"`

	Modules map[string]*ModuleRecord `json:"modules"`
	Users   map[int32]*UserRecord    `json:"users"`

	SignatureFingerprint string        `json:"signature_fingerprint"`
	ProvisionType        ProvisionType `json:"provision_type"`
	Debug                bool          `json:"debug"`
	AsanEnabled          bool          `json:"asan_enabled"`
	AppPrivilegeLevel    string        `json:"app_privilege_level"`
	AllowedACLs          []string      `json:"allowed_acls,omitempty"`

	NativeLibrary NativeLibrary `json:"native_library"`
	ArkNative     ArkNative     `json:"ark_native"`

	IsSystemApp     bool         `json:"is_system_app"`
	PreInstalled    bool         `json:"pre_installed"`
	Removable       bool         `json:"removable"`
	Singleton       bool         `json:"singleton"`
	InstallFree     bool         `json:"install_free"` // installation-free atomic service
	Status          BundleStatus `json:"status"`
	BundleID        uint32       `json:"bundle_id"`
	CodePath        string       `json:"code_path"`

	Mark     InstallMark   `json:"mark"`
	QuickFix *QuickFixInfo `json:"quick_fix,omitempty"`
}

// AppIDFor derives the appId from bundle name and signing fingerprint.
func AppIDFor(bundleName, fingerprint string) string {
	return fmt.Sprintf("%s_%s", bundleName, fingerprint)
}

// EntryModule returns the entry module, if any.
func (b *BundleRecord) EntryModule() (*ModuleRecord, bool) {
	for _, m := range b.Modules {
		if m.IsEntry {
			return m, true
		}
	}
	return nil, false
}

// HasUser reports whether the bundle is installed for userID.
func (b *BundleRecord) HasUser(userID int32) bool {
	_, ok := b.Users[userID]
	return ok
}

// User returns the per-user record for userID.
func (b *BundleRecord) User(userID int32) (*UserRecord, bool) {
	u, ok := b.Users[userID]
	return u, ok
}

// ModuleNames returns the names of all committed modules.
func (b *BundleRecord) ModuleNames() []string {
	names := make([]string, 0, len(b.Modules))
	for name := range b.Modules {
		names = append(names, name)
	}
	return names
}

// ProxyURIs collects every proxy-data URI across all modules.
func (b *BundleRecord) ProxyURIs() map[string]string {
	uris := make(map[string]string)
	for name, m := range b.Modules {
		for _, pd := range m.ProxyDatas {
			uris[pd.URI] = name
		}
	}
	return uris
}

// DataGroupRefs collects the set of data groups referenced by any module.
func (b *BundleRecord) DataGroupRefs() map[string]bool {
	refs := make(map[string]bool)
	for _, m := range b.Modules {
		for _, g := range m.DataGroups {
			refs[g] = true
		}
	}
	return refs
}

// DeepCopy returns an independent copy of the record. The registry hands
// out copies so callers can never mutate committed state in place.
func (b *BundleRecord) DeepCopy() *BundleRecord {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Modules = make(map[string]*ModuleRecord, len(b.Modules))
	for name, m := range b.Modules {
		mc := *m
		mc.Abilities = copyMap(m.Abilities)
		mc.Extensions = copyMap(m.Extensions)
		mc.ProxyDatas = append([]ProxyData(nil), m.ProxyDatas...)
		mc.RequiredCapabilities = append([]string(nil), m.RequiredCapabilities...)
		mc.RequestPermissions = append([]string(nil), m.RequestPermissions...)
		mc.DataGroups = append([]string(nil), m.DataGroups...)
		mc.Removable = copyMap(m.Removable)
		cp.Modules[name] = &mc
	}
	cp.Users = make(map[int32]*UserRecord, len(b.Users))
	for id, u := range b.Users {
		uc := *u
		uc.DisabledAbilities = append([]string(nil), u.DisabledAbilities...)
		uc.GrantedGroups = copyMap(u.GrantedGroups)
		cp.Users[id] = &uc
	}
	cp.AllowedACLs = append([]string(nil), b.AllowedACLs...)
	if b.QuickFix != nil {
		qf := *b.QuickFix
		cp.QuickFix = &qf
	}
	return &cp
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	if src == nil {
		return nil
	}
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// SameAppLabels reports whether the byte-for-byte label fields required to
// match on a same-version reinstall agree with other, returning the first
// mismatching field name for error reporting.
func (b *BundleRecord) SameAppLabels(other *BundleRecord) (string, bool) {
	switch {
	case b.Vendor != other.Vendor:
		return "vendor", false
	case b.ReleaseType != other.ReleaseType:
		return "release_type", false
	case b.DistributionType != other.DistributionType:
		return "distribution_type", false
	case b.ProvisionType != other.ProvisionType:
		return "provision_type", false
	case b.Debug != other.Debug:
		return "debug", false
	case b.AsanEnabled != other.AsanEnabled:
		return "asan_enabled", false
	}
	return "", true
}
