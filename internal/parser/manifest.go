package parser

// Manifest is the parsed module.json of one archive.
type Manifest struct {
	App    AppManifest    `json:"app"`
	Module ModuleManifest `json:"module"`
}

// AppManifest carries the bundle-wide fields; these must agree across all
// archives of one install batch.
type AppManifest struct {
	BundleName               string `json:"bundleName"`
	Vendor                   string `json:"vendor"`
	VersionCode              uint32 `json:"versionCode"`
	VersionName              string `json:"versionName"`
	MinCompatibleVersionCode uint32 `json:"minCompatibleVersionCode"`
	CompatibleVersion        uint32 `json:"compatibleVersion"`
	TargetVersion            uint32 `json:"targetVersion"`
	ReleaseType              string `json:"apiReleaseType"`
	DistributionType         string `json:"distributionType"`
	Debug                    bool   `json:"debug"`
	AsanEnabled              bool   `json:"asanEnabled"`
	Singleton                bool   `json:"singleton"`
	InstallFree              bool   `json:"installFree"`
	AppPrivilegeLevel        string `json:"appPrivilegeLevel"`
}

// ModuleManifest carries the per-module fields.
type ModuleManifest struct {
	Name                 string              `json:"name"`
	Package              string              `json:"package"`
	Type                 string              `json:"type"` // "entry" or "feature"
	Abilities            []AbilityManifest   `json:"abilities,omitempty"`
	Extensions           []ExtensionManifest `json:"extensionAbilities,omitempty"`
	ProxyData            []ProxyDataManifest `json:"proxyData,omitempty"`
	RequiredCapabilities []string            `json:"deviceCapability,omitempty"`
	RequestPermissions   []string            `json:"requestPermissions,omitempty"`
	DataGroupIDs         []string            `json:"dataGroupIds,omitempty"`
	CompressNativeLibs   bool                `json:"compressNativeLibs"`
}

// AbilityManifest is one declared ability.
type AbilityManifest struct {
	Name     string   `json:"name"`
	URIs     []string `json:"uris,omitempty"`
	Actions  []string `json:"actions,omitempty"`
	Entities []string `json:"entities,omitempty"`
	Visible  bool     `json:"visible"`
}

// ExtensionManifest is one declared extension ability.
type ExtensionManifest struct {
	Name string   `json:"name"`
	Type string   `json:"type"`
	URIs []string `json:"uris,omitempty"`
}

// ProxyDataManifest is one content-provider-like registration.
type ProxyDataManifest struct {
	URI             string `json:"uri"`
	ReadPermission  string `json:"requiredReadPermission,omitempty"`
	WritePermission string `json:"requiredWritePermission,omitempty"`
}

// ParsedPackage is the result of parsing one archive.
type ParsedPackage struct {
	Path          string
	Manifest      Manifest
	NativeLibAbis []string // distinct ABIs found under libs/
	HasArkNative  bool
	ArkNativeAbi  string
	ProfilePaths  []string // gzip-compressed AOT profiles in the archive
}

// IsEntry reports whether this archive carries the entry module.
func (p *ParsedPackage) IsEntry() bool { return p.Manifest.Module.Type == "entry" }
