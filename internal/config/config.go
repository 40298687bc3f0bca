package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all service configuration.
type Config struct {
	Server     ServerConfig
	Installd   InstalldConfig
	Storage    StorageConfig
	AppControl AppControlConfig
	Logging    LogConfig
	RateLimit  RateLimitConfig
	Device     DeviceConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8100"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// InstalldConfig holds the privileged filesystem worker connection settings.
type InstalldConfig struct {
	Address string `envconfig:"INSTALLD_ADDR" default:"localhost:50061"`
	Enabled bool   `envconfig:"INSTALLD_ENABLED" default:"true"`
}

// StorageConfig holds persistent store settings.
type StorageConfig struct {
	DBPath      string `envconfig:"BUNDLE_DB_PATH" default:"/data/bundle-manager/bundles.db"`
	AppRoot     string `envconfig:"BUNDLE_APP_ROOT" default:"/data/app/el1/bundle"`
	DataRoot    string `envconfig:"BUNDLE_DATA_ROOT" default:"/data/app/el2"`
	GroupRoot   string `envconfig:"BUNDLE_GROUP_ROOT" default:"/data/app/el2/group"`
	QuickFixDir string `envconfig:"BUNDLE_QUICKFIX_DIR" default:"/data/app/el1/patch"`
}

// AppControlConfig holds the uninstall-disposal policy endpoint.
type AppControlConfig struct {
	Endpoint string `envconfig:"APP_CONTROL_ENDPOINT" default:""`
	Enabled  bool   `envconfig:"APP_CONTROL_ENABLED" default:"false"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// DeviceConfig points at the YAML device profile.
type DeviceConfig struct {
	ProfilePath string `envconfig:"DEVICE_PROFILE" default:"/etc/bundle-manager/device.yaml"`
}

// DeviceProfile carries the device facts and capability flags resolved once
// at startup. Fields gated by a capability flag are present but inactive
// when the flag is off.
type DeviceProfile struct {
	SDKVersion          uint32   `yaml:"sdk_version"`
	APIReleaseType      string   `yaml:"api_release_type"`
	SystemCapabilities  []string `yaml:"system_capabilities"`
	SupportsQuickFix    bool     `yaml:"supports_quick_fix"`
	SupportsAppControl  bool     `yaml:"supports_app_control"`
	SupportsOverlay     bool     `yaml:"supports_overlay"`
	CompatibilityPolicy string   `yaml:"compatibility_policy"` // "builtin" or "external"
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8100",
			Host: "0.0.0.0",
		},
		Installd: InstalldConfig{
			Address: "localhost:50061",
			Enabled: true,
		},
		Storage: StorageConfig{
			DBPath:      "/data/bundle-manager/bundles.db",
			AppRoot:     "/data/app/el1/bundle",
			DataRoot:    "/data/app/el2",
			GroupRoot:   "/data/app/el2/group",
			QuickFixDir: "/data/app/el1/patch",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Device: DeviceConfig{
			ProfilePath: "/etc/bundle-manager/device.yaml",
		},
	}
}

// DefaultProfile returns the device profile used when no YAML file exists.
func DefaultProfile() *DeviceProfile {
	return &DeviceProfile{
		SDKVersion:          12,
		APIReleaseType:      "Release",
		SystemCapabilities:  []string{},
		SupportsQuickFix:    true,
		SupportsAppControl:  false,
		CompatibilityPolicy: "builtin",
	}
}

// LoadProfile reads the device profile from path, falling back to the
// default profile when the file is absent.
func LoadProfile(path string) (*DeviceProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultProfile(), nil
		}
		return nil, fmt.Errorf("failed to read device profile: %w", err)
	}
	var profile DeviceProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse device profile: %w", err)
	}
	if profile.CompatibilityPolicy == "" {
		profile.CompatibilityPolicy = "builtin"
	}
	return &profile, nil
}

// HasCapability reports whether the device declares a system capability.
func (p *DeviceProfile) HasCapability(name string) bool {
	for _, c := range p.SystemCapabilities {
		if c == name {
			return true
		}
	}
	return false
}
