package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

// DefaultFile is read when no explicit config file is given
const DefaultFile = "config/default.yaml"

// Config represents the complete configuration for the swarm console
type Config struct {
	Network NetworkConfig `yaml:"network"`
	Groups  GroupsConfig  `yaml:"groups"`
	Console ConsoleConfig `yaml:"console"`
	Audit   AuditConfig   `yaml:"audit"`
	Logging LoggingConfig `yaml:"logging"`
}

// NetworkConfig holds network-related settings
type NetworkConfig struct {
	Broadcast   BroadcastConfig   `yaml:"broadcast"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// BroadcastConfig holds the UDP datagram destination
type BroadcastConfig struct {
	Address string `yaml:"address" env:"SWARMCTL_BROADCAST_ADDRESS"`
	Port    int    `yaml:"port" env:"SWARMCTL_BROADCAST_PORT"`
	// RatePerSec paces sends when positive; zero sends unpaced
	RatePerSec float64 `yaml:"ratePerSec" env:"SWARMCTL_BROADCAST_RATE"`
	Burst      int     `yaml:"burst" env:"SWARMCTL_BROADCAST_BURST"`
}

// MaintenanceConfig holds maintenance TCP server settings. Port 0 disables
// the server.
type MaintenanceConfig struct {
	Port         int      `yaml:"port" env:"SWARMCTL_MAINTENANCE_PORT"`
	AllowedCIDRs []string `yaml:"allowedCidrs" env:"SWARMCTL_MAINTENANCE_CIDRS" envSeparator:","`
}

// GroupsConfig locates the group membership file
type GroupsConfig struct {
	File  string `yaml:"file" env:"SWARMCTL_GROUPS_FILE"`
	Watch bool   `yaml:"watch" env:"SWARMCTL_GROUPS_WATCH"`
}

// ConsoleConfig holds operator console settings
type ConsoleConfig struct {
	Prompt       string `yaml:"prompt" env:"SWARMCTL_PROMPT"`
	StrictGroups bool   `yaml:"strictGroups" env:"SWARMCTL_STRICT_GROUPS"`
	SourceID     uint32 `yaml:"sourceId" env:"SWARMCTL_SOURCE_ID"`
	QueueSize    int    `yaml:"queueSize" env:"SWARMCTL_QUEUE_SIZE"`
}

// AuditConfig holds audit trail settings. An empty Dir disables auditing.
type AuditConfig struct {
	Dir        string `yaml:"dir" env:"SWARMCTL_AUDIT_DIR"`
	MaxSizeMB  int    `yaml:"maxSizeMb" env:"SWARMCTL_AUDIT_MAX_SIZE_MB"`
	MaxBackups int    `yaml:"maxBackups" env:"SWARMCTL_AUDIT_MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"maxAgeDays" env:"SWARMCTL_AUDIT_MAX_AGE_DAYS"`
	Compress   bool   `yaml:"compress" env:"SWARMCTL_AUDIT_COMPRESS"`
}

// LoggingConfig holds diagnostic logging settings
type LoggingConfig struct {
	Level       string `yaml:"level" env:"SWARMCTL_LOG_LEVEL"`
	Development bool   `yaml:"development" env:"SWARMCTL_LOG_DEVELOPMENT"`
}

// Load builds the configuration from defaults, a YAML file and environment
// variables, in that order. path wins over SWARMCTL_CONFIG; with neither
// set, DefaultFile is read if it exists.
func Load(path string) (*Config, error) {
	cfg := getDefaultConfig()

	if path == "" {
		path = os.Getenv("SWARMCTL_CONFIG")
	}

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	} else if err := loadFromFile(cfg, DefaultFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// getDefaultConfig returns the default configuration
func getDefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			Broadcast: BroadcastConfig{
				Address: "255.255.255.255",
				Port:    37020,
			},
			Maintenance: MaintenanceConfig{
				Port:         0,
				AllowedCIDRs: []string{"127.0.0.0/8"},
			},
		},
		Groups: GroupsConfig{
			File:  "groups.yaml",
			Watch: false,
		},
		Console: ConsoleConfig{
			Prompt:    "Command> ",
			SourceID:  666,
			QueueSize: 16,
		},
		Audit: AuditConfig{
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.UnmarshalStrict(data, cfg)
}

// applyEnvOverrides applies SWARMCTL_* environment variables. Unset
// variables leave the current value alone.
func applyEnvOverrides(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	b := cfg.Network.Broadcast
	if net.ParseIP(b.Address) == nil {
		return fmt.Errorf("broadcast address %q is not an IP address", b.Address)
	}
	if b.Port <= 0 || b.Port > 65535 {
		return fmt.Errorf("broadcast port %d is outside range [1, 65535]", b.Port)
	}
	if b.RatePerSec < 0 || b.Burst < 0 {
		return fmt.Errorf("broadcast rate %g and burst %d must not be negative", b.RatePerSec, b.Burst)
	}

	m := cfg.Network.Maintenance
	if m.Port < 0 || m.Port > 65535 {
		return fmt.Errorf("maintenance port %d is outside range [0, 65535]", m.Port)
	}
	for _, cidr := range m.AllowedCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid maintenance CIDR %q: %w", cidr, err)
		}
	}

	if cfg.Groups.File == "" {
		return fmt.Errorf("groups file must be set")
	}
	if cfg.Console.QueueSize < 1 {
		return fmt.Errorf("console queue size %d must be at least 1", cfg.Console.QueueSize)
	}

	a := cfg.Audit
	if a.MaxSizeMB < 0 || a.MaxBackups < 0 || a.MaxAgeDays < 0 {
		return fmt.Errorf("audit limits must not be negative: size=%d backups=%d age=%d", a.MaxSizeMB, a.MaxBackups, a.MaxAgeDays)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.Logging.Level) {
		return fmt.Errorf("invalid log level %s, must be one of: %v", cfg.Logging.Level, validLevels)
	}

	return nil
}

// contains checks if a string slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
