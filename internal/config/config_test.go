package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swarmctl.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := getDefaultConfig()

	if cfg.Network.Broadcast.Address != "255.255.255.255" {
		t.Errorf("Expected limited broadcast address, got %s", cfg.Network.Broadcast.Address)
	}
	if cfg.Network.Broadcast.Port != 37020 {
		t.Errorf("Expected broadcast port 37020, got %d", cfg.Network.Broadcast.Port)
	}
	if cfg.Network.Maintenance.Port != 0 {
		t.Errorf("Expected maintenance server disabled, got port %d", cfg.Network.Maintenance.Port)
	}
	if cfg.Console.SourceID != 666 {
		t.Errorf("Expected source id 666, got %d", cfg.Console.SourceID)
	}
	if cfg.Groups.File != "groups.yaml" {
		t.Errorf("Expected groups.yaml, got %s", cfg.Groups.File)
	}

	if err := validateConfig(cfg); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
network:
  broadcast:
    address: 192.168.1.255
    port: 40000
    ratePerSec: 200
    burst: 10
  maintenance:
    port: 50000
    allowedCidrs: ["10.0.0.0/8"]
groups:
  file: /etc/swarm/groups.yaml
  watch: true
console:
  strictGroups: true
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Network.Broadcast.Address != "192.168.1.255" || cfg.Network.Broadcast.Port != 40000 {
		t.Errorf("Unexpected broadcast destination %s:%d", cfg.Network.Broadcast.Address, cfg.Network.Broadcast.Port)
	}
	if cfg.Network.Broadcast.RatePerSec != 200 || cfg.Network.Broadcast.Burst != 10 {
		t.Errorf("Unexpected pacing %g/%d", cfg.Network.Broadcast.RatePerSec, cfg.Network.Broadcast.Burst)
	}
	if !cfg.Groups.Watch || !cfg.Console.StrictGroups {
		t.Error("Expected watch and strictGroups from file")
	}
	if cfg.Console.SourceID != 666 {
		t.Errorf("Fields absent from the file should keep defaults, got source id %d", cfg.Console.SourceID)
	}
	if cfg.Console.Prompt != "Command> " {
		t.Errorf("Expected default prompt, got %q", cfg.Console.Prompt)
	}
}

func TestLoadConfigFromNonExistentFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error when an explicit config file is missing")
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("SWARMCTL_CONFIG", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Network.Broadcast.Port != 37020 {
		t.Errorf("Expected default port, got %d", cfg.Network.Broadcast.Port)
	}
}

func TestLoadConfigPathFromEnv(t *testing.T) {
	path := writeConfig(t, "console:\n  sourceId: 7\n")
	t.Setenv("SWARMCTL_CONFIG", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Console.SourceID != 7 {
		t.Errorf("Expected source id 7, got %d", cfg.Console.SourceID)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "network:\n  broadcast:\n    prot: 1\n")

	if _, err := Load(path); err == nil {
		t.Error("Expected error for misspelled key")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := getDefaultConfig()

	t.Setenv("SWARMCTL_BROADCAST_PORT", "41000")
	t.Setenv("SWARMCTL_GROUPS_FILE", "/tmp/g.yaml")
	t.Setenv("SWARMCTL_MAINTENANCE_CIDRS", "127.0.0.0/8,192.168.0.0/16")
	t.Setenv("SWARMCTL_STRICT_GROUPS", "true")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides failed: %v", err)
	}

	if cfg.Network.Broadcast.Port != 41000 {
		t.Errorf("Expected port 41000, got %d", cfg.Network.Broadcast.Port)
	}
	if cfg.Groups.File != "/tmp/g.yaml" {
		t.Errorf("Expected groups file override, got %s", cfg.Groups.File)
	}
	if len(cfg.Network.Maintenance.AllowedCIDRs) != 2 {
		t.Errorf("Expected 2 CIDRs, got %v", cfg.Network.Maintenance.AllowedCIDRs)
	}
	if !cfg.Console.StrictGroups {
		t.Error("Expected strict groups from env")
	}
	if cfg.Network.Broadcast.Address != "255.255.255.255" {
		t.Errorf("Unset variables must not clear values, got address %q", cfg.Network.Broadcast.Address)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "network:\n  broadcast:\n    port: 40000\n")
	t.Setenv("SWARMCTL_BROADCAST_PORT", "40001")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Network.Broadcast.Port != 40001 {
		t.Errorf("Expected env to win over file, got %d", cfg.Network.Broadcast.Port)
	}
}

func TestInvalidEnvValue(t *testing.T) {
	cfg := getDefaultConfig()
	t.Setenv("SWARMCTL_BROADCAST_PORT", "not-a-port")

	if err := applyEnvOverrides(cfg); err == nil {
		t.Error("Expected error for non-numeric port")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad address", func(c *Config) { c.Network.Broadcast.Address = "drones.local" }, "not an IP address"},
		{"zero port", func(c *Config) { c.Network.Broadcast.Port = 0 }, "broadcast port"},
		{"port too large", func(c *Config) { c.Network.Broadcast.Port = 70000 }, "broadcast port"},
		{"negative rate", func(c *Config) { c.Network.Broadcast.RatePerSec = -1 }, "must not be negative"},
		{"maintenance port", func(c *Config) { c.Network.Maintenance.Port = -1 }, "maintenance port"},
		{"bad cidr", func(c *Config) { c.Network.Maintenance.AllowedCIDRs = []string{"10.0.0.0/33"} }, "invalid maintenance CIDR"},
		{"no groups file", func(c *Config) { c.Groups.File = "" }, "groups file"},
		{"queue size", func(c *Config) { c.Console.QueueSize = 0 }, "queue size"},
		{"audit limits", func(c *Config) { c.Audit.MaxBackups = -2 }, "audit limits"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getDefaultConfig()
			tt.mutate(cfg)

			err := validateConfig(cfg)
			if err == nil {
				t.Fatalf("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
