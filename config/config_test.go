package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServicePort != 54321 {
		t.Fatalf("service port = %d, want 54321", cfg.ServicePort)
	}
	if cfg.Beacon != "DISCOVERY_MESSAGE" {
		t.Fatalf("beacon = %q", cfg.Beacon)
	}
	if cfg.DialTimeout != 0 {
		t.Fatalf("dial timeout = %s, want none", cfg.DialTimeout)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lanmesh.yaml")
	data := []byte(`
service_port: 40480
bind_ip: 10.0.0.7
announce_interval: 30s
log:
  level: debug
  format: json
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServicePort != 40480 {
		t.Fatalf("service port = %d", cfg.ServicePort)
	}
	if cfg.BindIP != "10.0.0.7" {
		t.Fatalf("bind ip = %q", cfg.BindIP)
	}
	if cfg.AnnounceInterval != 30*time.Second {
		t.Fatalf("announce interval = %s", cfg.AnnounceInterval)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("log = %+v", cfg.Log)
	}
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVICE_PORT", "40481")
	t.Setenv("MULTICAST_ADDR", "224.0.0.250:40400")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServicePort != 40481 {
		t.Fatalf("service port = %d", cfg.ServicePort)
	}
	if cfg.AnnounceAddr != "224.0.0.250:40400" {
		t.Fatalf("announce addr = %q", cfg.AnnounceAddr)
	}
	// the listener joins the same group the announcer sends to
	if cfg.DiscoveryAddr != "224.0.0.250:40400" {
		t.Fatalf("discovery addr = %q", cfg.DiscoveryAddr)
	}
}

func TestLoadPrefixedEnvBeatsLegacy(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MULTICAST_ADDR", "224.0.0.250:40400")
	t.Setenv("LANMESH_DISCOVERY_ADDR", ":40401")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DiscoveryAddr != ":40401" {
		t.Fatalf("discovery addr = %q", cfg.DiscoveryAddr)
	}
	if cfg.AnnounceAddr != "224.0.0.250:40400" {
		t.Fatalf("announce addr = %q", cfg.AnnounceAddr)
	}
}

func TestLoadPrefixedEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LANMESH_LOG_LEVEL", "warn")
	t.Setenv("LANMESH_BEACON", "HELLO_LAN")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
	if cfg.Beacon != "HELLO_LAN" {
		t.Fatalf("beacon = %q", cfg.Beacon)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"zero port":     func(c *Config) { c.ServicePort = 0 },
		"bad bind ip":   func(c *Config) { c.BindIP = "not-an-ip" },
		"ipv6 bind ip":  func(c *Config) { c.BindIP = "::1" },
		"empty beacon":  func(c *Config) { c.Beacon = "" },
		"beacon nl":     func(c *Config) { c.Beacon = "A\nB" },
		"bad log level": func(c *Config) { c.Log.Level = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	c := Default()
	c.Log.Level = "DEBUG"
	c.Log.Outputs = nil
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(c.Log.Outputs) != 1 || c.Log.Outputs[0] != "stderr" {
		t.Fatalf("outputs = %v", c.Log.Outputs)
	}
}

func TestServiceAddr(t *testing.T) {
	c := Default()
	if got := c.ServiceAddr("10.0.0.1"); got != "10.0.0.1:54321" {
		t.Fatalf("ServiceAddr = %q", got)
	}
	if got := c.ServiceAddr(""); got != ":54321" {
		t.Fatalf("ServiceAddr = %q", got)
	}
}
