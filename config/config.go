package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Config holds the node settings
type Config struct {
	// The TCP port where peers listen for mesh connections
	ServicePort uint16 `mapstructure:"service_port"`

	// UDP address the discovery listener binds, e.g. ":7653"
	DiscoveryAddr string `mapstructure:"discovery_addr"`

	// UDP address beacons are sent to (broadcast or multicast group)
	AnnounceAddr string `mapstructure:"announce_addr"`

	// Zero announces once at startup
	AnnounceInterval time.Duration `mapstructure:"announce_interval"`

	// Fixed discovery payload
	Beacon string `mapstructure:"beacon"`

	// Pins the local interface address instead of scanning interfaces
	BindIP string `mapstructure:"bind_ip"`

	// Zero means no timeout
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	Log LogConfig `mapstructure:"log"`
}

// LogConfig defines logger settings
type LogConfig struct {
	Level       string         `mapstructure:"level"`
	Format      string         `mapstructure:"format"`
	Outputs     []string       `mapstructure:"outputs"`
	Development bool           `mapstructure:"development"`
	Rotation    RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls log file rotation for file outputs
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		ServicePort:   54321,
		DiscoveryAddr: ":7653",
		AnnounceAddr:  "255.255.255.255:7653",
		Beacon:        "DISCOVERY_MESSAGE",
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  10,
				MaxBackups: 3,
				MaxAgeDays: 7,
			},
		},
	}
}

// Load reads the configuration from path, or from lanmesh.yaml in the usual
// locations when path is empty. A missing file is not an error.
//
// Environment variables use the LANMESH_ prefix (LANMESH_LOG_LEVEL=debug).
// SERVICE_PORT and MULTICAST_ADDR are still accepted.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LANMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("service_port", cfg.ServicePort)
	v.SetDefault("discovery_addr", cfg.DiscoveryAddr)
	v.SetDefault("announce_addr", cfg.AnnounceAddr)
	v.SetDefault("announce_interval", cfg.AnnounceInterval)
	v.SetDefault("beacon", cfg.Beacon)
	v.SetDefault("bind_ip", cfg.BindIP)
	v.SetDefault("dial_timeout", cfg.DialTimeout)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	// Older deployments set these without a prefix
	_ = v.BindEnv("service_port", "LANMESH_SERVICE_PORT", "SERVICE_PORT")
	// MULTICAST_ADDR named the group both sides use
	_ = v.BindEnv("announce_addr", "LANMESH_ANNOUNCE_ADDR", "MULTICAST_ADDR")
	_ = v.BindEnv("discovery_addr", "LANMESH_DISCOVERY_ADDR", "MULTICAST_ADDR")

	if path == "" {
		path = os.Getenv("LANMESH_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lanmesh")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".lanmesh"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values and fills in empty optional ones
func (c *Config) Validate() error {
	if c.ServicePort == 0 {
		return errors.New("invalid service_port: must be non-zero")
	}
	if c.BindIP != "" {
		ip := net.ParseIP(c.BindIP)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("invalid bind_ip: %q", c.BindIP)
		}
	}
	if c.Beacon == "" || strings.Contains(c.Beacon, "\n") {
		return fmt.Errorf("invalid beacon: %q", c.Beacon)
	}
	if c.AnnounceInterval < 0 {
		return fmt.Errorf("invalid announce_interval: %s", c.AnnounceInterval)
	}

	if _, err := zapcore.ParseLevel(strings.TrimSpace(c.Log.Level)); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	return nil
}

// ServiceAddr returns the TCP listen address for the given IP ("" for all interfaces)
func (c *Config) ServiceAddr(ip string) string {
	return net.JoinHostPort(ip, fmt.Sprint(c.ServicePort))
}
