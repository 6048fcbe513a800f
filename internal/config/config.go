// Package config loads the demo binary's static configuration with
// viper: a YAML file overridden by KVAZZUP_-prefixed environment
// variables, with sensible defaults for every field.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full configuration surface cmd/kvazzupd needs to
// construct a ua.Coordinator and its ambient services. Nothing here is
// read by the SIP core itself (the core's Persisted state remains
// none); this struct only feeds ua.Config/internal/metrics through
// constructor parameters.
type Config struct {
	Username   string  `mapstructure:"username"`
	ListenIP   string  `mapstructure:"listen_ip"`
	ListenPort int     `mapstructure:"listen_port"`
	Registrar  string  `mapstructure:"registrar"`
	Media      Media   `mapstructure:"media"`
	Log        Log     `mapstructure:"log"`
	Metrics    Metrics `mapstructure:"metrics"`
}

// Media describes the RTP port range the TU advertises in its SDP
// offers/answers, mirrored from the original client's configurable
// port range.
type Media struct {
	PortRangeStart int `mapstructure:"port_range_start"`
	PortRangeEnd   int `mapstructure:"port_range_end"`
}

// Log controls the zerolog console writer cmd/kvazzupd sets up.
type Log struct {
	Level string `mapstructure:"level"`
}

// Metrics controls the Prometheus HTTP endpoint cmd/kvazzupd serves.
type Metrics struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// Load reads path (if non-empty) plus KVAZZUP_-prefixed environment
// overrides into a Config, applying defaults first so a missing file
// (or a missing individual key) still produces something runnable.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("kvazzup")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_ip", "0.0.0.0")
	v.SetDefault("listen_port", 5060)
	v.SetDefault("media.port_range_start", 21000)
	v.SetDefault("media.port_range_end", 21999)
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", ":9090")
	v.SetDefault("metrics.path", "/metrics")
}

func (c *Config) validate() error {
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("config: listen_port %d out of range", c.ListenPort)
	}
	if c.Media.PortRangeStart <= 0 || c.Media.PortRangeEnd < c.Media.PortRangeStart {
		return fmt.Errorf("config: invalid media port range %d-%d", c.Media.PortRangeStart, c.Media.PortRangeEnd)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log level %q", c.Log.Level)
	}
	return nil
}
