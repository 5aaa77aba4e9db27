// Package config provides configuration loading for the Corral daemons.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Default PAS socket path, shared with the portd compose service which
// mounts /var/run/portd as a named volume.
const DefaultPortdSocket = "/var/run/portd/portd.sock"

// Config holds all configuration for corrald.
type Config struct {
	ListenAddr    string        `mapstructure:"listen-addr"`
	Port          int           `mapstructure:"port"`
	ConfigDir     string        `mapstructure:"config-dir"`
	LogLevel      string        `mapstructure:"log-level"`
	MetricsPort   int           `mapstructure:"metrics-port"`
	JournalPath   string        `mapstructure:"journal-path"`
	PortdSocket   string        `mapstructure:"portd-socket"`
	Workers       int           `mapstructure:"workers"`
	CheckInterval time.Duration `mapstructure:"check-interval"`
}

// Addr returns the REST listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ListenAddr, c.Port)
}

// MetricsAddr returns the health/metrics listen address.
func (c Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenAddr, c.MetricsPort)
}

// JournalFile resolves the transition journal path. Relative paths are
// anchored at the config dir; empty disables the journal.
func (c Config) JournalFile() string {
	if c.JournalPath == "" {
		return ""
	}
	if filepath.IsAbs(c.JournalPath) {
		return c.JournalPath
	}
	return filepath.Join(c.ConfigDir, c.JournalPath)
}

// Load reads corrald configuration from command-line flags and
// environment variables. Flags win over environment, environment wins
// over defaults. The environment prefix is CORRALD, with dashes mapped
// to underscores (CORRALD_LOG_LEVEL, CORRALD_CONFIG_DIR, ...).
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("CORRALD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen-addr", "0.0.0.0")
	v.SetDefault("port", 5000)
	v.SetDefault("config-dir", ".")
	v.SetDefault("log-level", "info")
	v.SetDefault("metrics-port", 9100)
	v.SetDefault("journal-path", "corrald.db")
	v.SetDefault("portd-socket", DefaultPortdSocket)
	v.SetDefault("workers", 4)
	v.SetDefault("check-interval", time.Duration(0))
}

// Validate checks the configuration for values the daemon cannot run
// with.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics-port %d out of range", c.MetricsPort)
	}
	if c.Port == c.MetricsPort {
		return fmt.Errorf("port and metrics-port both %d", c.Port)
	}
	if c.ConfigDir == "" {
		return fmt.Errorf("config-dir must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.CheckInterval < 0 {
		return fmt.Errorf("check-interval must not be negative")
	}
	return nil
}

// Portd holds all configuration for the port allocator daemon.
type Portd struct {
	Socket   string `mapstructure:"socket"`
	LogLevel string `mapstructure:"log-level"`
}

// LoadPortd reads portd configuration from flags and PORTD_* environment
// variables.
func LoadPortd(flags *pflag.FlagSet) (*Portd, error) {
	v := viper.New()

	v.SetEnvPrefix("PORTD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("socket", DefaultPortdSocket)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	var cfg Portd
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Socket == "" {
		return nil, fmt.Errorf("socket must not be empty")
	}
	return &cfg, nil
}
