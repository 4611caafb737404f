// Package rsyncdconfig loads the daemon's TOML configuration file:
// modules (name, gating, backend addressing), the listen port, and the
// heartbeat interval.
package rsyncdconfig

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// DefaultListenPort is used when a config file omits listen_port.
const DefaultListenPort = 1234

// DefaultHeartbeatIntervalSec is used when a config file omits
// heartbeat_interval_sec.
const DefaultHeartbeatIntervalSec = 60

// Module describes one rsync module entry in the config file. Path is
// the backend-specific address of the artifact set this module exposes
// (e.g. a bucket name, a repository key); its interpretation is up to
// whichever backend.Store implementation the operator wires in.
type Module struct {
	Name  string `toml:"name"`
	Path  string `toml:"path"`
	Gated bool   `toml:"gated"`
}

// Config is the top-level configuration file shape.
type Config struct {
	ListenPort           int      `toml:"listen_port"`
	HeartbeatIntervalSec int      `toml:"heartbeat_interval_sec"`
	MediaRoot            string   `toml:"media_root"`
	MonitoringListen     string   `toml:"monitoring_listen"`
	Modules              []Module `toml:"module"`
}

// DefaultPaths are searched, in order, by FromDefaultFiles.
var DefaultPaths = []string{
	"/etc/pulprsyncd.toml",
	"pulprsyncd.toml",
}

// FromFile parses the TOML config file at path.
func FromFile(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("rsyncdconfig: decoding %s: %w", path, err)
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("rsyncdconfig: %s: %w", path, err)
	}
	return &cfg, nil
}

// FromDefaultFiles tries each of DefaultPaths in turn, returning the
// config and the path it was loaded from. If none exist, it returns the
// os.IsNotExist error for the last path tried.
func FromDefaultFiles() (*Config, string, error) {
	var lastErr error
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err != nil {
			lastErr = err
			continue
		}
		cfg, err := FromFile(p)
		return cfg, p, err
	}
	return nil, "", lastErr
}

func (c *Config) setDefaults() {
	if c.ListenPort == 0 {
		c.ListenPort = DefaultListenPort
	}
	if c.HeartbeatIntervalSec == 0 {
		c.HeartbeatIntervalSec = DefaultHeartbeatIntervalSec
	}
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Modules))
	for _, m := range c.Modules {
		if m.Name == "" {
			return fmt.Errorf("module with empty name")
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate module name %q", m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}
