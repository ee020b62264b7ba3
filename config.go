package main

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// configEnvVar names the environment variable holding the config file path.
const configEnvVar = "STEWARD_CONFIG"

// Config is the TOML configuration file. Flags override individual fields
// in serve mode.
type Config struct {
	Server ServerConfig `toml:"server"`
	Store  StoreConfig  `toml:"store"`
	API    APIConfig    `toml:"api"`
	Match  MatchConfig  `toml:"match"`
}

// ServerConfig locates and authenticates against the dedicated server's
// XML-RPC port.
type ServerConfig struct {
	Addr       string `toml:"addr"`
	Login      string `toml:"login"`
	Password   string `toml:"password"`
	APIVersion string `toml:"api_version"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `toml:"path"`
}

// APIConfig configures the HTTP status API (empty addr disables it).
type APIConfig struct {
	Addr string `toml:"addr"`
}

// MatchConfig tunes the match cycle.
type MatchConfig struct {
	OutroSeconds        int     `toml:"outro_seconds"`
	TimeLimitFactor     float64 `toml:"time_limit_factor"`
	TimeLimitMinSeconds int     `toml:"time_limit_min_seconds"`
	TimeLimitMaxSeconds int     `toml:"time_limit_max_seconds"`
	HeartbeatSeconds    int     `toml:"heartbeat_seconds"`
}

// defaultConfig returns the values used for fields the file leaves unset.
func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:       "127.0.0.1:5000",
			Login:      "SuperAdmin",
			APIVersion: "2013-04-16",
		},
		Store: StoreConfig{Path: "steward.db"},
		API:   APIConfig{Addr: ":8080"},
		Match: MatchConfig{
			OutroSeconds:        15,
			TimeLimitFactor:     5.0,
			TimeLimitMinSeconds: 180,
			TimeLimitMaxSeconds: 1200,
			HeartbeatSeconds:    30,
		},
	}
}

// LoadConfig reads the config file named by STEWARD_CONFIG (or the given
// fallback path when the variable is unset). A missing file is fine: the
// defaults stand.
func LoadConfig(fallbackPath string) (Config, error) {
	cfg := defaultConfig()

	path := os.Getenv(configEnvVar)
	if path == "" {
		path = fallbackPath
	}
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if os.Getenv(configEnvVar) != "" {
			// An explicitly named file must exist.
			return cfg, fmt.Errorf("config file %s: %w", path, err)
		}
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr must be set")
	}
	if c.Match.TimeLimitFactor <= 0 {
		return fmt.Errorf("config: match.time_limit_factor must be positive")
	}
	if c.Match.TimeLimitMinSeconds > c.Match.TimeLimitMaxSeconds {
		return fmt.Errorf("config: match.time_limit_min_seconds exceeds the maximum")
	}
	return nil
}

// OutroDuration returns the outro window length.
func (c MatchConfig) OutroDuration() time.Duration {
	return time.Duration(c.OutroSeconds) * time.Second
}

// TimeLimitMin returns the lower clamp of the dynamic time limit.
func (c MatchConfig) TimeLimitMin() time.Duration {
	return time.Duration(c.TimeLimitMinSeconds) * time.Second
}

// TimeLimitMax returns the upper clamp of the dynamic time limit.
func (c MatchConfig) TimeLimitMax() time.Duration {
	return time.Duration(c.TimeLimitMaxSeconds) * time.Second
}
