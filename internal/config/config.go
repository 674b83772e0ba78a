// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates weft.yaml, the shell's ambient
// configuration file (logging, storage paths, selector defaults, event
// pump tuning, IPC transport).
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	weftErrors "github.com/coretommy/weft/pkg/errors"
)

// Config is the top-level shape of weft.yaml.
type Config struct {
	// Version allows the file format to evolve without breaking old configs.
	Version int `yaml:"version,omitempty"`

	Log       LogConfig       `yaml:"log"`
	Selector  SelectorConfig  `yaml:"selector"`
	Storage   StorageConfig   `yaml:"storage"`
	EventPump EventPumpConfig `yaml:"event_pump"`
	IPC       IPCConfig       `yaml:"ipc"`
}

// LogConfig holds the log level and format accepted in the config file;
// Validate checks them. weftd does not apply these fields: its logger is
// built from the WEFT_LOG_LEVEL/WEFT_DEBUG environment (internal/log.FromEnv).
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// SelectorConfig supplies fallback values the selector package consults
// before falling back to its own hardcoded defaults.
type SelectorConfig struct {
	DefaultProfile string `yaml:"default_profile,omitempty"`
	DefaultRPC     string `yaml:"default_rpc,omitempty"`
	AutoDaemon     *bool  `yaml:"auto_daemon,omitempty"`
}

// StorageConfig locates the index database and attachment cache on disk.
type StorageConfig struct {
	DataDir            string `yaml:"data_dir,omitempty"`
	IndexDBPath        string `yaml:"index_db_path,omitempty"`
	AttachmentCacheDir string `yaml:"attachment_cache_dir,omitempty"`
}

// EventPumpConfig holds event-pump settings accepted in the config file;
// Validate rejects a negative Interval. weftd does not apply these fields:
// the pump's interval comes from each start request, clamped to [150ms, 2000ms].
type EventPumpConfig struct {
	Interval     time.Duration `yaml:"interval,omitempty"`
	MaxBatchSize int           `yaml:"max_batch_size,omitempty"`
}

// IPCConfig configures the v2 envelope transport exposed to the webview.
type IPCConfig struct {
	SocketPath string `yaml:"socket_path,omitempty"`
}

// Defaults returns the configuration used when no weft.yaml exists yet.
func Defaults() *Config {
	return &Config{
		Version: 1,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Selector: SelectorConfig{
			DefaultProfile: "default",
			DefaultRPC:     "rmap.world:4242",
		},
		EventPump: EventPumpConfig{
			Interval:     500 * time.Millisecond,
			MaxBatchSize: 200,
		},
	}
}

// Load reads and parses weft.yaml at path, filling unset fields from
// Defaults. A missing file is not an error: Defaults is returned as-is
// with storage paths resolved against the XDG data directory.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := cfg.resolveStoragePaths(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, &weftErrors.ConfigError{Key: path, Reason: "failed to read config file", Cause: err}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &weftErrors.ConfigError{Key: path, Reason: "failed to parse YAML", Cause: err}
	}

	if err := cfg.resolveStoragePaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDefaultPath loads weft.yaml from the XDG config directory.
func LoadDefaultPath() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, &weftErrors.ConfigError{Reason: "failed to resolve config path", Cause: err}
	}
	return Load(path)
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return &weftErrors.ConfigError{Key: path, Reason: "failed to create config directory", Cause: err}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return &weftErrors.ConfigError{Key: path, Reason: "failed to marshal config", Cause: err}
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return &weftErrors.ConfigError{Key: path, Reason: "failed to write config file", Cause: err}
	}

	return nil
}

func (c *Config) resolveStoragePaths() error {
	if c.Storage.DataDir == "" {
		dir, err := DataDir()
		if err != nil {
			return &weftErrors.ConfigError{Key: "storage.data_dir", Reason: "failed to resolve XDG data directory", Cause: err}
		}
		c.Storage.DataDir = dir
	}
	if c.Storage.IndexDBPath == "" {
		c.Storage.IndexDBPath = filepath.Join(c.Storage.DataDir, "index.db")
	}
	if c.Storage.AttachmentCacheDir == "" {
		c.Storage.AttachmentCacheDir = filepath.Join(c.Storage.DataDir, "attachments")
	}
	return nil
}

// Validate checks structural invariants weft.yaml must satisfy. It does
// not validate the selector profile/RPC strings; that is the selector
// package's responsibility once a profile is actually resolved.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return &weftErrors.ConfigError{Key: "log.level", Reason: "must be one of trace, debug, info, warn, error"}
	}

	switch c.Log.Format {
	case "", "json", "text":
	default:
		return &weftErrors.ConfigError{Key: "log.format", Reason: "must be json or text"}
	}

	if c.EventPump.Interval < 0 {
		return &weftErrors.ConfigError{Key: "event_pump.interval", Reason: "must not be negative"}
	}

	return nil
}
