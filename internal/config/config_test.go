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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level 'info', got %q", cfg.Log.Level)
	}
	if cfg.Selector.DefaultProfile != "default" {
		t.Errorf("expected default profile 'default', got %q", cfg.Selector.DefaultProfile)
	}
	if cfg.EventPump.Interval != 500*time.Millisecond {
		t.Errorf("expected default event pump interval 500ms, got %v", cfg.EventPump.Interval)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	cfg, err := Load(filepath.Join(dir, "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load returned error for missing file: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected defaults to apply, got level %q", cfg.Log.Level)
	}
	if cfg.Storage.IndexDBPath == "" {
		t.Error("expected index db path to be resolved")
	}
}

func TestLoad_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weft.yaml")
	contents := []byte(`
log:
  level: debug
  format: text
selector:
  default_profile: work
event_pump:
  interval: 1s
`)
	if err := os.WriteFile(path, contents, 0600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected level 'debug', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("expected format 'text', got %q", cfg.Log.Format)
	}
	if cfg.Selector.DefaultProfile != "work" {
		t.Errorf("expected profile 'work', got %q", cfg.Selector.DefaultProfile)
	}
	if cfg.EventPump.Interval != time.Second {
		t.Errorf("expected interval 1s, got %v", cfg.EventPump.Interval)
	}
}

func TestLoad_InvalidYAMLFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weft.yaml")
	if err := os.WriteFile(path, []byte("log: [this is not a mapping"), 0600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestValidate_RejectsBadLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.Log.Level = "noisy"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for bad log level")
	}
}

func TestValidate_RejectsNegativeInterval(t *testing.T) {
	cfg := Defaults()
	cfg.EventPump.Interval = -1

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for negative interval")
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	path := filepath.Join(dir, "weft.yaml")

	cfg := Defaults()
	cfg.Selector.DefaultProfile = "mobile"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Selector.DefaultProfile != "mobile" {
		t.Errorf("expected profile 'mobile' after round trip, got %q", loaded.Selector.DefaultProfile)
	}
}
