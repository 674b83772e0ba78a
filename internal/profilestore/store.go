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

// Package profilestore is a minimal on-disk implementation of
// selector.ProfileResolver: one JSON settings file per profile directory,
// plus a "selected" marker file recording the last profile the caller
// touched. The daemon owns the full profile directory layout; this package
// keeps only what selector.Load needs to resolve against when weftd runs
// standalone, rather than a test double.
package profilestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/coretommy/weft/internal/selector"
	weftErrors "github.com/coretommy/weft/pkg/errors"
)

const selectedFileName = ".selected"

// Store roots every profile under a single directory: root/<name>/settings.json.
type Store struct {
	mu   sync.Mutex
	root string
}

// New creates a Store rooted at root. The directory is created lazily.
func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) dir(name string) string {
	return filepath.Join(s.root, name)
}

func (s *Store) settingsPath(name string) string {
	return filepath.Join(s.dir(name), "settings.json")
}

// ResolveRuntimeProfileName implements selector.ProfileResolver: the
// on-disk layout is flat, so the canonical name is the requested name
// provided its settings.json file exists.
func (s *Store) ResolveRuntimeProfileName(requested string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.settingsPath(requested)); err != nil {
		return "", &weftErrors.NotFoundError{Resource: "profile", ID: requested}
	}
	return requested, nil
}

// LoadProfileSettings implements selector.ProfileResolver.
func (s *Store) LoadProfileSettings(name string) (selector.ProfileSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.settingsPath(name))
	if err != nil {
		return selector.ProfileSettings{}, &weftErrors.NotFoundError{Resource: "profile", ID: name}
	}
	var settings selector.ProfileSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return selector.ProfileSettings{}, &weftErrors.ConfigError{Key: name, Reason: "failed to parse profile settings", Cause: err}
	}
	return settings, nil
}

// InitProfile implements selector.ProfileResolver: creates a new profile
// directory with the given rpc endpoint and writes it as the selected
// profile.
func (s *Store) InitProfile(name string, managed bool, rpc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir(name), 0700); err != nil {
		return &weftErrors.ConfigError{Key: name, Reason: "failed to create profile directory", Cause: err}
	}
	settings := selector.ProfileSettings{RPC: rpc, DisplayName: name, Managed: managed}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return &weftErrors.ConfigError{Key: name, Reason: "failed to marshal profile settings", Cause: err}
	}
	if err := os.WriteFile(s.settingsPath(name), data, 0600); err != nil {
		return &weftErrors.ConfigError{Key: name, Reason: "failed to write profile settings", Cause: err}
	}
	return s.setSelectedLocked(name)
}

// SelectedProfileName implements selector.ProfileResolver.
func (s *Store) SelectedProfileName() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.root, selectedFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", &weftErrors.ConfigError{Key: selectedFileName, Reason: "failed to read selected profile marker", Cause: err}
	}
	return strings.TrimSpace(string(data)), nil
}

// SetSelectedProfileName records name as the last-selected profile.
func (s *Store) SetSelectedProfileName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setSelectedLocked(name)
}

func (s *Store) setSelectedLocked(name string) error {
	if err := os.MkdirAll(s.root, 0700); err != nil {
		return &weftErrors.ConfigError{Key: selectedFileName, Reason: "failed to create profile root", Cause: err}
	}
	if err := os.WriteFile(filepath.Join(s.root, selectedFileName), []byte(name), 0600); err != nil {
		return &weftErrors.ConfigError{Key: selectedFileName, Reason: "failed to write selected profile marker", Cause: err}
	}
	return nil
}
