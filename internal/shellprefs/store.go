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

// Package shellprefs persists the desktop shell's preferences to a JSON
// file, watching it with fsnotify so an external edit (a user hand-editing
// the file while the app runs) is picked up without a restart.
package shellprefs

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/coretommy/weft/internal/ipc"
	weftErrors "github.com/coretommy/weft/pkg/errors"
)

// Defaults returns the preferences a fresh install starts with.
func Defaults() ipc.ShellPreferences {
	return ipc.ShellPreferences{
		MinimizeToTrayOnClose: true,
		StartInTray:           false,
		SingleInstanceFocus:   true,
		NotificationsMuted:    false,
	}
}

// Store owns desktop-shell.json: load, merge-patch writes, and an optional
// fsnotify watch that reloads on external changes. It satisfies
// ipc.ShellPrefs.
type Store struct {
	mu       sync.Mutex
	path     string
	prefs    ipc.ShellPreferences
	logger   *slog.Logger
	onChange func(ipc.ShellPreferences)

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a Store rooted at path. Load must be called before Get/Set
// observe anything other than Defaults().
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		prefs:  Defaults(),
		logger: logger.With(slog.String("component", "shellprefs")),
	}
}

// OnChange registers a callback invoked after every successful Set and
// after every reload triggered by an external file edit. Typically wired to
// re-emit the notifications_muted tray action.
func (s *Store) OnChange(fn func(ipc.ShellPreferences)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Load reads the preferences file, creating it with defaults if absent.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.prefs = Defaults()
		return s.saveLocked()
	}
	if err != nil {
		return &weftErrors.ConfigError{Key: s.path, Reason: "failed to read shell preferences", Cause: err}
	}

	prefs := Defaults()
	if err := json.Unmarshal(data, &prefs); err != nil {
		return &weftErrors.ConfigError{Key: s.path, Reason: "failed to parse shell preferences", Cause: err}
	}
	s.prefs = prefs
	return nil
}

func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return &weftErrors.ConfigError{Key: s.path, Reason: "failed to create shell preferences directory", Cause: err}
	}
	data, err := json.MarshalIndent(s.prefs, "", "  ")
	if err != nil {
		return &weftErrors.ConfigError{Key: s.path, Reason: "failed to marshal shell preferences", Cause: err}
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return &weftErrors.ConfigError{Key: s.path, Reason: "failed to write shell preferences", Cause: err}
	}
	return nil
}

// Get returns the current preferences.
func (s *Store) Get() (ipc.ShellPreferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs, nil
}

// Set applies patch's non-nil fields, persists, and fires OnChange.
func (s *Store) Set(patch ipc.ShellPreferencesPatch) (ipc.ShellPreferences, error) {
	s.mu.Lock()
	if patch.MinimizeToTrayOnClose != nil {
		s.prefs.MinimizeToTrayOnClose = *patch.MinimizeToTrayOnClose
	}
	if patch.StartInTray != nil {
		s.prefs.StartInTray = *patch.StartInTray
	}
	if patch.SingleInstanceFocus != nil {
		s.prefs.SingleInstanceFocus = *patch.SingleInstanceFocus
	}
	if patch.NotificationsMuted != nil {
		s.prefs.NotificationsMuted = *patch.NotificationsMuted
	}
	if err := s.saveLocked(); err != nil {
		s.mu.Unlock()
		return ipc.ShellPreferences{}, err
	}
	current := s.prefs
	onChange := s.onChange
	s.mu.Unlock()

	if onChange != nil {
		onChange(current)
	}
	return current, nil
}

// Watch starts an fsnotify watch on the preferences file's directory,
// reloading and firing OnChange whenever the file itself is written.
// Watching the directory (not the file) survives editors that replace the
// file via rename-into-place rather than writing in place.
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return &weftErrors.ConfigError{Key: s.path, Reason: "failed to create shell preferences watcher", Cause: err}
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		watcher.Close()
		return &weftErrors.ConfigError{Key: s.path, Reason: "failed to create shell preferences directory", Cause: err}
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return &weftErrors.ConfigError{Key: s.path, Reason: "failed to watch shell preferences directory", Cause: err}
	}

	s.mu.Lock()
	s.watcher = watcher
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	go s.watchLoop(watcher, stopCh, doneCh)
	return nil
}

func (s *Store) watchLoop(watcher *fsnotify.Watcher, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.reloadAndNotify()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("shell preferences watch error", slog.String("error", err.Error()))
		}
	}
}

func (s *Store) reloadAndNotify() {
	s.mu.Lock()
	if err := s.loadLocked(); err != nil {
		s.mu.Unlock()
		s.logger.Warn("failed to reload shell preferences", slog.String("error", err.Error()))
		return
	}
	current := s.prefs
	onChange := s.onChange
	s.mu.Unlock()

	if onChange != nil {
		onChange(current)
	}
}

// Stop terminates the fsnotify watch started by Watch. Safe to call if
// Watch was never called.
func (s *Store) Stop() error {
	s.mu.Lock()
	watcher := s.watcher
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.watcher = nil
	s.mu.Unlock()

	if watcher == nil {
		return nil
	}
	close(stopCh)
	<-doneCh
	return watcher.Close()
}
