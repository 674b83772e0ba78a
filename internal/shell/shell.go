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

// Package shell implements the tray and window glue: preference toggling,
// event emission, and single-instance forwarding, behind a
// WindowController interface so none of it needs a real OS tray or window
// to test.
package shell

import (
	"context"
	"log/slog"

	"github.com/coretommy/weft/internal/ipc"
	"github.com/coretommy/weft/internal/runtime"
	"github.com/coretommy/weft/internal/selector"
)

// UI event channel names.
const (
	ChannelLXMFEvent      = "weft://lxmf-event"
	ChannelTrayAction     = "weft://tray-action"
	ChannelSingleInstance = "weft://single-instance"
)

// WindowController is the native windowing surface Shell drives. A real
// implementation wraps the host's tray/window toolkit; tests supply a
// recording fake.
type WindowController interface {
	ShowMainWindow()
	HideMainWindow()
	IsMainWindowVisible() bool
	FocusMainWindow()
	Quit()
}

// EventEmitter forwards a named payload to the webview's event bridge.
type EventEmitter interface {
	Emit(channel string, payload any)
}

// Prefs is the subset of *shellprefs.Store the shell glue reads and writes.
type Prefs interface {
	Get() (ipc.ShellPreferences, error)
	Set(patch ipc.ShellPreferencesPatch) (ipc.ShellPreferences, error)
}

// RuntimeDriver is the subset of *actor.Actor Reconnect Runtime needs.
type RuntimeDriver interface {
	StopAny(ctx context.Context) error
	Start(ctx context.Context, sel selector.Selector, transport string) (runtime.DaemonStatus, error)
}

// Shell wires the tray menu entries and main-window lifecycle hooks.
type Shell struct {
	window  WindowController
	emitter EventEmitter
	prefs   Prefs
	runtime RuntimeDriver
	sel     selector.Selector
	logger  *slog.Logger
}

// New builds a Shell. sel is the selector ReconnectRuntime restarts with
// (the env-default triple resolved once at startup).
func New(window WindowController, emitter EventEmitter, prefs Prefs, rt RuntimeDriver, sel selector.Selector, logger *slog.Logger) *Shell {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shell{window: window, emitter: emitter, prefs: prefs, runtime: rt, sel: sel, logger: logger.With(slog.String("component", "shell"))}
}

// Open shows and focuses the main window, the tray menu's "Open" entry.
func (s *Shell) Open() {
	s.window.ShowMainWindow()
	s.window.FocusMainWindow()
}

// ToggleMainWindowVisibility implements the tray icon's left-click gesture.
func (s *Shell) ToggleMainWindowVisibility() {
	if s.window.IsMainWindowVisible() {
		s.window.HideMainWindow()
		return
	}
	s.window.ShowMainWindow()
	s.window.FocusMainWindow()
}

// NewMessage implements the "New Message" tray entry: it only emits the
// action event, since composing and sending is the webview's job.
func (s *Shell) NewMessage() {
	s.emitTrayAction(map[string]any{"action": "new_message"})
}

// ReconnectRuntime implements the "Reconnect Runtime" tray entry:
// StopAny followed by Start against the env-default selector.
func (s *Shell) ReconnectRuntime(ctx context.Context) (runtime.DaemonStatus, error) {
	if err := s.runtime.StopAny(ctx); err != nil {
		s.logger.Debug("reconnect runtime: stop failed", slog.String("error", err.Error()))
	}
	return s.runtime.Start(ctx, s.sel, s.sel.Transport)
}

// ToggleNotificationsMuted flips notifications_muted, persists it through
// Prefs, and re-emits the mute tray action.
func (s *Shell) ToggleNotificationsMuted() (ipc.ShellPreferences, error) {
	current, err := s.prefs.Get()
	if err != nil {
		return ipc.ShellPreferences{}, err
	}
	muted := !current.NotificationsMuted
	updated, err := s.prefs.Set(ipc.ShellPreferencesPatch{NotificationsMuted: &muted})
	if err != nil {
		return ipc.ShellPreferences{}, err
	}
	s.emitTrayAction(map[string]any{"action": "notifications_muted", "muted": updated.NotificationsMuted})
	return updated, nil
}

// Quit implements the tray menu's "Quit" entry.
func (s *Shell) Quit() {
	s.window.Quit()
}

// HandleMainWindowCloseRequested implements the minimize-to-tray
// interception: when minimize_to_tray_on_close is set, the close is
// swallowed (the window is hidden, not destroyed) and true is returned so
// the host knows not to proceed with its own close/exit path.
func (s *Shell) HandleMainWindowCloseRequested() bool {
	prefs, err := s.prefs.Get()
	if err != nil {
		s.logger.Debug("close requested: failed to read preferences", slog.String("error", err.Error()))
		return false
	}
	if !prefs.MinimizeToTrayOnClose {
		return false
	}
	s.window.HideMainWindow()
	return true
}

// HandleSingleInstanceRequest implements the single-instance guard: a
// second launch forwards its argv/cwd here instead of starting its own
// process. When single_instance_focus is set, the existing window is
// focused and the request is forwarded on ChannelSingleInstance; the
// return value tells the host whether it handled the request (true) or
// the second launch should proceed on its own (false).
func (s *Shell) HandleSingleInstanceRequest(argv []string, cwd string) bool {
	prefs, err := s.prefs.Get()
	if err != nil {
		s.logger.Debug("single instance request: failed to read preferences", slog.String("error", err.Error()))
		return false
	}
	if !prefs.SingleInstanceFocus {
		return false
	}
	s.window.FocusMainWindow()
	s.emitter.Emit(ChannelSingleInstance, map[string]any{"argv": argv, "cwd": cwd})
	return true
}

// EmitPreferencesChanged re-emits the notifications_muted tray action for a
// preference change the Shell did not itself make (an external edit to
// desktop-shell.json picked up by shellprefs.Store's fsnotify watch). Wire
// this as the Store's OnChange callback.
func (s *Shell) EmitPreferencesChanged(prefs ipc.ShellPreferences) {
	s.emitTrayAction(map[string]any{"action": "notifications_muted", "muted": prefs.NotificationsMuted})
}

func (s *Shell) emitTrayAction(payload map[string]any) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(ChannelTrayAction, payload)
}
