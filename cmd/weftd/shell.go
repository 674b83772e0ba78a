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

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/coretommy/weft/internal/ipc"
	"github.com/coretommy/weft/internal/shell"
)

// hostWindow implements shell.WindowController by relaying window intents
// to the webview host over the event stream. weftd owns no OS window; the
// host executes each intent, and the visibility flag tracks the daemon's
// view of the result so the tray toggle alternates correctly.
type hostWindow struct {
	bridge *eventBridge

	mu      sync.Mutex
	visible bool
}

func newHostWindow(bridge *eventBridge) *hostWindow {
	return &hostWindow{bridge: bridge, visible: true}
}

func (w *hostWindow) ShowMainWindow() {
	w.setVisible(true)
	w.bridge.Emit(shell.ChannelTrayAction, map[string]any{"action": "show_window"})
}

func (w *hostWindow) HideMainWindow() {
	w.setVisible(false)
	w.bridge.Emit(shell.ChannelTrayAction, map[string]any{"action": "hide_window"})
}

func (w *hostWindow) IsMainWindowVisible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible
}

func (w *hostWindow) FocusMainWindow() {
	w.bridge.Emit(shell.ChannelTrayAction, map[string]any{"action": "focus_window"})
}

func (w *hostWindow) Quit() {
	w.bridge.Emit(shell.ChannelTrayAction, map[string]any{"action": "quit"})
}

func (w *hostWindow) setVisible(visible bool) {
	w.mu.Lock()
	w.visible = visible
	w.mu.Unlock()
}

// shellActionRequest is the body of a POST /v2/shell/action call: the tray
// or host-side window hook being invoked, plus the single-instance payload
// when action is "single_instance".
type shellActionRequest struct {
	Action string   `json:"action"`
	Argv   []string `json:"argv,omitempty"`
	Cwd    string   `json:"cwd,omitempty"`
}

// handleShellAction routes tray menu entries and host window hooks through
// the shell glue.
func (d *daemon) handleShellAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if d.signer != nil {
		if err := d.authorize(r); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req shellActionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		d.writeShellResult(w, nil, fmt.Errorf("invalid request: must be a JSON object"))
		return
	}

	switch req.Action {
	case "open":
		d.shell.Open()
		d.writeShellResult(w, map[string]any{"done": true}, nil)
	case "toggle_window":
		d.shell.ToggleMainWindowVisibility()
		d.writeShellResult(w, map[string]any{"visible": d.window.IsMainWindowVisible()}, nil)
	case "new_message":
		d.shell.NewMessage()
		d.writeShellResult(w, map[string]any{"done": true}, nil)
	case "reconnect_runtime":
		status, err := d.shell.ReconnectRuntime(r.Context())
		d.writeShellResult(w, status, err)
	case "toggle_notifications_muted":
		prefs, err := d.shell.ToggleNotificationsMuted()
		d.writeShellResult(w, prefs, err)
	case "quit":
		d.shell.Quit()
		d.writeShellResult(w, map[string]any{"done": true}, nil)
	case "close_requested":
		handled := d.shell.HandleMainWindowCloseRequested()
		d.writeShellResult(w, map[string]any{"handled": handled}, nil)
	case "single_instance":
		handled := d.shell.HandleSingleInstanceRequest(req.Argv, req.Cwd)
		d.writeShellResult(w, map[string]any{"handled": handled}, nil)
	default:
		d.writeShellResult(w, nil, fmt.Errorf("invalid shell action %q", req.Action))
	}
}

func (d *daemon) writeShellResult(w http.ResponseWriter, data any, err error) {
	requestID := ipc.NewRequestID()
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		encoded, marshalErr := json.Marshal(ipc.NewErrorEnvelope(err, requestID))
		if marshalErr != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(encoded)
		return
	}
	encoded, marshalErr := json.Marshal(ipc.NewOkEnvelope(data, requestID))
	if marshalErr != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Write(encoded)
}
