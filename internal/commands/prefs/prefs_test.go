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

package prefs

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/coretommy/weft/internal/config"
)

func startFakePrefsServer(t *testing.T) {
	t.Helper()
	runtimeDir, err := config.RuntimeDir()
	if err != nil {
		t.Fatalf("RuntimeDir: %v", err)
	}
	socketPath := filepath.Join(runtimeDir, "weftd.sock")

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Command string          `json:"command"`
			Params  json.RawMessage `json:"params"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		prefs := shellPreferences{NotificationsMuted: true}
		if req.Command == "desktop_set_shell_preferences" {
			var patch shellPreferencesPatch
			json.Unmarshal(req.Params, &patch)
			if patch.NotificationsMuted != nil {
				prefs.NotificationsMuted = *patch.NotificationsMuted
			}
		}
		data, _ := json.Marshal(prefs)
		w.Write(bytes.Join([][]byte{[]byte(`{"ok":{"data":`), data, []byte(`,"meta":{"request_id":"t","schema_version":"v2"}}}`)}, nil))
	})}
	go server.Serve(listener)
	t.Cleanup(func() { server.Close() })
}

func TestNewClient_DialsRuntimeDirSocket(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	startFakePrefsServer(t)

	client, err := newClient()
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}
	var prefs shellPreferences
	if err := client.Call(context.Background(), "desktop_get_shell_preferences", nil, &prefs); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !prefs.NotificationsMuted {
		t.Fatal("expected NotificationsMuted to be true from the fake server")
	}
}
