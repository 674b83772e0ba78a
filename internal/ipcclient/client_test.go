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

package ipcclient

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startFakeServer(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "weftd.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	server := &http.Server{Handler: handler}
	go server.Serve(listener)
	t.Cleanup(func() { server.Close() })

	return socketPath
}

func TestCall_DecodesOkEnvelope(t *testing.T) {
	var gotAuth string
	socketPath := startFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":{"data":{"running":true},"meta":{"request_id":"weft-1","schema_version":"v2"}}}`))
	})

	client := New(socketPath, "secret-token")
	var result struct {
		Running bool `json:"running"`
	}
	require.NoError(t, client.Call(context.Background(), "daemon_status", nil, &result))
	assert.True(t, result.Running)
	assert.Equal(t, "Bearer secret-token", gotAuth)
}

func TestCall_ReturnsCommandError(t *testing.T) {
	socketPath := startFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"code":"validation","message":"destination is required","retryable":false,"request_id":"weft-2"}}`))
	})

	client := New(socketPath, "")
	err := client.Call(context.Background(), "lxmf_send_message", nil, nil)
	require.Error(t, err)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "validation", cmdErr.Body.Code)
	assert.False(t, cmdErr.Body.Retryable)
}

func TestCall_EncodesParams(t *testing.T) {
	var gotBody map[string]any
	socketPath := startFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"ok":{"data":null,"meta":{"request_id":"weft-3","schema_version":"v2"}}}`))
	})

	client := New(socketPath, "")
	params := map[string]string{"profile": "work"}
	require.NoError(t, client.Call(context.Background(), "daemon_probe", params, nil))
	assert.Equal(t, "daemon_probe", gotBody["command"])
}

func TestHealthy_TrueOn200(t *testing.T) {
	socketPath := startFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	client := New(socketPath, "")
	assert.True(t, client.Healthy(context.Background()))
}

func TestHealthy_FalseWhenUnreachable(t *testing.T) {
	client := New(filepath.Join(t.TempDir(), "missing.sock"), "")
	assert.False(t, client.Healthy(context.Background()))
}
