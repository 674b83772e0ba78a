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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/coretommy/weft/internal/config"
)

func testDaemon(t *testing.T, localAuth bool) *daemon {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	dataDir := t.TempDir()
	cfg := config.Defaults()
	cfg.Storage.DataDir = dataDir
	cfg.Storage.IndexDBPath = filepath.Join(dataDir, "index.db")
	cfg.Storage.AttachmentCacheDir = filepath.Join(dataDir, "attachments")
	cfg.IPC.SocketPath = filepath.Join(t.TempDir(), "weftd.sock")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d, err := newDaemon(cfg, daemonOptions{
		runtimeDir: t.TempDir(),
		localAuth:  localAuth,
		version:    "test",
		logger:     logger,
	})
	if err != nil {
		t.Fatalf("newDaemon: %v", err)
	}
	t.Cleanup(func() { d.idx.Close() })
	return d
}

func TestNewDaemon_AutoInitializesDefaultProfile(t *testing.T) {
	d := testDaemon(t, false)
	if d.sel.ProfileName != "default" {
		t.Fatalf("expected default profile, got %q", d.sel.ProfileName)
	}
}

func TestHandleHealthz_ReadyIndexReturns200(t *testing.T) {
	d := testDaemon(t, false)
	if err := d.idx.ReindexFromRuntimePayloads(nil, nil); err != nil {
		t.Fatalf("ReindexFromRuntimePayloads: %v", err)
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	d.handleHealthz(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleCommand_NoLocalAuthDispatchesDirectly(t *testing.T) {
	d := testDaemon(t, false)
	body, _ := json.Marshal(commandRequest{Command: "desktop_get_shell_preferences"})
	req := httptest.NewRequest(http.MethodPost, "/v2/command", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	d.handleCommand(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Ok *struct {
			Data json.RawMessage `json:"data"`
		} `json:"ok"`
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Error != nil {
		t.Fatalf("unexpected error envelope: %+v", env.Error)
	}
	if env.Ok == nil {
		t.Fatal("expected an ok envelope")
	}
}

func TestHandleCommand_RequiresBearerTokenWhenLocalAuthEnabled(t *testing.T) {
	d := testDaemon(t, true)
	body, _ := json.Marshal(commandRequest{Command: "desktop_get_shell_preferences"})
	req := httptest.NewRequest(http.MethodPost, "/v2/command", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	d.handleCommand(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/v2/command", bytes.NewReader(body))
	req2.Header.Set("Authorization", "Bearer "+d.token)
	rec2 := httptest.NewRecorder()
	d.handleCommand(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 with a valid bearer token, got %d: %s", rec2.Code, rec2.Body.String())
	}
}

func TestAuthorize_RejectsTokenForWrongProfile(t *testing.T) {
	d := testDaemon(t, true)
	other, err := d.signer.Issue("some-other-profile", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v2/command", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	if err := d.authorize(req); err == nil {
		t.Fatal("expected authorize to reject a token minted for a different profile")
	}
}

func TestShutdown_IsIdempotentAgainstUnstartedServe(t *testing.T) {
	d := testDaemon(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

