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

package daemonctl

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveTarget_DerivesPathsFromRuntimeDir(t *testing.T) {
	runtimeDir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	target, err := resolveTarget()
	if err != nil {
		t.Fatalf("resolveTarget: %v", err)
	}
	if target.socketPath != filepath.Join(runtimeDir, "weft", "weftd.sock") {
		t.Fatalf("unexpected socket path: %q", target.socketPath)
	}
	if target.pidFilePath != filepath.Join(runtimeDir, "weft", "weftd.pid") {
		t.Fatalf("unexpected pid file path: %q", target.pidFilePath)
	}
}

func TestTargetClient_ReadsTokenFileWhenPresent(t *testing.T) {
	runtimeDir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	target, err := resolveTarget()
	if err != nil {
		t.Fatalf("resolveTarget: %v", err)
	}
	if err := os.WriteFile(target.tokenPath, []byte("sekrit"), 0600); err != nil {
		t.Fatalf("write token file: %v", err)
	}

	// client() should not error even though nothing is listening; Healthy
	// is exercised against a fake server in internal/ipcclient's own tests.
	if target.client() == nil {
		t.Fatal("expected a non-nil client")
	}
}
