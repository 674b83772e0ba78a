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

package cli

import (
	"testing"

	"github.com/coretommy/weft/internal/commands/shared"
)

func TestNewRootCommand_RegistersExpectedSubcommands(t *testing.T) {
	root := NewRootCommand()
	want := []string{"start", "stop", "status", "probe", "reindex", "prefs"}
	for _, name := range want {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("expected subcommand %q to be registered, got err=%v", name, err)
		}
	}
}

func TestNewRootCommand_RegistersPersistentFlags(t *testing.T) {
	root := NewRootCommand()
	for _, name := range []string{"json", "config", "profile"} {
		if root.PersistentFlags().Lookup(name) == nil {
			t.Fatalf("expected persistent flag --%s", name)
		}
	}
}

func TestSetVersion_RoundTrips(t *testing.T) {
	SetVersion("1.2.3", "abcdef", "2026-01-01")
	v, c, b := shared.GetVersion()
	if v != "1.2.3" || c != "abcdef" || b != "2026-01-01" {
		t.Fatalf("unexpected version info: %s %s %s", v, c, b)
	}
}
