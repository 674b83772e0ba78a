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

package selector

import (
	"errors"
	"os"
	"strings"
	"testing"
)

type fakeResolver struct {
	resolved  map[string]string
	settings  map[string]ProfileSettings
	selected  string
	selectErr error
	initErr   error
	inited    map[string]ProfileSettings
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		resolved: map[string]string{},
		settings: map[string]ProfileSettings{},
		inited:   map[string]ProfileSettings{},
	}
}

func (f *fakeResolver) ResolveRuntimeProfileName(requested string) (string, error) {
	name, ok := f.resolved[requested]
	if !ok {
		return "", errors.New("profile not found: " + requested)
	}
	return name, nil
}

func (f *fakeResolver) LoadProfileSettings(name string) (ProfileSettings, error) {
	s, ok := f.settings[name]
	if !ok {
		return ProfileSettings{}, errors.New("no settings for " + name)
	}
	return s, nil
}

func (f *fakeResolver) InitProfile(name string, managed bool, rpc string) error {
	if f.initErr != nil {
		return f.initErr
	}
	s := ProfileSettings{RPC: rpc, Managed: managed}
	f.inited[name] = s
	f.settings[name] = s
	f.resolved[name] = name
	return nil
}

func (f *fakeResolver) SelectedProfileName() (string, error) {
	if f.selectErr != nil {
		return "", f.selectErr
	}
	return f.selected, nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{envAutoDaemon, envDefaultProfile, envDefaultRPC, envDefaultTransport} {
		os.Unsetenv(k)
	}
}

func TestLoad_ExplicitArgsWin(t *testing.T) {
	clearEnv(t)
	r := newFakeResolver()
	r.resolved["work"] = "work"
	r.settings["work"] = ProfileSettings{RPC: "old.example:1111", Transport: "tcpclient"}

	sel, err := Load(r, "work", "new.example:2222")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if sel.ProfileName != "work" {
		t.Errorf("ProfileName = %q, want work", sel.ProfileName)
	}
	if sel.RPCEndpoint != "new.example:2222" {
		t.Errorf("RPCEndpoint = %q, want explicit override", sel.RPCEndpoint)
	}
}

func TestLoad_FallsBackToEnvDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv(envDefaultProfile, "envprofile")
	os.Setenv(envDefaultRPC, "env.example:3333")
	defer clearEnv(t)

	r := newFakeResolver()
	r.resolved["envprofile"] = "envprofile"
	r.settings["envprofile"] = ProfileSettings{RPC: "fallback.example:1"}

	sel, err := Load(r, "", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if sel.ProfileName != "envprofile" {
		t.Errorf("ProfileName = %q, want envprofile", sel.ProfileName)
	}
	if sel.RPCEndpoint != "env.example:3333" {
		t.Errorf("RPCEndpoint = %q, want env.example:3333", sel.RPCEndpoint)
	}
}

func TestLoad_FallsBackToSelectedProfile(t *testing.T) {
	clearEnv(t)
	r := newFakeResolver()
	r.selected = "chosen"
	r.resolved["chosen"] = "chosen"
	r.settings["chosen"] = ProfileSettings{RPC: "chosen.example:1"}

	sel, err := Load(r, "", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if sel.ProfileName != "chosen" {
		t.Errorf("ProfileName = %q, want chosen", sel.ProfileName)
	}
}

func TestLoad_AutoInitializesDefaultProfile(t *testing.T) {
	clearEnv(t)
	r := newFakeResolver()

	sel, err := Load(r, "", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if sel.ProfileName != "default" {
		t.Errorf("ProfileName = %q, want default", sel.ProfileName)
	}
	if sel.RPCEndpoint != DefaultAutocreateRPC {
		t.Errorf("RPCEndpoint = %q, want %q", sel.RPCEndpoint, DefaultAutocreateRPC)
	}
	if _, ok := r.inited["default"]; !ok {
		t.Error("expected InitProfile to be called for default")
	}
}

func TestLoad_AutoInitializesDefaultProfileWithRequestedRPC(t *testing.T) {
	clearEnv(t)
	r := newFakeResolver()

	sel, err := Load(r, "", "custom.example:9999")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if sel.RPCEndpoint != "custom.example:9999" {
		t.Errorf("RPCEndpoint = %q, want custom.example:9999", sel.RPCEndpoint)
	}
}

func TestLoad_MissingNonDefaultProfileIsError(t *testing.T) {
	clearEnv(t)
	r := newFakeResolver()

	_, err := Load(r, "ghost", "")
	if err == nil {
		t.Fatal("Load() expected error for missing non-default profile")
	}
	if !strings.Contains(err.Error(), "invalid") && !strings.Contains(err.Error(), "failed to resolve") {
		t.Errorf("error %v missing expected classification substring", err)
	}
}

func TestLoad_RejectsInvalidProfileName(t *testing.T) {
	clearEnv(t)
	r := newFakeResolver()

	_, err := Load(r, "bad profile!", "")
	if err == nil {
		t.Fatal("Load() expected error for invalid profile name")
	}
	if !strings.Contains(err.Error(), "invalid") {
		t.Errorf("error %v missing 'invalid' substring", err)
	}
}

func TestLoad_RejectsInvalidRPC(t *testing.T) {
	clearEnv(t)
	r := newFakeResolver()
	r.resolved["work"] = "work"
	r.settings["work"] = ProfileSettings{RPC: "old.example:1"}

	_, err := Load(r, "work", "bad\nrpc")
	if err == nil {
		t.Fatal("Load() expected error for invalid rpc")
	}
	if !strings.Contains(err.Error(), "invalid") {
		t.Errorf("error %v missing 'invalid' substring", err)
	}
}

func TestAutoDaemonEnabled(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	if !AutoDaemonEnabled() {
		t.Error("AutoDaemonEnabled() with unset env = false, want true (default)")
	}

	os.Setenv(envAutoDaemon, "off")
	if AutoDaemonEnabled() {
		t.Error("AutoDaemonEnabled() with WEFT_AUTO_DAEMON=off = true, want false")
	}

	os.Setenv(envAutoDaemon, "1")
	if !AutoDaemonEnabled() {
		t.Error("AutoDaemonEnabled() with WEFT_AUTO_DAEMON=1 = false, want true")
	}

	os.Setenv(envAutoDaemon, "garbage")
	if !AutoDaemonEnabled() {
		t.Error("AutoDaemonEnabled() with unparseable value should default true")
	}
}

func TestDefaultEnvReaders(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	if DefaultTransport() != "" || DefaultProfile() != "" || DefaultRPC() != "" {
		t.Error("default env readers should be empty when unset")
	}

	os.Setenv(envDefaultTransport, "  tcpclient  ")
	if DefaultTransport() != "tcpclient" {
		t.Errorf("DefaultTransport() = %q, want trimmed tcpclient", DefaultTransport())
	}
}

func TestValidateProfile(t *testing.T) {
	cases := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"valid simple", "default", false},
		{"valid with dots and dashes", "work-profile.v2_1", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 65), true},
		{"spaces", "bad profile", true},
		{"slash", "bad/profile", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateProfile(tc.value)
			if tc.wantErr && err == nil {
				t.Errorf("validateProfile(%q) = nil, want error", tc.value)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("validateProfile(%q) = %v, want nil", tc.value, err)
			}
		})
	}
}

func TestValidateRPC(t *testing.T) {
	cases := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"valid host:port", "rmap.world:4242", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 257), true},
		{"newline", "host:1\n", true},
		{"nul byte", "host:1\x00", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateRPC(tc.value)
			if tc.wantErr && err == nil {
				t.Errorf("validateRPC(%q) = nil, want error", tc.value)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("validateRPC(%q) = %v, want nil", tc.value, err)
			}
		})
	}
}

func TestSelectorMatches(t *testing.T) {
	a := Selector{ProfileName: "default", RPCEndpoint: "rmap.world:4242"}
	b := Selector{ProfileName: "default", RPCEndpoint: "rmap.world:4242"}
	c := Selector{ProfileName: "other", RPCEndpoint: "rmap.world:4242"}

	if !a.Matches(b) {
		t.Error("expected identical selectors to match")
	}
	if a.Matches(c) {
		t.Error("expected selectors with different profiles not to match")
	}
}
