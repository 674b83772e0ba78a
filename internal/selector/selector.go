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

// Package selector resolves the (profile, rpc, transport) triple that
// identifies which runtime the Actor should own, from explicit caller
// input, environment defaults, and the on-disk profile directory.
package selector

import (
	"os"
	"strings"

	weftErrors "github.com/coretommy/weft/pkg/errors"
)

const (
	envAutoDaemon       = "WEFT_AUTO_DAEMON"
	envDefaultProfile   = "WEFT_PROFILE"
	envDefaultRPC       = "WEFT_RPC"
	envDefaultTransport = "WEFT_TRANSPORT"

	// DefaultAutocreateRPC is used to auto-initialize the "default" profile
	// when it does not already exist and no rpc was supplied.
	DefaultAutocreateRPC = "rmap.world:4242"
)

// ProfileSettings is the on-disk shape of a profile, owned by the
// collaborator that manages profile directories. Only the fields the
// Actor and Selector need are represented here.
type ProfileSettings struct {
	RPC         string
	DisplayName string
	Managed     bool
	Transport   string
}

// ProfileResolver is the collaborator that owns profile directory layout,
// resolution, and initialization. Its internals are out of scope for this
// component; Selector only calls through this interface.
type ProfileResolver interface {
	// ResolveRuntimeProfileName maps a requested profile name to its
	// canonical on-disk name, failing if the profile does not exist.
	ResolveRuntimeProfileName(requested string) (string, error)

	// LoadProfileSettings reads the settings for an already-resolved
	// profile name.
	LoadProfileSettings(name string) (ProfileSettings, error)

	// InitProfile creates a new profile directory with the given RPC
	// endpoint, used only for the "default" profile's auto-create path.
	InitProfile(name string, managed bool, rpc string) error

	// SelectedProfileName returns the user's last-selected profile, if any
	// was ever recorded; ("", nil) if none.
	SelectedProfileName() (string, error)
}

// Selector is the resolved (profile, rpc, transport) triple that identifies
// which runtime the Actor should own. Immutable after construction.
type Selector struct {
	ProfileName string
	RPCEndpoint string
	Transport   string
	Managed     bool
	Settings    ProfileSettings
}

// Matches reports whether two selectors identify the same runtime.
func (s Selector) Matches(other Selector) bool {
	return s.ProfileName == other.ProfileName && s.RPCEndpoint == other.RPCEndpoint
}

// Load resolves a Selector from explicit arguments, falling back to
// environment defaults, then the last-selected profile, then "default".
// If the resolved profile is "default" and does not exist on disk, it is
// auto-initialized with DefaultAutocreateRPC (or the requested rpc, if
// supplied). Any other missing profile is a validation error.
func Load(resolver ProfileResolver, profile, rpc string) (*Selector, error) {
	requestedProfile := cleanArg(profile)
	if requestedProfile == "" {
		requestedProfile = cleanArg(DefaultProfile())
	}
	if requestedProfile == "" {
		requestedProfile = selectedProfileFallback(resolver)
	}
	if requestedProfile == "" {
		requestedProfile = "default"
	}

	requestedRPC := cleanArg(rpc)
	if requestedRPC == "" {
		requestedRPC = cleanArg(DefaultRPC())
	}

	if err := validateProfile(requestedProfile); err != nil {
		return nil, err
	}

	profileName, err := resolver.ResolveRuntimeProfileName(requestedProfile)
	if err != nil {
		if requestedProfile != "default" {
			return nil, &weftErrors.ValidationError{
				Field:   "profile",
				Message: "failed to resolve profile '" + requestedProfile + "': " + err.Error(),
			}
		}

		initRPC := requestedRPC
		if initRPC == "" {
			initRPC = DefaultAutocreateRPC
		}
		if err := validateRPC(initRPC); err != nil {
			return nil, err
		}
		if err := resolver.InitProfile(requestedProfile, false, initRPC); err != nil {
			return nil, &weftErrors.ValidationError{
				Field:   "profile",
				Message: "failed to initialize profile '" + requestedProfile + "': " + err.Error(),
			}
		}
		profileName = requestedProfile
	}

	settings, err := resolver.LoadProfileSettings(profileName)
	if err != nil {
		return nil, &weftErrors.ValidationError{Field: "profile", Message: err.Error()}
	}

	if requestedRPC != "" {
		if err := validateRPC(requestedRPC); err != nil {
			return nil, err
		}
		settings.RPC = requestedRPC
	}

	return &Selector{
		ProfileName: profileName,
		RPCEndpoint: settings.RPC,
		Transport:   settings.Transport,
		Managed:     settings.Managed,
		Settings:    settings,
	}, nil
}

func selectedProfileFallback(resolver ProfileResolver) string {
	name, err := resolver.SelectedProfileName()
	if err != nil {
		return ""
	}
	return cleanArg(name)
}

// AutoDaemonEnabled reports whether the daemon should be auto-started on
// launch and auto-stopped on exit. Defaults to true when unset or
// unparseable.
func AutoDaemonEnabled() bool {
	v, ok := parseBoolEnv(envAutoDaemon)
	if !ok {
		return true
	}
	return v
}

// DefaultTransport reads WEFT_TRANSPORT, trimmed; "" if unset.
func DefaultTransport() string {
	return cleanArg(os.Getenv(envDefaultTransport))
}

// DefaultProfile reads WEFT_PROFILE, trimmed; "" if unset.
func DefaultProfile() string {
	return cleanArg(os.Getenv(envDefaultProfile))
}

// DefaultRPC reads WEFT_RPC, trimmed; "" if unset.
func DefaultRPC() string {
	return cleanArg(os.Getenv(envDefaultRPC))
}

func cleanArg(v string) string {
	return strings.TrimSpace(v)
}

func parseBoolEnv(key string) (bool, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func validateProfile(value string) error {
	if len(value) == 0 || len(value) > 64 {
		return &weftErrors.ValidationError{Field: "profile", Message: "invalid profile length: must be 1-64 chars"}
	}
	for _, ch := range value {
		if !isProfileChar(ch) {
			return &weftErrors.ValidationError{Field: "profile", Message: "invalid profile chars: must be alphanumeric, '_', '-', or '.'"}
		}
	}
	return nil
}

func isProfileChar(ch rune) bool {
	switch {
	case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		return true
	case ch == '_', ch == '-', ch == '.':
		return true
	default:
		return false
	}
}

func validateRPC(value string) error {
	if len(value) == 0 || len(value) > 256 {
		return &weftErrors.ValidationError{Field: "rpc", Message: "invalid rpc length: must be 1-256 bytes"}
	}
	if strings.ContainsAny(value, "\n\r\x00") {
		return &weftErrors.ValidationError{Field: "rpc", Message: "invalid rpc chars: must not contain NUL, CR, or LF"}
	}
	return nil
}
