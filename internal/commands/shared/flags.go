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

package shared

// Global flag values, set by the root command and read by subcommands.
var (
	jsonFlag    bool
	configFlag  string
	profileFlag string

	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlagPointers returns pointers to the persistent flag variables
// for binding on the root command.
func RegisterFlagPointers() (*bool, *string, *string) {
	return &jsonFlag, &configFlag, &profileFlag
}

// GetJSON reports whether --json output was requested.
func GetJSON() bool {
	return jsonFlag
}

// GetConfigPath returns the --config override, or "" for the default path.
func GetConfigPath() string {
	return configFlag
}

// GetProfile returns the --profile override, or "" for the daemon's default.
func GetProfile() string {
	return profileFlag
}

// SetVersion sets build-time version information, called from main.
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// GetVersion returns the build-time version information.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}
