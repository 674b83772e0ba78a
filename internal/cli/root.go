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

// Package cli builds weftctl's Cobra command tree: starting, stopping, and
// probing weftd, and forwarding a handful of maintenance commands over its
// IPC transport.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/coretommy/weft/internal/commands/daemonctl"
	"github.com/coretommy/weft/internal/commands/prefs"
	"github.com/coretommy/weft/internal/commands/shared"
)

// SetVersion sets build-time version information, called from main.
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for weftctl.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weftctl",
		Short: "weftctl - control weftd, Weft's desktop shell backend",
		Long: `weftctl starts, stops, and inspects weftd, the daemon that gives the
Weft webview its mesh-messaging runtime, message index, and attachment cache.

Run 'weftctl start' to launch the daemon in the background.
Run 'weftctl status' to check whether it is healthy.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	json, config, profile := shared.RegisterFlagPointers()
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to weft.yaml (default: XDG config dir)")
	cmd.PersistentFlags().StringVar(profile, "profile", "", "Profile to target (default: weftd's own default)")

	cmd.AddCommand(daemonctl.NewStartCommand())
	cmd.AddCommand(daemonctl.NewStopCommand())
	cmd.AddCommand(daemonctl.NewStatusCommand())
	cmd.AddCommand(daemonctl.NewProbeCommand())
	cmd.AddCommand(daemonctl.NewReindexCommand())
	cmd.AddCommand(prefs.NewCommand())
	cmd.SetHelpCommand(NewHelpCommand(cmd))

	return cmd
}
