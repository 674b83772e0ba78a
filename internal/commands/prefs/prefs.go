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

// Package prefs implements "weftctl prefs get/set", a thin CLI surface
// over the desktop_get_shell_preferences/desktop_set_shell_preferences IPC
// commands, for scripting and debugging outside the webview.
package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/coretommy/weft/internal/commands/shared"
	"github.com/coretommy/weft/internal/config"
	"github.com/coretommy/weft/internal/ipcclient"
)

type shellPreferences struct {
	MinimizeToTrayOnClose bool `json:"minimize_to_tray_on_close"`
	StartInTray           bool `json:"start_in_tray"`
	SingleInstanceFocus   bool `json:"single_instance_focus"`
	NotificationsMuted    bool `json:"notifications_muted"`
}

type shellPreferencesPatch struct {
	MinimizeToTrayOnClose *bool `json:"minimize_to_tray_on_close,omitempty"`
	StartInTray           *bool `json:"start_in_tray,omitempty"`
	SingleInstanceFocus   *bool `json:"single_instance_focus,omitempty"`
	NotificationsMuted    *bool `json:"notifications_muted,omitempty"`
}

// NewCommand creates the "weftctl prefs" command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Read or update shell preferences (tray, notifications, single-instance focus)",
	}
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newSetCommand())
	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the current shell preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			var prefs shellPreferences
			if err := client.Call(cmd.Context(), "desktop_get_shell_preferences", nil, &prefs); err != nil {
				return shared.NewDaemonUnreachableError("read shell preferences", err)
			}
			return printPreferences(prefs)
		},
	}
}

func newSetCommand() *cobra.Command {
	var (
		minimizeToTray      *bool
		startInTray         *bool
		singleInstanceFocus *bool
		notificationsMuted  *bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update one or more shell preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			patch := shellPreferencesPatch{
				MinimizeToTrayOnClose: minimizeToTray,
				StartInTray:           startInTray,
				SingleInstanceFocus:   singleInstanceFocus,
				NotificationsMuted:    notificationsMuted,
			}
			var prefs shellPreferences
			if err := client.Call(cmd.Context(), "desktop_set_shell_preferences", patch, &prefs); err != nil {
				return shared.NewDaemonUnreachableError("update shell preferences", err)
			}
			return printPreferences(prefs)
		},
	}

	minimizeToTray = cmd.Flags().Bool("minimize-to-tray-on-close", false, "Minimize to tray instead of quitting on window close")
	startInTray = cmd.Flags().Bool("start-in-tray", false, "Start hidden in the tray")
	singleInstanceFocus = cmd.Flags().Bool("single-instance-focus", false, "Focus the existing window on a second launch")
	notificationsMuted = cmd.Flags().Bool("notifications-muted", false, "Suppress desktop notifications")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("minimize-to-tray-on-close") {
			minimizeToTray = nil
		}
		if !cmd.Flags().Changed("start-in-tray") {
			startInTray = nil
		}
		if !cmd.Flags().Changed("single-instance-focus") {
			singleInstanceFocus = nil
		}
		if !cmd.Flags().Changed("notifications-muted") {
			notificationsMuted = nil
		}
		return nil
	}

	return cmd
}

func printPreferences(prefs shellPreferences) error {
	if shared.GetJSON() {
		enc, err := json.Marshal(prefs)
		if err != nil {
			return err
		}
		fmt.Println(string(enc))
		return nil
	}
	fmt.Printf("%s %t\n", shared.RenderLabel("minimize_to_tray_on_close:"), prefs.MinimizeToTrayOnClose)
	fmt.Printf("%s %t\n", shared.RenderLabel("start_in_tray:"), prefs.StartInTray)
	fmt.Printf("%s %t\n", shared.RenderLabel("single_instance_focus:"), prefs.SingleInstanceFocus)
	fmt.Printf("%s %t\n", shared.RenderLabel("notifications_muted:"), prefs.NotificationsMuted)
	return nil
}

func newClient() (*ipcclient.Client, error) {
	runtimeDir, err := config.RuntimeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve runtime directory: %w", err)
	}
	socketPath := filepath.Join(runtimeDir, "weftd.sock")
	token := ""
	if data, err := os.ReadFile(filepath.Join(runtimeDir, "weftd.token")); err == nil {
		token = string(data)
	}
	return ipcclient.New(socketPath, token), nil
}
