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
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coretommy/weft/internal/commands/shared"
)

// daemonStatus mirrors internal/runtime.DaemonStatus without importing it,
// keeping weftctl decoupled from the daemon's internal packages.
type daemonStatus struct {
	Running   bool   `json:"running"`
	PID       *int   `json:"pid,omitempty"`
	RPC       string `json:"rpc"`
	Profile   string `json:"profile"`
	Managed   bool   `json:"managed"`
	Transport string `json:"transport,omitempty"`
}

// NewStatusCommand creates the "weftctl status" command.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether weftd and its embedded runtime are healthy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context())
		},
	}
}

func runStatus(ctx context.Context) error {
	t, err := resolveTarget()
	if err != nil {
		return fmt.Errorf("resolve weftd target: %w", err)
	}
	client := t.client()

	if !client.Healthy(ctx) {
		if shared.GetJSON() {
			enc, _ := json.Marshal(map[string]any{"reachable": false})
			fmt.Println(string(enc))
		} else {
			fmt.Println(shared.RenderError("weftd is not reachable at " + t.socketPath))
		}
		return &shared.ExitError{Code: shared.ExitDaemonUnreachable, Message: "weftd is not reachable"}
	}

	var status daemonStatus
	params := map[string]string{"profile": shared.GetProfile()}
	if err := client.Call(ctx, "daemon_status", params, &status); err != nil {
		return shared.NewDaemonUnreachableError("query weftd status", err)
	}

	if shared.GetJSON() {
		enc, _ := json.Marshal(status)
		fmt.Println(string(enc))
		return nil
	}

	fmt.Println(shared.RenderOK(fmt.Sprintf("weftd reachable (socket %s)", t.socketPath)))
	fmt.Printf("  %s %s\n", shared.RenderLabel("profile:"), status.Profile)
	fmt.Printf("  %s %s\n", shared.RenderLabel("rpc:"), status.RPC)
	if status.Running {
		fmt.Printf("  %s running", shared.RenderLabel("runtime:"))
		if status.PID != nil {
			fmt.Printf(" (pid %d)", *status.PID)
		}
		fmt.Println()
	} else {
		fmt.Printf("  %s %s\n", shared.RenderLabel("runtime:"), shared.RenderWarn("not running"))
	}
	return nil
}
