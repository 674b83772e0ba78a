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

type probeReport struct {
	Profile string       `json:"profile"`
	Local   daemonStatus `json:"local"`
	RPC     struct {
		Reachable bool   `json:"reachable"`
		Endpoint  string `json:"endpoint"`
		Error     string `json:"error,omitempty"`
	} `json:"rpc"`
}

// NewProbeCommand creates the "weftctl probe" command.
func NewProbeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Probe the embedded runtime and its RPC reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context())
		},
	}
}

func runProbe(ctx context.Context) error {
	t, err := resolveTarget()
	if err != nil {
		return fmt.Errorf("resolve weftd target: %w", err)
	}
	client := t.client()

	var report probeReport
	params := map[string]string{"profile": shared.GetProfile()}
	if err := client.Call(ctx, "daemon_probe", params, &report); err != nil {
		return shared.NewDaemonUnreachableError("probe weftd", err)
	}

	if shared.GetJSON() {
		enc, _ := json.Marshal(report)
		fmt.Println(string(enc))
		return nil
	}

	fmt.Printf("%s %s\n", shared.RenderLabel("profile:"), report.Profile)
	fmt.Printf("  %s %s\n", shared.RenderLabel("embedded runtime:"), shared.RenderStatusLine(report.Local.Running))
	fmt.Printf("  %s %s (%s)\n", shared.RenderLabel("rpc:"), shared.RenderStatusLine(report.RPC.Reachable), report.RPC.Endpoint)
	if report.RPC.Error != "" {
		fmt.Printf("  %s %s\n", shared.RenderLabel("rpc error:"), report.RPC.Error)
	}
	return nil
}
