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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coretommy/weft/internal/commands/shared"
)

// NewReindexCommand creates the "weftctl reindex" command.
func NewReindexCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Force the message index to rebuild from the runtime's history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex(cmd.Context())
		},
	}
}

func runReindex(ctx context.Context) error {
	t, err := resolveTarget()
	if err != nil {
		return fmt.Errorf("resolve weftd target: %w", err)
	}

	var result struct {
		Started bool `json:"started"`
	}
	if err := t.client().Call(ctx, "lxmf_force_reindex", nil, &result); err != nil {
		return shared.NewDaemonUnreachableError("request reindex", err)
	}
	fmt.Println(shared.RenderOK("reindex started"))
	return nil
}
