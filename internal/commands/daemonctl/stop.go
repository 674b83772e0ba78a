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
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/coretommy/weft/internal/commands/shared"
	"github.com/coretommy/weft/internal/lifecycle"
)

// NewStopCommand creates the "weftctl stop" command.
func NewStopCommand() *cobra.Command {
	var (
		timeout time.Duration
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop weftd gracefully",
		Long: `Stop weftd gracefully.

Sends SIGTERM and waits for the process to exit. If it does not exit
within --timeout, sends SIGKILL. Use --force to skip the graceful phase.

stop is idempotent: if weftd is not running, it exits successfully after
removing any stale PID file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(stopOptions{timeout: timeout, force: force})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Graceful shutdown timeout before SIGKILL")
	cmd.Flags().BoolVar(&force, "force", false, "Send SIGKILL immediately, skipping graceful shutdown")

	return cmd
}

type stopOptions struct {
	timeout time.Duration
	force   bool
}

func runStop(opts stopOptions) error {
	t, err := resolveTarget()
	if err != nil {
		return fmt.Errorf("resolve weftd target: %w", err)
	}
	lifecycleLog := lifecycle.NewLifecycleLogger(lifecycleLogPath(t))

	pidMgr := lifecycle.NewPIDFileManager(t.pidFilePath)
	pid, err := pidMgr.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("weftd is not running (no PID file)")
			return nil
		}
		return fmt.Errorf("read pid file: %w", err)
	}

	if !lifecycle.IsProcessRunning(pid) {
		lifecycleLog.LogStalePID(pid, "process not running")
		fmt.Printf("weftd process %d is not running (removing stale PID file)\n", pid)
		return pidMgr.Remove()
	}
	if !lifecycle.IsDaemonProcess(pid, binaryMarker) {
		return fmt.Errorf("PID %d is not a weftd process (refusing to stop)", pid)
	}

	lifecycleLog.LogStop(pid, opts.force)
	fmt.Printf("Stopping weftd (PID %d)...\n", pid)
	startedAt := time.Now()

	if err := lifecycle.GracefulShutdown(pid, opts.timeout, opts.force); err != nil {
		lifecycleLog.LogStopFailure(pid, err)
		return fmt.Errorf("stop weftd: %w", err)
	}
	duration := time.Since(startedAt)

	if err := pidMgr.Remove(); err != nil {
		fmt.Fprintln(os.Stderr, shared.RenderWarn(fmt.Sprintf("failed to remove pid file: %v", err)))
	}
	lifecycleLog.LogStopSuccess(pid, duration)
	fmt.Println(shared.RenderOK("weftd stopped successfully"))
	return nil
}
