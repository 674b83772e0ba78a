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
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/coretommy/weft/internal/commands/shared"
	"github.com/coretommy/weft/internal/lifecycle"
)

// NewStartCommand creates the "weftctl start" command.
func NewStartCommand() *cobra.Command {
	var (
		foreground  bool
		timeout     time.Duration
		noLocalAuth bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start weftd in the background",
		Long: `Start weftd in the background.

By default weftd runs detached and writes a PID file. Use --foreground to
run it inline (useful under a process supervisor).

start is idempotent: if weftd is already running and healthy, it exits
successfully without spawning a second instance.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), startOptions{
				foreground:  foreground,
				timeout:     timeout,
				noLocalAuth: noLocalAuth,
			})
		},
	}

	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run weftd in the foreground instead of detaching it")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for weftd to become healthy")
	cmd.Flags().BoolVar(&noLocalAuth, "no-local-auth", false, "Disable weftd's local auth bearer token (development only)")

	return cmd
}

type startOptions struct {
	foreground  bool
	timeout     time.Duration
	noLocalAuth bool
}

func runStart(ctx context.Context, opts startOptions) error {
	t, err := resolveTarget()
	if err != nil {
		return fmt.Errorf("resolve weftd target: %w", err)
	}

	lifecycleLog := lifecycle.NewLifecycleLogger(lifecycleLogPath(t))
	args := buildDaemonArgs(t, opts)
	v, _, _ := shared.GetVersion()
	if err := lifecycleLog.LogStart(v, args, shared.GetConfigPath()); err != nil {
		fmt.Fprintln(os.Stderr, shared.RenderWarn(fmt.Sprintf("failed to write lifecycle log: %v", err)))
	}

	if opts.foreground {
		binary, err := weftdBinaryPath()
		if err != nil {
			return err
		}
		proc, err := os.StartProcess(binary, append([]string{binary}, args...), &os.ProcAttr{
			Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
		})
		if err != nil {
			return fmt.Errorf("run weftd in foreground: %w", err)
		}
		state, err := proc.Wait()
		if err != nil {
			return err
		}
		if !state.Success() {
			return &shared.ExitError{Code: shared.ExitCommandFailed, Message: "weftd exited with an error"}
		}
		return nil
	}

	pidMgr := lifecycle.NewPIDFileManager(t.pidFilePath)
	if existingPID, err := pidMgr.Read(); err == nil {
		if lifecycle.IsProcessRunning(existingPID) && lifecycle.IsDaemonProcess(existingPID, binaryMarker) {
			if t.client().Healthy(ctx) {
				lifecycleLog.LogAlreadyRunning(existingPID)
				fmt.Println(shared.RenderOK(fmt.Sprintf("weftd is already running (PID %d)", existingPID)))
				return nil
			}
			fmt.Fprintln(os.Stderr, shared.RenderWarn(fmt.Sprintf("weftd process %d exists but is unhealthy, starting a new instance", existingPID)))
		} else {
			lifecycleLog.LogStalePID(existingPID, "process not running")
			fmt.Fprintln(os.Stderr, shared.RenderWarn(fmt.Sprintf("removing stale PID file (process %d not running)", existingPID)))
			if err := pidMgr.Remove(); err != nil {
				return fmt.Errorf("remove stale pid file: %w", err)
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("check existing weftd: %w", err)
	}

	binary, err := weftdBinaryPath()
	if err != nil {
		return err
	}

	spawner := lifecycle.NewSpawner()
	pid, err := spawner.SpawnDetached(binary, args, t.logPath)
	if err != nil {
		lifecycleLog.LogStartFailure(err)
		return fmt.Errorf("spawn weftd: %w", err)
	}

	fmt.Printf("Starting weftd (PID %d)...\n", pid)
	startedAt := time.Now()
	if err := waitForHealthy(ctx, t, opts.timeout); err != nil {
		lifecycle.SendSignal(pid, 15)
		lifecycleLog.LogStartFailure(err)
		return fmt.Errorf("weftd failed to become healthy within %v: %w", opts.timeout, err)
	}
	duration := time.Since(startedAt)

	if err := pidMgr.Create(pid); err != nil {
		fmt.Fprintln(os.Stderr, shared.RenderWarn(fmt.Sprintf("weftd started but failed to write PID file: %v", err)))
		fmt.Println(shared.RenderOK(fmt.Sprintf("weftd started successfully (PID %d)", pid)))
		return nil
	}

	lifecycleLog.LogStartSuccess(pid, 0, duration)
	fmt.Println(shared.RenderOK(fmt.Sprintf("weftd started successfully (PID %d)", pid)))
	return nil
}

func buildDaemonArgs(t *target, opts startOptions) []string {
	args := []string{"--socket", t.socketPath, "--pid-file", t.pidFilePath}
	if shared.GetConfigPath() != "" {
		args = append(args, "--config", shared.GetConfigPath())
	}
	if shared.GetProfile() != "" {
		args = append(args, "--profile", shared.GetProfile())
	}
	if opts.noLocalAuth {
		args = append(args, "--no-local-auth")
	}
	return args
}

func weftdBinaryPath() (string, error) {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), "weftd")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	if path, err := exec.LookPath("weftd"); err == nil {
		return path, nil
	}
	return "", errors.New("could not locate a weftd binary next to weftctl or on PATH")
}

func lifecycleLogPath(t *target) string {
	return filepath.Join(t.runtimeDir, "lifecycle.log")
}

func waitForHealthy(ctx context.Context, t *target, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	interval := 100 * time.Millisecond
	const maxInterval = time.Second

	client := t.client()
	for time.Now().Before(deadline) {
		callCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		healthy := client.Healthy(callCtx)
		cancel()
		if healthy {
			return nil
		}
		time.Sleep(interval)
		interval = time.Duration(float64(interval) * 1.5)
		if interval > maxInterval {
			interval = maxInterval
		}
	}
	return errors.New("health check timeout")
}
