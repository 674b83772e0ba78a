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

package actor

import (
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/coretommy/weft/internal/lifecycle"
	weftlog "github.com/coretommy/weft/internal/log"
	"github.com/coretommy/weft/internal/selector"
)

// ManagedSupervisor stops an externally-managed mesh daemon for a profile
// before the Actor takes the profile over with an embedded runtime. It is
// the Go counterpart of stop_managed_profile_daemon: it never starts a
// daemon itself, only inspects and tears one down via its PID file.
type ManagedSupervisor struct {
	pidDir       string
	binaryMarker string
	stopTimeout  time.Duration
	logger       *slog.Logger
}

// NewManagedSupervisor builds a supervisor that looks for PID files under
// pidDir named "<profile>.pid" and only signals processes whose command
// line contains binaryMarker.
func NewManagedSupervisor(pidDir, binaryMarker string, logger *slog.Logger) *ManagedSupervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManagedSupervisor{
		pidDir:       pidDir,
		binaryMarker: binaryMarker,
		stopTimeout:  5 * time.Second,
		logger:       logger,
	}
}

func (m *ManagedSupervisor) pidFilePath(profile string) string {
	return filepath.Join(m.pidDir, profile+".pid")
}

// StopIfRunning stops the externally-managed daemon for sel's profile, if
// sel.Managed is set and a live, marker-matching process is found via its
// PID file. Stale or foreign PID files are removed and treated as "nothing
// to stop", never as an error.
func (m *ManagedSupervisor) StopIfRunning(sel selector.Selector) {
	if !sel.Managed {
		return
	}

	log := weftlog.WithSelector(m.logger, sel.ProfileName, sel.RPCEndpoint)
	manager := lifecycle.NewPIDFileManager(m.pidFilePath(sel.ProfileName))
	if !manager.Exists() {
		return
	}

	pid, err := manager.Read()
	if err != nil {
		log.Debug("stale pid file could not be read before embedded runtime start", "error", err)
		_ = manager.Remove()
		return
	}

	if !lifecycle.IsDaemonProcess(pid, m.binaryMarker) {
		log.Debug("pid file does not match managed daemon marker, treating as stale", "pid", pid)
		_ = manager.Remove()
		return
	}

	log.Warn("stopping external mesh daemon before embedded runtime start", "pid", pid)
	if err := lifecycle.GracefulShutdown(pid, m.stopTimeout, true); err != nil && !errors.Is(err, lifecycle.ErrProcessNotRunning) {
		log.Warn("failed to stop external mesh daemon before embedded start", "error", err)
	}
	_ = manager.Remove()
}
