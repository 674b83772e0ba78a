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

// Package daemonctl implements weftctl's start/stop/status/probe/reindex
// subcommands: starting and stopping the weftd process, and forwarding
// maintenance commands over its IPC transport.
package daemonctl

import (
	"os"
	"path/filepath"

	"github.com/coretommy/weft/internal/commands/shared"
	"github.com/coretommy/weft/internal/config"
	"github.com/coretommy/weft/internal/ipcclient"
)

// binaryMarker identifies a weftd process in its command line, checked
// before weftctl acts on a PID it did not itself spawn.
const binaryMarker = "weftd"

// target bundles the paths and config weftctl needs to control one weftd
// instance.
type target struct {
	cfg         *config.Config
	runtimeDir  string
	socketPath  string
	pidFilePath string
	logPath     string
	tokenPath   string
}

func resolveTarget() (*target, error) {
	var cfg *config.Config
	var err error
	if path := shared.GetConfigPath(); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadDefaultPath()
	}
	if err != nil {
		return nil, err
	}

	runtimeDir, err := config.RuntimeDir()
	if err != nil {
		return nil, err
	}
	if cfg.IPC.SocketPath == "" {
		cfg.IPC.SocketPath = filepath.Join(runtimeDir, "weftd.sock")
	}

	return &target{
		cfg:         cfg,
		runtimeDir:  runtimeDir,
		socketPath:  cfg.IPC.SocketPath,
		pidFilePath: filepath.Join(runtimeDir, "weftd.pid"),
		logPath:     filepath.Join(runtimeDir, "weftd.log"),
		tokenPath:   filepath.Join(runtimeDir, "weftd.token"),
	}, nil
}

// client builds an ipcclient.Client against this target, reading the local
// auth token from disk if weftd wrote one.
func (t *target) client() *ipcclient.Client {
	token := ""
	if data, err := os.ReadFile(t.tokenPath); err == nil {
		token = string(data)
	}
	return ipcclient.New(t.socketPath, token)
}
