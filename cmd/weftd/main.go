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

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coretommy/weft/internal/config"
	weftlog "github.com/coretommy/weft/internal/log"
)

// Version information, injected via ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to weft.yaml (default: XDG config dir)")
		profileName = flag.String("profile", "", "Profile to own (default: env/selected/\"default\")")
		rpc         = flag.String("rpc", "", "RPC endpoint override")
		transport   = flag.String("transport", "", "Transport bind override")
		socketPath  = flag.String("socket", "", "Unix socket path (default: XDG runtime dir)")
		pidFile     = flag.String("pid-file", "", "PID file path (default: XDG runtime dir)")
		noLocalAuth = flag.Bool("no-local-auth", false, "Disable the local auth bearer token (development only)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("weftd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := weftlog.New(weftlog.FromEnv())
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	runtimeDir, err := config.RuntimeDir()
	if err != nil {
		logger.Error("failed to resolve runtime directory", slog.Any("error", err))
		os.Exit(1)
	}

	if *socketPath != "" {
		cfg.IPC.SocketPath = *socketPath
	}
	if cfg.IPC.SocketPath == "" {
		cfg.IPC.SocketPath = filepath.Join(runtimeDir, "weftd.sock")
	}

	pidPath := *pidFile
	if pidPath == "" {
		pidPath = filepath.Join(runtimeDir, "weftd.pid")
	}

	d, err := newDaemon(cfg, daemonOptions{
		profile:     *profileName,
		rpc:         *rpc,
		transport:   *transport,
		runtimeDir:  runtimeDir,
		pidFilePath: pidPath,
		localAuth:   !*noLocalAuth,
		version:     version,
		logger:      logger,
	})
	if err != nil {
		logger.Error("failed to initialize weftd", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Serve(ctx) }()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("daemon error", slog.Any("error", err))
			os.Exit(1)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := d.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during shutdown", slog.Any("error", err))
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadDefaultPath()
}
