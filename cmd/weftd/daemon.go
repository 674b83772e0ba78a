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

// Command weftd is the Weft desktop shell's backend daemon: it owns the
// Runtime Actor, Index Store, Event Pump, and Attachment Handle Manager for
// one profile, and exposes them to the webview over a Unix-socket IPC
// transport speaking the v2 envelope.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coretommy/weft/internal/actor"
	"github.com/coretommy/weft/internal/attachment"
	"github.com/coretommy/weft/internal/config"
	"github.com/coretommy/weft/internal/eventpump"
	"github.com/coretommy/weft/internal/index"
	"github.com/coretommy/weft/internal/ipc"
	"github.com/coretommy/weft/internal/lifecycle"
	"github.com/coretommy/weft/internal/localauth"
	"github.com/coretommy/weft/internal/profilestore"
	"github.com/coretommy/weft/internal/runtime"
	"github.com/coretommy/weft/internal/selector"
	"github.com/coretommy/weft/internal/shell"
	"github.com/coretommy/weft/internal/shellprefs"
	"github.com/coretommy/weft/internal/telemetry"
)

// binaryMarker identifies an externally-managed mesh daemon process in its
// command line, checked by the ManagedSupervisor before the Actor takes a
// profile over with an embedded runtime.
const binaryMarker = "reticulumd"

type daemonOptions struct {
	profile     string
	rpc         string
	transport   string
	runtimeDir  string
	pidFilePath string
	localAuth   bool
	version     string
	logger      *slog.Logger
}

// daemon wires every domain collaborator together and exposes them over a
// Unix-socket HTTP listener.
type daemon struct {
	cfg     *config.Config
	opts    daemonOptions
	logger  *slog.Logger
	sel     selector.Selector
	profile *profilestore.Store

	idx         *index.Store
	attachments *attachment.Manager
	act         *actor.Actor
	pump        *eventpump.Pump
	prefs       *shellprefs.Store
	shell       *shell.Shell
	window      *hostWindow
	server      *ipc.Server
	provider    *telemetry.Provider

	signer *localauth.Signer
	token  string

	pidFile   *lifecycle.PIDFileManager
	lifecycle *lifecycle.LifecycleLogger

	httpServer *http.Server
	listener   net.Listener
	events     chan json.RawMessage
	bridge     *eventBridge

	startedAt time.Time
}

func newDaemon(cfg *config.Config, opts daemonOptions) (*daemon, error) {
	logger := opts.logger.With(slog.String("component", "weftd"))

	profileRoot := filepath.Join(cfg.Storage.DataDir, "profiles")
	profileStore := profilestore.New(profileRoot)
	sel, err := selector.Load(profileStore, firstNonEmpty(opts.profile, cfg.Selector.DefaultProfile), opts.rpc)
	if err != nil {
		return nil, fmt.Errorf("resolve selector: %w", err)
	}
	if opts.transport != "" {
		sel.Transport = opts.transport
	}

	idx, err := index.Open(cfg.Storage.IndexDBPath)
	if err != nil {
		return nil, fmt.Errorf("open index store: %w", err)
	}

	attachments := attachment.New(cfg.Storage.AttachmentCacheDir)
	if err := attachments.Configure(); err != nil {
		idx.Close()
		return nil, fmt.Errorf("configure attachment manager: %w", err)
	}

	provider, err := telemetry.NewProvider("weftd", opts.version)
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("create telemetry provider: %w", err)
	}
	collector := provider.Collector()
	collector.SetIndexGauges(idx)

	managed := actor.NewManagedSupervisor(filepath.Join(opts.runtimeDir, "managed"), binaryMarker, logger)
	// No real embedded-runtime implementation ships in this tree: the mesh
	// daemon itself (protocol, routing, crypto, peer discovery) is an
	// out-of-scope collaborator. runtime.NewFakeStarter exercises the full
	// Actor/Handle contract so the rest of the stack runs end to end.
	act := actor.Spawn(runtime.NewFakeStarter(), managed, collector, logger)

	events := make(chan json.RawMessage, 64)
	pump := eventpump.New(act, idx, events, collector, logger)

	prefsPath, err := config.ShellPreferencesPath()
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("resolve shell preferences path: %w", err)
	}
	prefs := shellprefs.New(prefsPath, logger)
	if err := prefs.Load(); err != nil {
		idx.Close()
		return nil, fmt.Errorf("load shell preferences: %w", err)
	}
	if err := prefs.Watch(); err != nil {
		logger.Warn("shell preferences watch disabled", slog.Any("error", err))
	}

	bridge := newEventBridge(logger)
	window := newHostWindow(bridge)
	sh := shell.New(window, bridge, prefs, act, *sel, logger)
	prefs.OnChange(sh.EmitPreferencesChanged)

	resolver := ipc.SelectorResolverFunc(func(profile, rpc string) (selector.Selector, error) {
		resolved, err := selector.Load(profileStore, firstNonEmpty(profile, sel.ProfileName), rpc)
		if err != nil {
			return selector.Selector{}, err
		}
		return *resolved, nil
	})

	server := ipc.New(act, idx, attachments, pump, prefs, resolver, logger)

	var signer *localauth.Signer
	var token string
	if opts.localAuth {
		secret, err := localauth.LoadOrCreateSecretFile(filepath.Join(opts.runtimeDir, "local-auth.secret"))
		if err != nil {
			idx.Close()
			return nil, fmt.Errorf("load local auth secret: %w", err)
		}
		signer = localauth.NewSigner(secret)
		token, err = signer.Issue(sel.ProfileName, localauth.DefaultTTL)
		if err != nil {
			idx.Close()
			return nil, fmt.Errorf("issue local auth token: %w", err)
		}
		if err := os.WriteFile(filepath.Join(opts.runtimeDir, "weftd.token"), []byte(token), 0600); err != nil {
			idx.Close()
			return nil, fmt.Errorf("write local auth token: %w", err)
		}
	}

	d := &daemon{
		cfg:         cfg,
		opts:        opts,
		logger:      logger,
		sel:         *sel,
		profile:     profileStore,
		idx:         idx,
		attachments: attachments,
		act:         act,
		pump:        pump,
		prefs:       prefs,
		shell:       sh,
		window:      window,
		server:      server,
		provider:    provider,
		signer:      signer,
		token:       token,
		pidFile:     lifecycle.NewPIDFileManager(opts.pidFilePath),
		lifecycle:   lifecycle.NewLifecycleLogger(filepath.Join(opts.runtimeDir, "lifecycle.log")),
		events:      events,
		bridge:      bridge,
		startedAt:   time.Now(),
	}
	return d, nil
}

// autoDaemonEnabled resolves WEFT_AUTO_DAEMON, falling back to the config
// file's selector.auto_daemon when the env var is unset.
func (d *daemon) autoDaemonEnabled() bool {
	if _, ok := os.LookupEnv("WEFT_AUTO_DAEMON"); ok {
		return selector.AutoDaemonEnabled()
	}
	if d.cfg.Selector.AutoDaemon != nil {
		return *d.cfg.Selector.AutoDaemon
	}
	return selector.AutoDaemonEnabled()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Serve creates the PID file, starts the pump, and blocks serving the IPC
// HTTP listener until ctx is cancelled.
func (d *daemon) Serve(ctx context.Context) error {
	if err := d.lifecycle.LogStart(d.opts.version, os.Args[1:], ""); err != nil {
		d.logger.Warn("failed to write lifecycle start event", slog.Any("error", err))
	}
	if err := d.pidFile.Create(os.Getpid()); err != nil {
		return fmt.Errorf("create pid file: %w", err)
	}

	if d.autoDaemonEnabled() {
		if _, err := d.act.Start(ctx, d.sel, d.sel.Transport); err != nil {
			d.logger.Warn("auto-start of embedded runtime failed", slog.Any("error", err))
		}
	}

	d.pump.Start(d.sel, eventpump.DefaultInterval)

	if err := os.RemoveAll(d.cfg.IPC.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", d.cfg.IPC.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.IPC.SocketPath, err)
	}
	if err := os.Chmod(d.cfg.IPC.SocketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	d.listener = listener

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case payload := <-d.events:
				d.bridge.Emit(shell.ChannelLXMFEvent, json.RawMessage(payload))
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/command", d.handleCommand)
	mux.HandleFunc("/v2/events", d.handleEvents)
	mux.HandleFunc("/v2/shell/action", d.handleShellAction)
	mux.HandleFunc("/healthz", d.handleHealthz)
	mux.Handle("/metrics", d.provider.Handler())

	d.httpServer = &http.Server{Handler: mux}

	if err := d.lifecycle.LogStartSuccess(os.Getpid(), 0, time.Since(d.startedAt)); err != nil {
		d.logger.Warn("failed to write lifecycle start_success event", slog.Any("error", err))
	}
	d.logger.Info("weftd listening", slog.String("socket", d.cfg.IPC.SocketPath), slog.String("profile", d.sel.ProfileName))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d.httpServer.Shutdown(shutdownCtx)
	}()

	if err := d.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve ipc listener: %w", err)
	}
	return nil
}

// Shutdown tears down every collaborator in reverse dependency order.
func (d *daemon) Shutdown(ctx context.Context) error {
	stoppedAt := time.Now()

	d.pump.Stop()
	if err := d.prefs.Stop(); err != nil {
		d.logger.Warn("failed to stop shell preferences watch", slog.Any("error", err))
	}
	if err := d.act.Shutdown(ctx); err != nil {
		d.logger.Warn("actor shutdown returned an error", slog.Any("error", err))
	}
	if err := d.idx.Close(); err != nil {
		d.logger.Warn("failed to close index store", slog.Any("error", err))
	}
	if err := d.pidFile.Remove(); err != nil {
		d.logger.Warn("failed to remove pid file", slog.Any("error", err))
	}
	if d.listener != nil {
		os.RemoveAll(d.cfg.IPC.SocketPath)
	}

	if err := d.lifecycle.LogStopSuccess(os.Getpid(), time.Since(stoppedAt)); err != nil {
		d.logger.Warn("failed to write lifecycle stop_success event", slog.Any("error", err))
	}
	return nil
}

func (d *daemon) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !d.idx.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type commandRequest struct {
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (d *daemon) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if d.signer != nil {
		if err := d.authorize(r); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"code":"validation","message":"` + err.Error() + `","retryable":false,"request_id":""}}`))
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req commandRequest
	if err := json.Unmarshal(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"validation","message":"malformed command envelope","retryable":false,"request_id":""}}`))
		return
	}

	resp := d.server.Handle(r.Context(), req.Command, req.Params)
	w.Header().Set("Content-Type", "application/json")
	w.Write(resp)
}

func (d *daemon) authorize(r *http.Request) error {
	header := r.Header.Get("Authorization")
	tokenStr, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return fmt.Errorf("missing bearer token")
	}
	_, err := d.signer.Verify(tokenStr, d.sel.ProfileName)
	return err
}
