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

// Package actor implements the Runtime Actor: a single worker goroutine
// that owns at most one runtime.Handle and serializes every daemon
// operation (probe, start, stop, restart, RPC, typed send, event poll)
// behind a buffered command channel.
package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	weftErrors "github.com/coretommy/weft/pkg/errors"

	"github.com/coretommy/weft/internal/runtime"
	"github.com/coretommy/weft/internal/selector"
	"github.com/coretommy/weft/internal/telemetry"
)

const commandQueueSize = 32

type kind int

const (
	kindProbe kind = iota
	kindStatus
	kindStart
	kindStop
	kindRestart
	kindRpc
	kindSendMessage
	kindSendCommand
	kindPollEvent
	kindStopAny
	kindShutdown
)

type reply struct {
	data any
	err  error
}

type request struct {
	kind      kind
	selector  selector.Selector
	transport string
	method    string
	params    json.RawMessage
	sendMsg   runtime.SendMessageRequest
	sendCmd   runtime.SendCommandRequest
	respondTo chan reply
}

// Actor is the single-owner serialization point for all daemon operations.
// Safe for concurrent use: every public method sends a request down an
// internal channel and blocks on a one-shot reply.
type Actor struct {
	tx      chan request
	starter runtime.Starter
	managed *ManagedSupervisor
	metrics *telemetry.Collector
	logger  *slog.Logger
	done    chan struct{}
}

// Spawn starts the worker goroutine and returns a ready Actor. managed may
// be nil if no externally-managed daemon teardown is needed (e.g. in
// tests). metrics may be nil to disable command instrumentation.
func Spawn(starter runtime.Starter, managed *ManagedSupervisor, metrics *telemetry.Collector, logger *slog.Logger) *Actor {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Actor{
		tx:      make(chan request, commandQueueSize),
		starter: starter,
		managed: managed,
		metrics: metrics,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Actor) send(ctx context.Context, req request) (any, error) {
	req.respondTo = make(chan reply, 1)
	select {
	case a.tx <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.done:
		return nil, &weftErrors.RuntimeError{Op: commandName(req.kind), Message: "runtime worker unavailable"}
	}

	select {
	case r := <-req.respondTo:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func commandName(k kind) string {
	switch k {
	case kindProbe:
		return "probe"
	case kindStatus:
		return "status"
	case kindStart:
		return "start"
	case kindStop:
		return "stop"
	case kindRestart:
		return "restart"
	case kindRpc:
		return "rpc"
	case kindSendMessage:
		return "send_message"
	case kindSendCommand:
		return "send_command"
	case kindPollEvent:
		return "poll_event"
	case kindStopAny:
		return "stop_any"
	case kindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Probe returns a combined local/rpc/events reachability report.
func (a *Actor) Probe(ctx context.Context, sel selector.Selector) (runtime.ProbeReport, error) {
	v, err := a.send(ctx, request{kind: kindProbe, selector: sel})
	if err != nil {
		return runtime.ProbeReport{}, err
	}
	return v.(runtime.ProbeReport), nil
}

// Status returns the current daemon status for sel, synthetic if no
// matching handle is held.
func (a *Actor) Status(ctx context.Context, sel selector.Selector) (runtime.DaemonStatus, error) {
	v, err := a.send(ctx, request{kind: kindStatus, selector: sel})
	if err != nil {
		return runtime.DaemonStatus{}, err
	}
	return v.(runtime.DaemonStatus), nil
}

// Start creates a handle for sel if none matching is already held.
func (a *Actor) Start(ctx context.Context, sel selector.Selector, transport string) (runtime.DaemonStatus, error) {
	v, err := a.send(ctx, request{kind: kindStart, selector: sel, transport: transport})
	if err != nil {
		return runtime.DaemonStatus{}, err
	}
	return v.(runtime.DaemonStatus), nil
}

// Stop drops whatever handle is held and returns a synthetic stopped
// status for sel.
func (a *Actor) Stop(ctx context.Context, sel selector.Selector) (runtime.DaemonStatus, error) {
	v, err := a.send(ctx, request{kind: kindStop, selector: sel})
	if err != nil {
		return runtime.DaemonStatus{}, err
	}
	return v.(runtime.DaemonStatus), nil
}

// Restart stops whatever handle is held, then starts one for sel.
func (a *Actor) Restart(ctx context.Context, sel selector.Selector, transport string) (runtime.DaemonStatus, error) {
	v, err := a.send(ctx, request{kind: kindRestart, selector: sel, transport: transport})
	if err != nil {
		return runtime.DaemonStatus{}, err
	}
	return v.(runtime.DaemonStatus), nil
}

// Rpc delegates an arbitrary method call to the handle for sel, lazily
// restarting it first on a selector mismatch.
func (a *Actor) Rpc(ctx context.Context, sel selector.Selector, method string, params json.RawMessage) (json.RawMessage, error) {
	v, err := a.send(ctx, request{kind: kindRpc, selector: sel, method: method, params: params})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// SendMessage delegates a typed send to the handle for sel.
func (a *Actor) SendMessage(ctx context.Context, sel selector.Selector, req runtime.SendMessageRequest) (json.RawMessage, error) {
	v, err := a.send(ctx, request{kind: kindSendMessage, selector: sel, sendMsg: req})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// SendCommand delegates a typed command send to the handle for sel.
func (a *Actor) SendCommand(ctx context.Context, sel selector.Selector, req runtime.SendCommandRequest) (json.RawMessage, error) {
	v, err := a.send(ctx, request{kind: kindSendCommand, selector: sel, sendCmd: req})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// PollEvent drains one event from the handle for sel, lazily restarting
// it first on a selector mismatch.
func (a *Actor) PollEvent(ctx context.Context, sel selector.Selector) (json.RawMessage, error) {
	v, err := a.send(ctx, request{kind: kindPollEvent, selector: sel})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(json.RawMessage), nil
}

// StopAny drops whatever handle is held, regardless of selector.
func (a *Actor) StopAny(ctx context.Context) error {
	_, err := a.send(ctx, request{kind: kindStopAny})
	return err
}

// Shutdown drops whatever handle is held and terminates the worker
// goroutine. The Actor must not be used after Shutdown returns.
func (a *Actor) Shutdown(ctx context.Context) error {
	_, err := a.send(ctx, request{kind: kindShutdown})
	return err
}

func (a *Actor) run() {
	var handle runtime.Handle

	for req := range a.tx {
		start := time.Now()
		data, err, exit := a.handle(&handle, req)
		if a.metrics != nil {
			a.metrics.RecordCommand(context.Background(), commandName(req.kind), req.selector.ProfileName, err == nil, time.Since(start))
		}
		select {
		case req.respondTo <- reply{data: data, err: err}:
		default:
		}
		if exit {
			break
		}
	}
	close(a.done)
}

func (a *Actor) handle(handle *runtime.Handle, req request) (data any, err error, exit bool) {
	switch req.kind {
	case kindProbe:
		return a.probe(*handle, req.selector), nil, false
	case kindStatus:
		return a.status(*handle, req.selector), nil, false
	case kindStart:
		h, status, startErr := a.start(*handle, req.selector, req.transport)
		*handle = h
		return status, startErr, false
	case kindStop:
		if *handle != nil {
			(*handle).Stop()
			*handle = nil
		}
		return stoppedStatus(req.selector), nil, false
	case kindRestart:
		if *handle != nil {
			(*handle).Stop()
			*handle = nil
		}
		h, status, startErr := a.start(nil, req.selector, req.transport)
		*handle = h
		return status, startErr, false
	case kindRpc:
		h, rerr := a.ensure(handle, req.selector)
		if rerr != nil {
			return nil, rerr, false
		}
		result, callErr := h.Call(context.Background(), req.method, req.params)
		return result, wrapRuntimeErr(callErr, req.selector, "rpc"), false
	case kindSendMessage:
		h, rerr := a.ensure(handle, req.selector)
		if rerr != nil {
			return nil, rerr, false
		}
		result, sendErr := h.SendMessage(context.Background(), req.sendMsg)
		return result, wrapRuntimeErr(sendErr, req.selector, "send_message"), false
	case kindSendCommand:
		h, rerr := a.ensure(handle, req.selector)
		if rerr != nil {
			return nil, rerr, false
		}
		result, sendErr := h.SendCommand(context.Background(), req.sendCmd)
		return result, wrapRuntimeErr(sendErr, req.selector, "send_command"), false
	case kindPollEvent:
		h, rerr := a.ensure(handle, req.selector)
		if rerr != nil {
			return nil, rerr, false
		}
		result, pollErr := h.PollEvent(context.Background())
		return result, wrapRuntimeErr(pollErr, req.selector, "poll_event"), false
	case kindStopAny:
		if *handle != nil {
			(*handle).Stop()
			*handle = nil
		}
		return nil, nil, false
	case kindShutdown:
		if *handle != nil {
			(*handle).Stop()
			*handle = nil
		}
		return nil, nil, true
	default:
		return nil, fmt.Errorf("unknown actor command"), false
	}
}

func matches(h runtime.Handle, sel selector.Selector) bool {
	if h == nil {
		return false
	}
	return h.Profile() == sel.ProfileName && h.RPC() == sel.RPCEndpoint
}

func (a *Actor) probe(h runtime.Handle, sel selector.Selector) runtime.ProbeReport {
	if matches(h, sel) {
		return h.Probe()
	}
	status := stoppedStatus(sel)
	return runtime.ProbeReport{
		Profile: sel.ProfileName,
		Local:   status,
		RPC: runtime.RpcProbeReport{
			Reachable: false,
			Endpoint:  sel.RPCEndpoint,
			Errors:    []string{"runtime not started"},
		},
		Events: runtime.EventsProbeReport{
			Reachable: false,
			Endpoint:  sel.RPCEndpoint,
			Error:     "runtime not started",
		},
	}
}

func (a *Actor) status(h runtime.Handle, sel selector.Selector) runtime.DaemonStatus {
	if matches(h, sel) {
		return h.Status()
	}
	return stoppedStatus(sel)
}

func (a *Actor) start(current runtime.Handle, sel selector.Selector, transport string) (runtime.Handle, runtime.DaemonStatus, error) {
	if matches(current, sel) {
		return current, current.Status(), nil
	}
	if current != nil {
		current.Stop()
	}
	if a.managed != nil {
		a.managed.StopIfRunning(sel)
	}

	h, err := a.starter(context.Background(), runtime.Config{
		Profile:   sel.ProfileName,
		RPC:       sel.RPCEndpoint,
		Transport: transport,
	})
	if err != nil {
		return nil, runtime.DaemonStatus{}, &weftErrors.RuntimeError{
			Profile: sel.ProfileName,
			Op:      "start",
			Message: err.Error(),
			Cause:   err,
		}
	}
	return h, h.Status(), nil
}

// ensure returns the live handle for sel, lazily stopping and restarting
// on a selector mismatch (the "lazy restart" rule). With no handle held at
// all there is nothing to restart: the caller must Start explicitly.
func (a *Actor) ensure(handle *runtime.Handle, sel selector.Selector) (runtime.Handle, error) {
	if *handle == nil {
		return nil, &weftErrors.RuntimeError{Profile: sel.ProfileName, Op: "ensure", Message: "runtime not started"}
	}
	if matches(*handle, sel) {
		return *handle, nil
	}
	h, _, err := a.start(*handle, sel, "")
	if err != nil {
		*handle = nil
		return nil, err
	}
	*handle = h
	return h, nil
}

func stoppedStatus(sel selector.Selector) runtime.DaemonStatus {
	return runtime.DaemonStatus{
		Running:   false,
		RPC:       sel.RPCEndpoint,
		Profile:   sel.ProfileName,
		Managed:   sel.Managed,
		Transport: sel.Transport,
	}
}

func wrapRuntimeErr(err error, sel selector.Selector, op string) error {
	if err == nil {
		return nil
	}
	return &weftErrors.RuntimeError{Profile: sel.ProfileName, Op: op, Message: err.Error(), Cause: err}
}
