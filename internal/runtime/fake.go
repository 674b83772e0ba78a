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

package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Fake is an in-memory Handle double that exercises enough of the RPC
// surface (list_messages, list_peers, receive_message) to drive the Actor's
// state table and the smoke-lifecycle scenario without a real mesh daemon.
type Fake struct {
	mu       sync.Mutex
	profile  string
	rpc      string
	messages []json.RawMessage
	events   []json.RawMessage
	stopped  bool
}

// NewFakeStarter returns a Starter that always hands out *Fake handles,
// sharing no state across profiles.
func NewFakeStarter() Starter {
	return func(_ context.Context, cfg Config) (Handle, error) {
		return &Fake{profile: cfg.Profile, rpc: cfg.RPC}, nil
	}
}

func (f *Fake) Profile() string { return f.profile }
func (f *Fake) RPC() string     { return f.rpc }

func (f *Fake) Status() DaemonStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return DaemonStatus{
		Running: !f.stopped,
		RPC:     f.rpc,
		Profile: f.profile,
		Managed: true,
	}
}

func (f *Fake) Probe() ProbeReport {
	status := f.Status()
	return ProbeReport{
		Profile: f.profile,
		Local:   status,
		RPC:     RpcProbeReport{Reachable: status.Running, Endpoint: f.rpc},
		Events:  EventsProbeReport{Reachable: status.Running, Endpoint: f.rpc},
	}
}

func (f *Fake) Call(_ context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return nil, fmt.Errorf("runtime not started")
	}
	switch method {
	case "list_messages":
		return json.Marshal(map[string]any{"messages": rawSlice(f.messages)})
	case "list_peers":
		return json.Marshal(map[string]any{"peers": []any{}})
	case "list_interfaces":
		return json.Marshal(map[string]any{"interfaces": []any{}})
	case "list_announces":
		return json.Marshal(map[string]any{"announces": []any{}})
	case "announce_now", "reload_config":
		return json.Marshal(map[string]any{"ok": true})
	case "clear_messages":
		f.messages = nil
		return json.Marshal(map[string]any{"ok": true})
	case "clear_peers":
		return json.Marshal(map[string]any{"ok": true})
	case "receive_message":
		return f.receiveMessageLocked(params)
	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
}

func (f *Fake) receiveMessageLocked(params json.RawMessage) (json.RawMessage, error) {
	var msg map[string]any
	if err := json.Unmarshal(params, &msg); err != nil {
		return nil, fmt.Errorf("invalid receive_message payload: %w", err)
	}
	msg["direction"] = "in"
	encoded, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	f.messages = append(f.messages, encoded)

	id, _ := msg["id"].(string)
	return json.Marshal(map[string]any{"message_id": id})
}

func (f *Fake) SendMessage(_ context.Context, req SendMessageRequest) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return nil, fmt.Errorf("runtime not started")
	}
	out := map[string]any{
		"id":          req.ID,
		"direction":   "out",
		"source":      req.Source,
		"destination": req.Destination,
		"title":       req.Title,
		"content":     req.Content,
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	f.messages = append(f.messages, encoded)
	return json.Marshal(map[string]any{"id": req.ID})
}

func (f *Fake) SendCommand(ctx context.Context, req SendCommandRequest) (json.RawMessage, error) {
	return f.SendMessage(ctx, req.Message)
}

func (f *Fake) PollEvent(_ context.Context) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return nil, fmt.Errorf("runtime not started")
	}
	if len(f.events) == 0 {
		return nil, nil
	}
	next := f.events[0]
	f.events = f.events[1:]
	return next, nil
}

// PushEvent queues an event for the next PollEvent call, for tests that
// drive the event pump.
func (f *Fake) PushEvent(event json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *Fake) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func rawSlice(msgs []json.RawMessage) []json.RawMessage {
	if msgs == nil {
		return []json.RawMessage{}
	}
	return msgs
}
