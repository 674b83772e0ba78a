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

// Package runtime defines the Handle contract the Actor holds: the single
// live connection to an embedded mesh-messaging daemon for one profile.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Config starts a new Handle for a given profile/rpc/transport triple.
type Config struct {
	Profile   string
	RPC       string
	Transport string
}

// Starter creates a live Handle, analogous to the collaborator's
// runtime::start(RuntimeConfig). Swappable in tests for a fake.
type Starter func(ctx context.Context, cfg Config) (Handle, error)

// DaemonStatus mirrors the status shape returned by daemon_probe/status/
// start/stop/restart.
type DaemonStatus struct {
	Running           bool   `json:"running"`
	PID               *int   `json:"pid,omitempty"`
	RPC               string `json:"rpc"`
	Profile           string `json:"profile"`
	Managed           bool   `json:"managed"`
	Transport         string `json:"transport,omitempty"`
	TransportInferred bool   `json:"transport_inferred"`
	LogPath           string `json:"log_path,omitempty"`
}

// RpcProbeReport is the RPC reachability half of a probe.
type RpcProbeReport struct {
	Reachable    bool     `json:"reachable"`
	Endpoint     string   `json:"endpoint"`
	Method       string   `json:"method,omitempty"`
	RoundtripMs  *int64   `json:"roundtrip_ms,omitempty"`
	IdentityHash string   `json:"identity_hash,omitempty"`
	Status       string   `json:"status,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// EventsProbeReport is the event-stream reachability half of a probe.
type EventsProbeReport struct {
	Reachable   bool            `json:"reachable"`
	Endpoint    string          `json:"endpoint"`
	RoundtripMs *int64          `json:"roundtrip_ms,omitempty"`
	EventType   string          `json:"event_type,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// ProbeReport is the combined result of Handle.Probe.
type ProbeReport struct {
	Profile string            `json:"profile"`
	Local   DaemonStatus      `json:"local"`
	RPC     RpcProbeReport    `json:"rpc"`
	Events  EventsProbeReport `json:"events"`
}

// SendMessageRequest is the typed send path, shared by SendMessage and as
// the message half of SendCommand.
type SendMessageRequest struct {
	ID                   string          `json:"id,omitempty"`
	Source               string          `json:"source,omitempty"`
	SourcePrivateKey     string          `json:"source_private_key,omitempty"`
	Destination          string          `json:"destination"`
	Title                string          `json:"title,omitempty"`
	Content              string          `json:"content,omitempty"`
	Fields               json.RawMessage `json:"fields,omitempty"`
	Method               string          `json:"method,omitempty"`
	StampCost            *uint64         `json:"stamp_cost,omitempty"`
	IncludeTicket        bool            `json:"include_ticket,omitempty"`
	TryPropagationOnFail bool            `json:"try_propagation_on_fail,omitempty"`
}

// CommandEntry is one entry of a SendCommandRequest's ordered command list.
type CommandEntry struct {
	CommandID uint8
	Payload   []byte
	IsText    bool
}

// CommandEntryFromText builds a text-payload command entry.
func CommandEntryFromText(id uint8, text string) CommandEntry {
	return CommandEntry{CommandID: id, Payload: []byte(text), IsText: true}
}

// CommandEntryFromBytes builds a raw-bytes command entry.
func CommandEntryFromBytes(id uint8, payload []byte) CommandEntry {
	return CommandEntry{CommandID: id, Payload: payload, IsText: false}
}

// SendCommandRequest wraps a message send with an ordered command list.
type SendCommandRequest struct {
	Message  SendMessageRequest
	Commands []CommandEntry
}

// Handle is the single live connection to an embedded mesh daemon for one
// profile. At most one Handle is ever held by the Actor at a time.
type Handle interface {
	Profile() string
	RPC() string
	Status() DaemonStatus
	Probe() ProbeReport
	Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
	SendMessage(ctx context.Context, req SendMessageRequest) (json.RawMessage, error)
	SendCommand(ctx context.Context, req SendCommandRequest) (json.RawMessage, error)
	PollEvent(ctx context.Context) (json.RawMessage, error)
	Stop()
}

// ParseCommandSpec splits a "ID:PAYLOAD" string into (command id, payload).
func ParseCommandSpec(value string) (uint8, string, error) {
	idRaw, payload, ok := strings.Cut(value, ":")
	if !ok {
		return 0, "", fmt.Errorf("invalid command %q, expected ID:PAYLOAD", value)
	}
	id, err := strconv.ParseUint(strings.TrimSpace(idRaw), 10, 8)
	if err != nil {
		return 0, "", fmt.Errorf("invalid command id %q in %q", idRaw, value)
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return 0, "", fmt.Errorf("command payload cannot be empty in %q", value)
	}
	return uint8(id), payload, nil
}
