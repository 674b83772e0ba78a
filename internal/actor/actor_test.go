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
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/coretommy/weft/internal/runtime"
	"github.com/coretommy/weft/internal/selector"
)

func testSelector(profile, rpc string) selector.Selector {
	return selector.Selector{ProfileName: profile, RPCEndpoint: rpc, Managed: false}
}

func TestActor_StartStatusRpcStopSmoke(t *testing.T) {
	ctx := context.Background()
	a := Spawn(runtime.NewFakeStarter(), nil, nil, nil)
	defer a.Shutdown(ctx)

	sel := testSelector("tauri-smoke", "127.0.0.1:4242")

	status, err := a.Start(ctx, sel, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !status.Running {
		t.Fatal("Start() status.Running = false, want true")
	}

	status, err = a.Status(ctx, sel)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.Running {
		t.Fatal("Status() status.Running = false, want true")
	}

	listResult, err := a.Rpc(ctx, sel, "list_messages", nil)
	if err != nil {
		t.Fatalf("Rpc(list_messages) error = %v", err)
	}
	var listed struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(listResult, &listed); err != nil {
		t.Fatalf("unmarshal list_messages result: %v", err)
	}
	if len(listed.Messages) != 0 {
		t.Fatalf("expected empty message list, got %d", len(listed.Messages))
	}

	injectParams, _ := json.Marshal(map[string]any{
		"id":          "tauri-smoke-msg-1",
		"source":      "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"destination": "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"title":       "smoke",
		"content":     "hello from tauri smoke",
	})
	injected, err := a.Rpc(ctx, sel, "receive_message", injectParams)
	if err != nil {
		t.Fatalf("Rpc(receive_message) error = %v", err)
	}
	var injectedResult struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(injected, &injectedResult); err != nil {
		t.Fatalf("unmarshal receive_message result: %v", err)
	}
	if injectedResult.MessageID != "tauri-smoke-msg-1" {
		t.Fatalf("message_id = %q, want tauri-smoke-msg-1", injectedResult.MessageID)
	}

	listResult, err = a.Rpc(ctx, sel, "list_messages", nil)
	if err != nil {
		t.Fatalf("Rpc(list_messages) error = %v", err)
	}
	if err := json.Unmarshal(listResult, &listed); err != nil {
		t.Fatalf("unmarshal list_messages result: %v", err)
	}
	if len(listed.Messages) != 1 {
		t.Fatalf("expected 1 message after inject, got %d", len(listed.Messages))
	}
	var entry map[string]any
	if err := json.Unmarshal(listed.Messages[0], &entry); err != nil {
		t.Fatalf("unmarshal message entry: %v", err)
	}
	if entry["id"] != "tauri-smoke-msg-1" || entry["direction"] != "in" {
		t.Fatalf("unexpected injected entry: %+v", entry)
	}

	status, err = a.Stop(ctx, sel)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if status.Running {
		t.Fatal("Stop() status.Running = true, want false")
	}
}

func TestActor_EmptyStateSynthesizesStoppedStatus(t *testing.T) {
	ctx := context.Background()
	a := Spawn(runtime.NewFakeStarter(), nil, nil, nil)
	defer a.Shutdown(ctx)

	sel := testSelector("unstarted", "127.0.0.1:1")
	status, err := a.Status(ctx, sel)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Running {
		t.Fatal("Status() on empty actor should report not running")
	}

	probe, err := a.Probe(ctx, sel)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if probe.RPC.Reachable {
		t.Fatal("Probe() on empty actor should report rpc unreachable")
	}
	if len(probe.RPC.Errors) == 0 || probe.RPC.Errors[0] != "runtime not started" {
		t.Fatalf("Probe() errors = %v, want [runtime not started]", probe.RPC.Errors)
	}
}

func TestActor_StopIsNoOpOnEmptyState(t *testing.T) {
	ctx := context.Background()
	a := Spawn(runtime.NewFakeStarter(), nil, nil, nil)
	defer a.Shutdown(ctx)

	sel := testSelector("never-started", "127.0.0.1:1")
	status, err := a.Stop(ctx, sel)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if status.Running {
		t.Fatal("Stop() on empty actor should report not running")
	}
}

func TestActor_RpcFailsOnEmptyState(t *testing.T) {
	ctx := context.Background()
	a := Spawn(runtime.NewFakeStarter(), nil, nil, nil)
	defer a.Shutdown(ctx)

	sel := testSelector("never-started", "127.0.0.1:1")
	if _, err := a.Rpc(ctx, sel, "list_messages", nil); err == nil {
		t.Fatal("Rpc() on empty actor should fail with runtime not started")
	} else if !strings.Contains(err.Error(), "runtime not started") {
		t.Fatalf("Rpc() error = %v, want runtime not started", err)
	}
}

func TestActor_RpcLazilyRestartsOnSelectorMismatch(t *testing.T) {
	ctx := context.Background()
	a := Spawn(runtime.NewFakeStarter(), nil, nil, nil)
	defer a.Shutdown(ctx)

	first := testSelector("profile-a", "127.0.0.1:1")
	if _, err := a.Start(ctx, first, ""); err != nil {
		t.Fatalf("Start(first) error = %v", err)
	}

	second := testSelector("profile-b", "127.0.0.1:2")
	result, err := a.Rpc(ctx, second, "list_messages", nil)
	if err != nil {
		t.Fatalf("Rpc() on mismatched selector should lazily restart, got error = %v", err)
	}
	if result == nil {
		t.Fatal("expected a list_messages result after lazy restart")
	}

	status, err := a.Status(ctx, second)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.Running || status.Profile != "profile-b" {
		t.Fatalf("expected actor to now hold profile-b, got %+v", status)
	}

	staleStatus, err := a.Status(ctx, first)
	if err != nil {
		t.Fatalf("Status(first) error = %v", err)
	}
	if staleStatus.Running {
		t.Fatal("expected stale selector to report stopped after restart onto a different profile")
	}
}

func TestActor_SendMessageAndSendCommand(t *testing.T) {
	ctx := context.Background()
	a := Spawn(runtime.NewFakeStarter(), nil, nil, nil)
	defer a.Shutdown(ctx)

	sel := testSelector("tauri-smoke", "127.0.0.1:4242")
	if _, err := a.Start(ctx, sel, ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	sendResult, err := a.SendMessage(ctx, sel, runtime.SendMessageRequest{
		ID:          "tauri-smoke-msg-out-1",
		Destination: "cccccccccccccccccccccccccccccccc",
		Title:       "smoke",
		Content:     "hello outbound",
	})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	var sent struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(sendResult, &sent); err != nil {
		t.Fatalf("unmarshal send result: %v", err)
	}
	if sent.ID != "tauri-smoke-msg-out-1" {
		t.Fatalf("send id = %q, want tauri-smoke-msg-out-1", sent.ID)
	}

	cmdResult, err := a.SendCommand(ctx, sel, runtime.SendCommandRequest{
		Message: runtime.SendMessageRequest{
			ID:          "tauri-smoke-msg-cmd-1",
			Destination: "dddddddddddddddddddddddddddddddd",
		},
		Commands: []runtime.CommandEntry{runtime.CommandEntryFromText(1, "ping")},
	})
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	var sentCmd struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(cmdResult, &sentCmd); err != nil {
		t.Fatalf("unmarshal send command result: %v", err)
	}
	if sentCmd.ID != "tauri-smoke-msg-cmd-1" {
		t.Fatalf("send command id = %q, want tauri-smoke-msg-cmd-1", sentCmd.ID)
	}
}

func TestActor_PollEventReturnsNilWhenEmpty(t *testing.T) {
	ctx := context.Background()
	a := Spawn(runtime.NewFakeStarter(), nil, nil, nil)
	defer a.Shutdown(ctx)

	sel := testSelector("tauri-smoke", "127.0.0.1:4242")
	if _, err := a.Start(ctx, sel, ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	event, err := a.PollEvent(ctx, sel)
	if err != nil {
		t.Fatalf("PollEvent() error = %v", err)
	}
	if event != nil {
		t.Fatalf("PollEvent() with no queued events should return nil, got %s", event)
	}
}

func TestActor_StopAnyAndShutdownDropHeldHandle(t *testing.T) {
	ctx := context.Background()
	a := Spawn(runtime.NewFakeStarter(), nil, nil, nil)

	sel := testSelector("tauri-smoke", "127.0.0.1:4242")
	if _, err := a.Start(ctx, sel, ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := a.StopAny(ctx); err != nil {
		t.Fatalf("StopAny() error = %v", err)
	}
	status, err := a.Status(ctx, sel)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Running {
		t.Fatal("expected StopAny to have dropped the held handle")
	}

	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}
