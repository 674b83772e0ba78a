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
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coretommy/weft/internal/ipc"
	"github.com/coretommy/weft/internal/shell"
)

func TestEventBridge_FansOutToSubscribers(t *testing.T) {
	bridge := newEventBridge(slog.New(slog.NewTextHandler(io.Discard, nil)))

	first := bridge.subscribe()
	second := bridge.subscribe()
	defer bridge.unsubscribe(first)
	defer bridge.unsubscribe(second)

	bridge.Emit(shell.ChannelTrayAction, map[string]any{"action": "new_message"})

	for _, sub := range []chan eventFrame{first, second} {
		select {
		case frame := <-sub:
			if frame.Channel != shell.ChannelTrayAction {
				t.Fatalf("unexpected channel: %q", frame.Channel)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the emitted frame")
		}
	}
}

func TestEventBridge_DropsFramesForBackloggedSubscriber(t *testing.T) {
	bridge := newEventBridge(slog.New(slog.NewTextHandler(io.Discard, nil)))

	sub := bridge.subscribe()
	defer bridge.unsubscribe(sub)

	// Ten more emits than the subscriber buffer holds; Emit must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(sub)+10; i++ {
			bridge.Emit(shell.ChannelLXMFEvent, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a backlogged subscriber")
	}
}

func TestHandleEvents_StreamsEmittedFrames(t *testing.T) {
	d := testDaemon(t, false)

	server := httptest.NewServer(http.HandlerFunc(d.handleEvents))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("GET events stream: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type: %q", got)
	}

	// Wait for the handler to register its subscription before emitting.
	deadline := time.Now().Add(2 * time.Second)
	for {
		d.bridge.mu.Lock()
		n := len(d.bridge.subscribers)
		d.bridge.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	d.bridge.Emit(shell.ChannelLXMFEvent, json.RawMessage(`{"event_type":"inbound"}`))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read event stream: %v", err)
	}
	payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
	if !ok {
		t.Fatalf("expected an SSE data line, got %q", line)
	}

	var frame eventFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	if frame.Channel != shell.ChannelLXMFEvent {
		t.Fatalf("unexpected channel: %q", frame.Channel)
	}
}

func TestHandleEvents_RejectsNonGET(t *testing.T) {
	d := testDaemon(t, false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v2/events", nil)
	d.handleEvents(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestPreferenceChange_EmitsTrayAction(t *testing.T) {
	d := testDaemon(t, false)

	sub := d.bridge.subscribe()
	defer d.bridge.unsubscribe(sub)

	muted := true
	if _, err := d.prefs.Set(ipc.ShellPreferencesPatch{NotificationsMuted: &muted}); err != nil {
		t.Fatalf("Set preferences: %v", err)
	}

	select {
	case frame := <-sub:
		if frame.Channel != shell.ChannelTrayAction {
			t.Fatalf("unexpected channel: %q", frame.Channel)
		}
		payload, ok := frame.Payload.(map[string]any)
		if !ok {
			t.Fatalf("unexpected payload type: %T", frame.Payload)
		}
		if payload["action"] != "notifications_muted" || payload["muted"] != true {
			t.Fatalf("unexpected payload: %#v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("preference change did not emit a tray action")
	}
}
