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

package shell

import (
	"context"
	"testing"

	"github.com/coretommy/weft/internal/ipc"
	"github.com/coretommy/weft/internal/runtime"
	"github.com/coretommy/weft/internal/selector"
)

type fakeWindow struct {
	visible bool
	focused bool
	quit    bool
}

func (w *fakeWindow) ShowMainWindow()          { w.visible = true }
func (w *fakeWindow) HideMainWindow()          { w.visible = false }
func (w *fakeWindow) IsMainWindowVisible() bool { return w.visible }
func (w *fakeWindow) FocusMainWindow()          { w.focused = true }
func (w *fakeWindow) Quit()                     { w.quit = true }

type emittedEvent struct {
	channel string
	payload any
}

type fakeEmitter struct {
	events []emittedEvent
}

func (e *fakeEmitter) Emit(channel string, payload any) {
	e.events = append(e.events, emittedEvent{channel: channel, payload: payload})
}

type fakePrefs struct {
	prefs ipc.ShellPreferences
	err   error
}

func (p *fakePrefs) Get() (ipc.ShellPreferences, error) { return p.prefs, p.err }
func (p *fakePrefs) Set(patch ipc.ShellPreferencesPatch) (ipc.ShellPreferences, error) {
	if p.err != nil {
		return ipc.ShellPreferences{}, p.err
	}
	if patch.MinimizeToTrayOnClose != nil {
		p.prefs.MinimizeToTrayOnClose = *patch.MinimizeToTrayOnClose
	}
	if patch.StartInTray != nil {
		p.prefs.StartInTray = *patch.StartInTray
	}
	if patch.SingleInstanceFocus != nil {
		p.prefs.SingleInstanceFocus = *patch.SingleInstanceFocus
	}
	if patch.NotificationsMuted != nil {
		p.prefs.NotificationsMuted = *patch.NotificationsMuted
	}
	return p.prefs, nil
}

type fakeRuntimeDriver struct {
	stopped     bool
	startedSel  selector.Selector
	startStatus runtime.DaemonStatus
}

func (r *fakeRuntimeDriver) StopAny(context.Context) error { r.stopped = true; return nil }
func (r *fakeRuntimeDriver) Start(_ context.Context, sel selector.Selector, _ string) (runtime.DaemonStatus, error) {
	r.startedSel = sel
	return r.startStatus, nil
}

func TestToggleMainWindowVisibility(t *testing.T) {
	win := &fakeWindow{}
	s := New(win, &fakeEmitter{}, &fakePrefs{}, &fakeRuntimeDriver{}, selector.Selector{}, nil)

	s.ToggleMainWindowVisibility()
	if !win.visible || !win.focused {
		t.Fatalf("expected shown+focused from hidden state, got %#v", win)
	}

	s.ToggleMainWindowVisibility()
	if win.visible {
		t.Fatal("expected hidden after second toggle")
	}
}

func TestNewMessage_EmitsTrayAction(t *testing.T) {
	emitter := &fakeEmitter{}
	s := New(&fakeWindow{}, emitter, &fakePrefs{}, &fakeRuntimeDriver{}, selector.Selector{}, nil)
	s.NewMessage()

	if len(emitter.events) != 1 || emitter.events[0].channel != ChannelTrayAction {
		t.Fatalf("unexpected events: %#v", emitter.events)
	}
	payload := emitter.events[0].payload.(map[string]any)
	if payload["action"] != "new_message" {
		t.Fatalf("unexpected payload: %#v", payload)
	}
}

func TestReconnectRuntime_StopsThenStarts(t *testing.T) {
	rt := &fakeRuntimeDriver{startStatus: runtime.DaemonStatus{Running: true}}
	sel := selector.Selector{ProfileName: "default", RPCEndpoint: "rmap.world:4242"}
	s := New(&fakeWindow{}, &fakeEmitter{}, &fakePrefs{}, rt, sel, nil)

	status, err := s.ReconnectRuntime(context.Background())
	if err != nil {
		t.Fatalf("ReconnectRuntime: %v", err)
	}
	if !rt.stopped {
		t.Fatal("expected StopAny to be called")
	}
	if rt.startedSel != sel {
		t.Fatalf("expected Start called with %#v, got %#v", sel, rt.startedSel)
	}
	if !status.Running {
		t.Fatal("expected running status")
	}
}

func TestToggleNotificationsMuted_PersistsAndEmits(t *testing.T) {
	emitter := &fakeEmitter{}
	prefs := &fakePrefs{prefs: ipc.ShellPreferences{NotificationsMuted: false}}
	s := New(&fakeWindow{}, emitter, prefs, &fakeRuntimeDriver{}, selector.Selector{}, nil)

	updated, err := s.ToggleNotificationsMuted()
	if err != nil {
		t.Fatalf("ToggleNotificationsMuted: %v", err)
	}
	if !updated.NotificationsMuted {
		t.Fatal("expected muted true after toggle")
	}
	if len(emitter.events) != 1 || emitter.events[0].channel != ChannelTrayAction {
		t.Fatalf("unexpected events: %#v", emitter.events)
	}
	payload := emitter.events[0].payload.(map[string]any)
	if payload["action"] != "notifications_muted" || payload["muted"] != true {
		t.Fatalf("unexpected payload: %#v", payload)
	}

	updated, err = s.ToggleNotificationsMuted()
	if err != nil {
		t.Fatalf("ToggleNotificationsMuted: %v", err)
	}
	if updated.NotificationsMuted {
		t.Fatal("expected muted false after second toggle")
	}
}

func TestHandleMainWindowCloseRequested_InterceptsWhenConfigured(t *testing.T) {
	win := &fakeWindow{visible: true}
	prefs := &fakePrefs{prefs: ipc.ShellPreferences{MinimizeToTrayOnClose: true}}
	s := New(win, &fakeEmitter{}, prefs, &fakeRuntimeDriver{}, selector.Selector{}, nil)

	intercepted := s.HandleMainWindowCloseRequested()
	if !intercepted {
		t.Fatal("expected close to be intercepted")
	}
	if win.visible {
		t.Fatal("expected window hidden after intercepted close")
	}
}

func TestHandleMainWindowCloseRequested_AllowsCloseWhenNotConfigured(t *testing.T) {
	win := &fakeWindow{visible: true}
	prefs := &fakePrefs{prefs: ipc.ShellPreferences{MinimizeToTrayOnClose: false}}
	s := New(win, &fakeEmitter{}, prefs, &fakeRuntimeDriver{}, selector.Selector{}, nil)

	if s.HandleMainWindowCloseRequested() {
		t.Fatal("expected close not to be intercepted")
	}
	if !win.visible {
		t.Fatal("window should not have been touched")
	}
}

func TestHandleSingleInstanceRequest_ForwardsWhenConfigured(t *testing.T) {
	win := &fakeWindow{}
	emitter := &fakeEmitter{}
	prefs := &fakePrefs{prefs: ipc.ShellPreferences{SingleInstanceFocus: true}}
	s := New(win, emitter, prefs, &fakeRuntimeDriver{}, selector.Selector{}, nil)

	handled := s.HandleSingleInstanceRequest([]string{"weft", "--profile=work"}, "/home/user")
	if !handled {
		t.Fatal("expected request to be handled")
	}
	if !win.focused {
		t.Fatal("expected main window focused")
	}
	if len(emitter.events) != 1 || emitter.events[0].channel != ChannelSingleInstance {
		t.Fatalf("unexpected events: %#v", emitter.events)
	}
}

func TestHandleSingleInstanceRequest_SkipsWhenNotConfigured(t *testing.T) {
	win := &fakeWindow{}
	emitter := &fakeEmitter{}
	prefs := &fakePrefs{prefs: ipc.ShellPreferences{SingleInstanceFocus: false}}
	s := New(win, emitter, prefs, &fakeRuntimeDriver{}, selector.Selector{}, nil)

	if s.HandleSingleInstanceRequest(nil, "") {
		t.Fatal("expected request not to be handled")
	}
	if win.focused || len(emitter.events) != 0 {
		t.Fatal("expected no side effects")
	}
}
