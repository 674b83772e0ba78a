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

package ipc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coretommy/weft/internal/attachment"
	"github.com/coretommy/weft/internal/index"
	"github.com/coretommy/weft/internal/runtime"
	"github.com/coretommy/weft/internal/selector"
)

// Actor is the subset of *actor.Actor the IPC layer calls through.
type Actor interface {
	Probe(ctx context.Context, sel selector.Selector) (runtime.ProbeReport, error)
	Status(ctx context.Context, sel selector.Selector) (runtime.DaemonStatus, error)
	Start(ctx context.Context, sel selector.Selector, transport string) (runtime.DaemonStatus, error)
	Stop(ctx context.Context, sel selector.Selector) (runtime.DaemonStatus, error)
	Restart(ctx context.Context, sel selector.Selector, transport string) (runtime.DaemonStatus, error)
	Rpc(ctx context.Context, sel selector.Selector, method string, params json.RawMessage) (json.RawMessage, error)
	SendMessage(ctx context.Context, sel selector.Selector, req runtime.SendMessageRequest) (json.RawMessage, error)
	SendCommand(ctx context.Context, sel selector.Selector, req runtime.SendCommandRequest) (json.RawMessage, error)
	PollEvent(ctx context.Context, sel selector.Selector) (json.RawMessage, error)
}

// EventPump is the subset of *eventpump.Pump the IPC layer drives.
type EventPump interface {
	Start(sel selector.Selector, interval time.Duration) time.Duration
	Stop()
	Running() bool
	CurrentIntervalMs() int64
}

// IndexStore is the subset of *index.Store the IPC layer queries.
type IndexStore interface {
	IndexStatus() (index.Status, error)
	RuntimeMetrics() (index.RuntimeMetrics, error)
	ForceReindex() error
	RebuildThreadSummaries() error
	QueryThreads(queryText string, pinnedOnly bool, cursor string, limit int) (index.Page[index.ThreadSummary], error)
	QueryThreadMessages(threadID, queryText, cursor string, limit int) (index.Page[index.Message], error)
	SearchMessages(queryText, threadID, cursor string, limit int) (index.Page[index.Message], error)
	QueryFiles(queryText, kind, cursor string, limit int, includeBytes bool) (index.Page[index.FileItem], error)
	QueryMapPoints(queryText, cursor string, limit int) (index.Page[index.MapPoint], error)
	GetAttachmentBlobByName(messageID, name string) ([]byte, string, error)
	GetAttachmentBytes(id int64) ([]byte, string, string, error)
}

// AttachmentManager is the subset of *attachment.Manager the IPC layer
// drives for the handle-backed attachment preview flow.
type AttachmentManager interface {
	Open(source attachment.BlobSource, attachmentID string) (attachment.Info, error)
	Close(handleID string) (bool, error)
}

// ShellPreferences is the persisted desktop-shell preference shape.
type ShellPreferences struct {
	MinimizeToTrayOnClose bool `json:"minimize_to_tray_on_close"`
	StartInTray           bool `json:"start_in_tray"`
	SingleInstanceFocus   bool `json:"single_instance_focus"`
	NotificationsMuted    bool `json:"notifications_muted"`
}

// ShellPrefs is the subset of *shellprefs.Store the IPC layer persists
// through. Defined here (rather than imported) to keep internal/ipc free
// of a dependency cycle with internal/shellprefs, which in turn has no
// reason to know about the envelope layer.
type ShellPrefs interface {
	Get() (ShellPreferences, error)
	Set(patch ShellPreferencesPatch) (ShellPreferences, error)
}

// ShellPreferencesPatch carries only the fields the caller wants to change.
type ShellPreferencesPatch struct {
	MinimizeToTrayOnClose *bool `json:"minimize_to_tray_on_close,omitempty"`
	StartInTray           *bool `json:"start_in_tray,omitempty"`
	SingleInstanceFocus   *bool `json:"single_instance_focus,omitempty"`
	NotificationsMuted    *bool `json:"notifications_muted,omitempty"`
}

// SelectorResolver resolves an IPC request's optional profile/rpc fields
// into a concrete Selector. *selector.ProfileResolver-backed callers use
// selector.Load directly; tests supply a stub.
type SelectorResolver interface {
	Resolve(profile, rpc string) (selector.Selector, error)
}

// SelectorResolverFunc adapts a plain function to SelectorResolver.
type SelectorResolverFunc func(profile, rpc string) (selector.Selector, error)

// Resolve implements SelectorResolver.
func (f SelectorResolverFunc) Resolve(profile, rpc string) (selector.Selector, error) {
	return f(profile, rpc)
}
