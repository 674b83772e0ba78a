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
	"fmt"
	"log/slog"
	"time"

	weftlog "github.com/coretommy/weft/internal/log"
	"github.com/coretommy/weft/internal/selector"
)

// handlerFunc is one command's implementation: decode params, do the work,
// return the value that will become the ok envelope's data.
type handlerFunc func(ctx context.Context, s *Server, params json.RawMessage) (any, error)

// Server is the IPC command dispatch table: every webview command name
// resolves to one handlerFunc here, wired to the domain collaborators.
type Server struct {
	Actor      Actor
	Index      IndexStore
	Attachment AttachmentManager
	EventPump  EventPump
	ShellPrefs ShellPrefs
	Selectors  SelectorResolver
	Logger     *slog.Logger

	handlers map[string]handlerFunc
}

// New builds a Server with every command wired. A nil EventPump or
// ShellPrefs makes that command family fail with a
// runtime_unavailable-classified error; the other dependencies are not
// nil-checked and must be set.
func New(actor Actor, idx IndexStore, attachments AttachmentManager, pump EventPump, prefs ShellPrefs, selectors SelectorResolver, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Actor:      actor,
		Index:      idx,
		Attachment: attachments,
		EventPump:  pump,
		ShellPrefs: prefs,
		Selectors:  selectors,
		Logger:     logger,
	}
	s.handlers = s.buildDispatchTable()
	return s
}

// Handle runs command against params and returns the fully-serialized v2
// envelope: either {ok:...} or {error:...}. It never returns a Go error
// itself — dispatch and handler failures are both captured in the
// envelope, matching the webview's single response shape.
func (s *Server) Handle(ctx context.Context, command string, params json.RawMessage) json.RawMessage {
	requestID := NewRequestID()
	start := time.Now()
	weftlog.LogCommandRequest(s.Logger, &weftlog.CommandRequest{Command: command, RequestID: requestID})

	handler, ok := s.handlers[command]
	if !ok {
		return s.respond(command, requestID, start, nil, fmt.Errorf("unknown command %q", command))
	}

	data, err := handler(ctx, s, params)
	return s.respond(command, requestID, start, data, err)
}

func (s *Server) respond(command, requestID string, start time.Time, data any, err error) json.RawMessage {
	if err != nil {
		code, _ := ClassifyError(err)
		weftlog.LogCommandResponse(s.Logger, &weftlog.CommandRequest{Command: command, RequestID: requestID},
			&weftlog.CommandResponse{Success: false, ErrorCode: code, DurationMs: time.Since(start).Milliseconds()})

		encoded, marshalErr := json.Marshal(NewErrorEnvelope(err, requestID))
		if marshalErr != nil {
			// Last-resort fallback: hand-built JSON so Handle never panics
			// or returns an unparseable body even if the error message
			// itself contains something json.Marshal chokes on.
			return json.RawMessage(fmt.Sprintf(`{"error":{"code":"internal","message":"failed to encode error response","retryable":false,"request_id":%q}}`, requestID))
		}
		return encoded
	}

	encoded, marshalErr := json.Marshal(NewOkEnvelope(data, requestID))
	if marshalErr != nil {
		return s.respond(command, requestID, start, nil, fmt.Errorf("internal: encode response: %w", marshalErr))
	}

	weftlog.LogCommandResponse(s.Logger, &weftlog.CommandRequest{Command: command, RequestID: requestID},
		&weftlog.CommandResponse{Success: true, DurationMs: time.Since(start).Milliseconds()})
	return encoded
}

func (s *Server) buildDispatchTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		"daemon_probe":   handleDaemonProbe,
		"daemon_status":  handleDaemonStatus,
		"daemon_start":   handleDaemonStart,
		"daemon_stop":    handleDaemonStop,
		"daemon_restart": handleDaemonRestart,

		"lxmf_list_messages":   rpcDelegate("list_messages"),
		"lxmf_list_peers":      rpcDelegate("list_peers"),
		"lxmf_list_interfaces": rpcDelegate("list_interfaces"),
		"lxmf_announce_now":    rpcDelegate("announce_now"),
		"lxmf_reload_config":   rpcDelegate("reload_config"),
		"lxmf_clear_messages":  rpcDelegate("clear_messages"),
		"lxmf_clear_peers":     rpcDelegate("clear_peers"),
		"lxmf_list_announces":  handleListAnnounces,

		"lxmf_send_message":      handleSendMessage,
		"lxmf_send_rich_message": handleSendRichMessage,
		"lxmf_send_command":      handleSendCommand,

		"lxmf_poll_event":       handlePollEvent,
		"lxmf_start_event_pump": handleStartEventPump,
		"lxmf_stop_event_pump":  handleStopEventPump,

		"lxmf_index_status":             handleIndexStatus,
		"lxmf_query_threads":            handleQueryThreads,
		"lxmf_query_thread_messages":    handleQueryThreadMessages,
		"lxmf_search_messages":          handleSearchMessages,
		"lxmf_query_files":              handleQueryFiles,
		"lxmf_query_map_points":         handleQueryMapPoints,
		"lxmf_get_attachment_blob":      handleGetAttachmentBlob,
		"lxmf_get_attachment_bytes":     handleGetAttachmentBytes,
		"lxmf_open_attachment_handle":   handleOpenAttachmentHandle,
		"lxmf_close_attachment_handle":  handleCloseAttachmentHandle,
		"lxmf_force_reindex":            handleForceReindex,
		"lxmf_rebuild_thread_summaries": handleRebuildThreadSummaries,
		"lxmf_get_runtime_metrics":      handleGetRuntimeMetrics,

		"desktop_get_shell_preferences": handleGetShellPreferences,
		"desktop_set_shell_preferences": handleSetShellPreferences,
	}
}

// rpcDelegate builds a handler for the selector-only commands that do
// nothing but forward to the Actor as a plain RPC call.
func rpcDelegate(method string) handlerFunc {
	return func(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
		sel, err := decodeSelectorOnly(s, params)
		if err != nil {
			return nil, err
		}
		return s.Actor.Rpc(ctx, sel, method, nil)
	}
}

// selectorInput is the common profile/rpc shape every command accepts.
type selectorInput struct {
	Profile string `json:"profile,omitempty"`
	RPC     string `json:"rpc,omitempty"`
}

func decodeSelectorOnly(s *Server, params json.RawMessage) (selector.Selector, error) {
	var in selectorInput
	if len(params) > 0 {
		if err := json.Unmarshal(params, &in); err != nil {
			return selector.Selector{}, fmt.Errorf("invalid request: must be a JSON object")
		}
	}
	return s.Selectors.Resolve(in.Profile, in.RPC)
}
