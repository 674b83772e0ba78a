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

package log

import (
	"log/slog"
	"time"
)

// CommandRequest describes an inbound IPC command for logging purposes.
type CommandRequest struct {
	// Command is the IPC command name (e.g. "lxmf_send_message").
	Command string

	// RequestID is the v2 envelope request id assigned to this call.
	RequestID string

	// Profile is the resolved selector profile, if known before dispatch.
	Profile string
}

// CommandResponse describes the outcome of an IPC command for logging purposes.
type CommandResponse struct {
	// Success indicates the command resolved without an envelope error.
	Success bool

	// ErrorCode is the classified v2 envelope error code, if any.
	ErrorCode string

	// DurationMs is the time spent executing the command handler.
	DurationMs int64
}

// LogCommandRequest logs an incoming IPC command.
func LogCommandRequest(logger *slog.Logger, req *CommandRequest) {
	attrs := []any{EventKey, "ipc_command_received", CommandKey, req.Command}
	if req.RequestID != "" {
		attrs = append(attrs, RequestIDKey, req.RequestID)
	}
	if req.Profile != "" {
		attrs = append(attrs, ProfileKey, req.Profile)
	}
	logger.Info("ipc command received", attrs...)
}

// LogCommandResponse logs the completion of an IPC command.
func LogCommandResponse(logger *slog.Logger, req *CommandRequest, resp *CommandResponse) {
	attrs := []any{
		EventKey, "ipc_command_completed",
		CommandKey, req.Command,
		"success", resp.Success,
		DurationKey, resp.DurationMs,
	}
	if req.RequestID != "" {
		attrs = append(attrs, RequestIDKey, req.RequestID)
	}
	if resp.ErrorCode != "" {
		attrs = append(attrs, "error_code", resp.ErrorCode)
	}

	level := slog.LevelInfo
	message := "ipc command completed"
	if !resp.Success {
		level = slog.LevelWarn
		message = "ipc command failed"
	}
	logger.Log(nil, level, message, attrs...)
}

// CommandMiddleware wraps IPC command dispatch with structured logging,
// timing every call and recording whether it produced an envelope error.
type CommandMiddleware struct {
	logger *slog.Logger
}

// NewCommandMiddleware creates a new IPC command logging middleware.
func NewCommandMiddleware(logger *slog.Logger) *CommandMiddleware {
	return &CommandMiddleware{logger: logger}
}

// Wrap executes handler, logging the request/response pair around it.
// errorCode should be the empty string on success.
func (m *CommandMiddleware) Wrap(req *CommandRequest, handler func() (errorCode string, err error)) error {
	start := time.Now()
	LogCommandRequest(m.logger, req)

	errorCode, err := handler()

	resp := &CommandResponse{
		Success:    err == nil,
		ErrorCode:  errorCode,
		DurationMs: time.Since(start).Milliseconds(),
	}
	LogCommandResponse(m.logger, req, resp)

	return err
}
