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

// Package ipc implements the v2 envelope, error classification, and command
// dispatch table the webview UI talks to: every command in and out of the
// shell crosses this package.
package ipc

import (
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	weftErrors "github.com/coretommy/weft/pkg/errors"
)

// SchemaVersion is the envelope schema_version carried on every ok response.
const SchemaVersion = "v2"

// Meta rides alongside a successful response's data.
type Meta struct {
	RequestID     string `json:"request_id"`
	SchemaVersion string `json:"schema_version"`
}

// OkBody is the payload of a successful envelope.
type OkBody struct {
	Data any  `json:"data"`
	Meta Meta `json:"meta"`
}

// OkEnvelope wraps a successful command result.
type OkEnvelope struct {
	Ok OkBody `json:"ok"`
}

// ErrorBody is the payload of a failed envelope.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"request_id"`
}

// ErrorEnvelope wraps a failed command result.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// NewOkEnvelope wraps data in a successful v2 envelope.
func NewOkEnvelope(data any, requestID string) OkEnvelope {
	return OkEnvelope{Ok: OkBody{Data: data, Meta: Meta{RequestID: requestID, SchemaVersion: SchemaVersion}}}
}

// NewErrorEnvelope classifies err and wraps it in a failed v2 envelope.
func NewErrorEnvelope(err error, requestID string) ErrorEnvelope {
	code, retryable := ClassifyError(err)
	return ErrorEnvelope{Error: ErrorBody{
		Code:      code,
		Message:   err.Error(),
		Retryable: retryable,
		RequestID: requestID,
	}}
}

// Error codes, checked in ClassifyError's fixed order.
const (
	CodeStorageQuota       = "storage_quota"
	CodeUpstreamTimeout    = "upstream_timeout"
	CodeRuntimeUnavailable = "runtime_unavailable"
	CodeValidation         = "validation"
	CodeInternal           = "internal"
)

// ClassifyError maps err's message to a closed set of wire error codes.
// The order is significant: storage_quota is checked before
// upstream_timeout, which is checked before runtime_unavailable, then
// validation, with internal as the fallback.
func ClassifyError(err error) (code string, retryable bool) {
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "quota") {
		return CodeStorageQuota, false
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") {
		return CodeUpstreamTimeout, true
	}
	if strings.Contains(msg, "runtime not started") ||
		strings.Contains(msg, "runtime worker unavailable") ||
		strings.Contains(msg, "runtime unavailable") {
		return CodeRuntimeUnavailable, true
	}
	if strings.Contains(msg, "required") || strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "must be") || strings.Contains(msg, "cannot") {
		return CodeValidation, false
	}
	// Substring rules exhausted: let a typed error refine the internal
	// bucket rather than losing its classification to message wording.
	var classifier weftErrors.ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.ErrorCode(), classifier.IsRetryable()
	}
	return CodeInternal, false
}

var lastNanos atomic.Int64

// NewRequestID returns a monotonic, process-local request id formatted
// "weft-<nanos_hex>". It is seeded from the wall clock but forced strictly
// increasing via a compare-and-swap loop, so two calls in the same
// nanosecond (coarse clock resolution) still yield distinct, ordered ids.
func NewRequestID() string {
	now := time.Now().UnixNano()
	for {
		prev := lastNanos.Load()
		next := now
		if next <= prev {
			next = prev + 1
		}
		if lastNanos.CompareAndSwap(prev, next) {
			return "weft-" + strconv.FormatInt(next, 16)
		}
	}
}
