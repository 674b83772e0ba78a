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

package errors

// ErrorClassifier is implemented by errors that carry their own envelope
// classification. The IPC layer's substring rules stay authoritative for
// the wire contract; a classifier only refines errors the substring pass
// would otherwise report as internal, so a typed error whose message lacks
// the trigger words still lands in the right bucket.
type ErrorClassifier interface {
	error

	// ErrorCode returns the envelope error code this error maps to
	// ("validation", "runtime_unavailable", "upstream_timeout").
	ErrorCode() string

	// IsRetryable returns true if the caller may retry the operation.
	IsRetryable() bool
}

// ErrorCode implements ErrorClassifier.
func (e *ValidationError) ErrorCode() string { return "validation" }

// IsRetryable implements ErrorClassifier. Bad input never succeeds on retry.
func (e *ValidationError) IsRetryable() bool { return false }

// ErrorCode implements ErrorClassifier.
func (e *RuntimeError) ErrorCode() string { return "runtime_unavailable" }

// IsRetryable implements ErrorClassifier. The runtime may be mid-restart.
func (e *RuntimeError) IsRetryable() bool { return true }

// ErrorCode implements ErrorClassifier.
func (e *TimeoutError) ErrorCode() string { return "upstream_timeout" }

// IsRetryable implements ErrorClassifier.
func (e *TimeoutError) IsRetryable() bool { return true }

var (
	_ ErrorClassifier = (*ValidationError)(nil)
	_ ErrorClassifier = (*RuntimeError)(nil)
	_ ErrorClassifier = (*TimeoutError)(nil)
)
