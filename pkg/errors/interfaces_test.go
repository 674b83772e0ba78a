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

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorClassifier_Codes(t *testing.T) {
	tests := []struct {
		name          string
		err           ErrorClassifier
		wantCode      string
		wantRetryable bool
	}{
		{
			name:          "validation error",
			err:           &ValidationError{Field: "destination", Message: "empty"},
			wantCode:      "validation",
			wantRetryable: false,
		},
		{
			name:          "runtime error",
			err:           &RuntimeError{Profile: "default", Op: "rpc", Message: "worker gone"},
			wantCode:      "runtime_unavailable",
			wantRetryable: true,
		},
		{
			name:          "timeout error",
			err:           &TimeoutError{Operation: "daemon RPC", Duration: time.Second},
			wantCode:      "upstream_timeout",
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.ErrorCode(); got != tt.wantCode {
				t.Errorf("ErrorCode() = %q, want %q", got, tt.wantCode)
			}
			if got := tt.err.IsRetryable(); got != tt.wantRetryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.wantRetryable)
			}
		})
	}
}

func TestErrorClassifier_SurvivesWrapping(t *testing.T) {
	inner := &RuntimeError{Profile: "default", Op: "poll_event", Message: "worker gone"}
	wrapped := fmt.Errorf("outer context: %w", inner)

	var classifier ErrorClassifier
	if !errors.As(wrapped, &classifier) {
		t.Fatal("expected errors.As to find the ErrorClassifier through the wrap")
	}
	if classifier.ErrorCode() != "runtime_unavailable" {
		t.Errorf("ErrorCode() = %q, want runtime_unavailable", classifier.ErrorCode())
	}
}
