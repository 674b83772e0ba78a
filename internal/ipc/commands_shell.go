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
)

func shellPreferencesWire(p ShellPreferences) map[string]any {
	return map[string]any{
		"minimize_to_tray_on_close": p.MinimizeToTrayOnClose,
		"start_in_tray":             p.StartInTray,
		"single_instance_focus":     p.SingleInstanceFocus,
		"notifications_muted":       p.NotificationsMuted,
	}
}

func handleGetShellPreferences(_ context.Context, s *Server, _ json.RawMessage) (any, error) {
	if s.ShellPrefs == nil {
		return nil, fmt.Errorf("runtime unavailable: shell preferences not wired")
	}
	prefs, err := s.ShellPrefs.Get()
	if err != nil {
		return nil, err
	}
	return shellPreferencesWire(prefs), nil
}

func handleSetShellPreferences(_ context.Context, s *Server, params json.RawMessage) (any, error) {
	if s.ShellPrefs == nil {
		return nil, fmt.Errorf("runtime unavailable: shell preferences not wired")
	}
	var patch ShellPreferencesPatch
	if len(params) > 0 {
		if err := json.Unmarshal(params, &patch); err != nil {
			return nil, fmt.Errorf("invalid request: must be a JSON object")
		}
	}
	prefs, err := s.ShellPrefs.Set(patch)
	if err != nil {
		return nil, err
	}
	return shellPreferencesWire(prefs), nil
}
