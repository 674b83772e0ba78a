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

	"github.com/coretommy/weft/internal/selector"
)

// daemonParams is the shared input shape for daemon_probe/status/start/
// stop/restart. managed and reticulumd exist only so a caller requesting
// an external, unmanaged daemon can be rejected with a clear validation
// error — this shell only ever drives a managed, embedded runtime.
type daemonParams struct {
	Profile    string  `json:"profile,omitempty"`
	RPC        string  `json:"rpc,omitempty"`
	Managed    *bool   `json:"managed,omitempty"`
	Reticulumd *string `json:"reticulumd,omitempty"`
	Transport  string  `json:"transport,omitempty"`
}

func decodeDaemonParams(s *Server, params json.RawMessage) (daemonParams, selector.Selector, error) {
	var in daemonParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &in); err != nil {
			return daemonParams{}, selector.Selector{}, fmt.Errorf("invalid request: must be a JSON object")
		}
	}
	if in.Managed != nil && !*in.Managed {
		return daemonParams{}, selector.Selector{}, fmt.Errorf("invalid request: managed=false is not supported")
	}
	if in.Reticulumd != nil && *in.Reticulumd != "" {
		return daemonParams{}, selector.Selector{}, fmt.Errorf("invalid request: reticulumd must be empty, an external transport binary cannot be supplied")
	}
	sel, err := s.Selectors.Resolve(in.Profile, in.RPC)
	if err != nil {
		return daemonParams{}, selector.Selector{}, err
	}
	return in, sel, nil
}

func handleDaemonProbe(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	_, sel, err := decodeDaemonParams(s, params)
	if err != nil {
		return nil, err
	}
	return s.Actor.Probe(ctx, sel)
}

func handleDaemonStatus(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	_, sel, err := decodeDaemonParams(s, params)
	if err != nil {
		return nil, err
	}
	return s.Actor.Status(ctx, sel)
}

func handleDaemonStart(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	in, sel, err := decodeDaemonParams(s, params)
	if err != nil {
		return nil, err
	}
	return s.Actor.Start(ctx, sel, in.Transport)
}

func handleDaemonStop(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	_, sel, err := decodeDaemonParams(s, params)
	if err != nil {
		return nil, err
	}
	return s.Actor.Stop(ctx, sel)
}

func handleDaemonRestart(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	in, sel, err := decodeDaemonParams(s, params)
	if err != nil {
		return nil, err
	}
	return s.Actor.Restart(ctx, sel, in.Transport)
}
