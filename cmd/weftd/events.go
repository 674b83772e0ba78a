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
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
)

// eventFrame is one UI-channel emission as it crosses the event stream:
// the channel name plus the payload verbatim.
type eventFrame struct {
	Channel string `json:"channel"`
	Payload any    `json:"payload"`
}

// eventBridge fans UI-channel emissions out to every connected event-stream
// subscriber. It satisfies shell.EventEmitter so the tray/window glue and
// the pump forwarder both publish through the same path.
type eventBridge struct {
	mu          sync.Mutex
	subscribers map[chan eventFrame]struct{}
	logger      *slog.Logger
}

func newEventBridge(logger *slog.Logger) *eventBridge {
	return &eventBridge{
		subscribers: make(map[chan eventFrame]struct{}),
		logger:      logger.With(slog.String("component", "events")),
	}
}

// Emit publishes payload on channel to every subscriber. A subscriber that
// cannot keep up has the frame dropped rather than blocking the publisher;
// the webview re-syncs from the index on reconnect, so a dropped frame
// costs latency, not data.
func (b *eventBridge) Emit(channel string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		select {
		case sub <- eventFrame{Channel: channel, Payload: payload}:
		default:
			b.logger.Debug("event subscriber backlogged, dropping frame", slog.String("channel", channel))
		}
	}
}

func (b *eventBridge) subscribe() chan eventFrame {
	ch := make(chan eventFrame, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *eventBridge) unsubscribe(ch chan eventFrame) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
}

// handleEvents serves the /v2/events stream: one text/event-stream
// connection per webview window, each data line a JSON eventFrame.
func (d *daemon) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if d.signer != nil {
		if err := d.authorize(r); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := d.bridge.subscribe()
	defer d.bridge.unsubscribe(sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-sub:
			data, err := json.Marshal(frame)
			if err != nil {
				d.logger.Debug("failed to encode event frame", slog.Any("error", err))
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
