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

// Package eventpump runs the cooperative polling loop that drains daemon
// events into the Index Store and forwards them to the UI. One goroutine
// is owned per pump instance; a different (profile, rpc, interval) triple
// stops the running pump before a new one starts.
package eventpump

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/coretommy/weft/internal/index"
	"github.com/coretommy/weft/internal/selector"
	"github.com/coretommy/weft/internal/telemetry"
	weftErrors "github.com/coretommy/weft/pkg/errors"
)

const (
	// MinInterval and MaxInterval bound the pump tick interval regardless
	// of what a caller requests.
	MinInterval = 150 * time.Millisecond
	MaxInterval = 2 * time.Second

	// DefaultInterval is used when a caller does not specify one.
	DefaultInterval = 1 * time.Second
)

// Poller drains one queued daemon event for sel, or returns a nil payload
// if none is pending. *actor.Actor satisfies this.
type Poller interface {
	PollEvent(ctx context.Context, sel selector.Selector) (json.RawMessage, error)
}

// Indexer ingests one raw event payload into the Index Store.
type Indexer interface {
	IngestEvent(event json.RawMessage) error
}

// triple identifies a running pump instance.
type triple struct {
	selector selector.Selector
	interval time.Duration
}

// Pump is the Event Pump: a single-goroutine poll loop gated by a rate
// limiter so the effective interval never falls below MinInterval even if
// ticks back up (e.g. after a slow PollEvent call).
type Pump struct {
	poller  Poller
	indexer Indexer
	events  chan json.RawMessage
	metrics *telemetry.Collector
	logger  *slog.Logger

	mu      sync.Mutex
	running *triple
	stop    chan struct{}
	done    chan struct{}
}

// New creates a Pump. events receives every drained payload for UI
// forwarding; it is never closed by the Pump. Sends never block: when no
// receiver is ready and the buffer is full, the event is dropped. metrics
// may be nil.
func New(poller Poller, indexer Indexer, events chan json.RawMessage, metrics *telemetry.Collector, logger *slog.Logger) *Pump {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pump{poller: poller, indexer: indexer, events: events, metrics: metrics, logger: logger}
}

// ClampInterval clamps requested into [MinInterval, MaxInterval], applying
// DefaultInterval when requested is zero.
func ClampInterval(requested time.Duration) time.Duration {
	if requested <= 0 {
		requested = DefaultInterval
	}
	if requested < MinInterval {
		return MinInterval
	}
	if requested > MaxInterval {
		return MaxInterval
	}
	return requested
}

// Start begins polling sel at interval, clamped via ClampInterval. Calling
// Start again with an identical (selector, clamped interval) triple is a
// no-op; any other triple stops the current pump first. Returns the
// interval actually in effect.
func (p *Pump) Start(sel selector.Selector, interval time.Duration) time.Duration {
	clamped := ClampInterval(interval)
	next := triple{selector: sel, interval: clamped}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running != nil && *p.running == next {
		return clamped
	}
	p.stopLocked()

	stop := make(chan struct{})
	done := make(chan struct{})
	p.stop = stop
	p.done = done
	p.running = &next

	if p.metrics != nil {
		p.metrics.SetPumpInterval(clamped)
	}

	go p.run(sel, clamped, stop, done)

	return clamped
}

// Stop halts the running pump, if any, and blocks until its goroutine has
// exited. Safe to call when no pump is running.
func (p *Pump) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Running reports whether a pump goroutine is currently active.
func (p *Pump) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running != nil
}

// CurrentIntervalMs reports the clamped interval of the running pump, or 0
// if no pump is running.
func (p *Pump) CurrentIntervalMs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running == nil {
		return 0
	}
	return p.running.interval.Milliseconds()
}

// stopLocked must be called with p.mu held.
func (p *Pump) stopLocked() {
	if p.running == nil {
		return
	}
	close(p.stop)
	<-p.done
	p.running = nil
	p.stop = nil
	p.done = nil
}

func (p *Pump) run(sel selector.Selector, interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// limiter guarantees actual poll cadence never exceeds 1/MinInterval
	// even if the caller requests something close to MinInterval and the
	// system is otherwise idle enough for ticks to bunch up.
	limiter := rate.NewLimiter(rate.Every(MinInterval), 1)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !limiter.Allow() {
				continue
			}
			p.tick(sel)
		}
	}
}

func (p *Pump) tick(sel selector.Selector) {
	ctx := context.Background()
	payload, err := p.poller.PollEvent(ctx, sel)
	if err != nil {
		if isRuntimeNotStarted(err) {
			return
		}
		p.logger.Debug("event pump poll failed", "profile", sel.ProfileName, "error", err)
		return
	}
	if len(payload) == 0 {
		return
	}

	if err := p.indexer.IngestEvent(payload); err != nil {
		p.logger.Debug("event pump ingest failed", "profile", sel.ProfileName, "error", err)
	}

	if p.events != nil {
		select {
		case p.events <- payload:
		default:
			p.logger.Debug("event pump UI channel full, dropping event", "profile", sel.ProfileName)
		}
	}

	if p.metrics != nil {
		p.metrics.RecordEventsDrained(ctx, sel.ProfileName, 1)
	}
}

func isRuntimeNotStarted(err error) bool {
	var rerr *weftErrors.RuntimeError
	if errors.As(err, &rerr) {
		return strings.Contains(strings.ToLower(rerr.Message), "runtime not started")
	}
	return strings.Contains(strings.ToLower(err.Error()), "runtime not started")
}

var _ Indexer = (*index.Store)(nil)
