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

// Package telemetry exposes OpenTelemetry metrics for the Actor, Index
// Store, and Event Pump over a Prometheus scrape endpoint.
package telemetry

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// IndexGauges supplies the Index Store's current runtime_metrics() snapshot
// for observable gauge callbacks.
type IndexGauges interface {
	MessageCount() int64
	ThreadCount() int64
	PeerCount() int64
	PendingAttachmentBytes() int64
}

// Collector records Actor command outcomes and exposes Index Store and
// Event Pump state as OpenTelemetry gauges.
type Collector struct {
	meter metric.Meter

	commandsTotal   metric.Int64Counter
	commandLatency  metric.Float64Histogram
	eventsProcessed metric.Int64Counter
	handleEvictions metric.Int64Counter

	indexMu sync.RWMutex
	index   IndexGauges

	pumpMu       sync.RWMutex
	pumpInterval time.Duration
}

// NewCollector creates a metrics collector using the given meter provider.
func NewCollector(meterProvider metric.MeterProvider) (*Collector, error) {
	meter := meterProvider.Meter("weft")

	c := &Collector{meter: meter}

	var err error

	c.commandsTotal, err = meter.Int64Counter(
		"weft_actor_commands_total",
		metric.WithDescription("Total number of Runtime Actor commands dispatched"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, err
	}

	c.commandLatency, err = meter.Float64Histogram(
		"weft_actor_command_duration_seconds",
		metric.WithDescription("Runtime Actor command handling duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	c.eventsProcessed, err = meter.Int64Counter(
		"weft_event_pump_events_total",
		metric.WithDescription("Total number of daemon events drained by the event pump"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	c.handleEvictions, err = meter.Int64Counter(
		"weft_attachment_handle_evictions_total",
		metric.WithDescription("Total number of attachment handles evicted from the disk cache"),
		metric.WithUnit("{handle}"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"weft_index_messages",
		metric.WithDescription("Number of messages mirrored into the index store"),
		metric.WithUnit("{message}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			if idx := c.currentIndex(); idx != nil {
				observer.Observe(idx.MessageCount())
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"weft_index_threads",
		metric.WithDescription("Number of threads mirrored into the index store"),
		metric.WithUnit("{thread}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			if idx := c.currentIndex(); idx != nil {
				observer.Observe(idx.ThreadCount())
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"weft_index_peers",
		metric.WithDescription("Number of peers mirrored into the index store"),
		metric.WithUnit("{peer}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			if idx := c.currentIndex(); idx != nil {
				observer.Observe(idx.PeerCount())
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"weft_index_pending_attachment_bytes",
		metric.WithDescription("Bytes of attachments on outbound messages whose delivery is still pending"),
		metric.WithUnit("By"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			if idx := c.currentIndex(); idx != nil {
				observer.Observe(idx.PendingAttachmentBytes())
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Float64ObservableGauge(
		"weft_event_pump_interval_seconds",
		metric.WithDescription("Current event pump polling interval after rate-limit clamping"),
		metric.WithUnit("s"),
		metric.WithFloat64Callback(func(ctx context.Context, observer metric.Float64Observer) error {
			c.pumpMu.RLock()
			interval := c.pumpInterval
			c.pumpMu.RUnlock()
			observer.Observe(interval.Seconds())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"weft_goroutines",
		metric.WithDescription("Number of active goroutines"),
		metric.WithUnit("{goroutine}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			observer.Observe(int64(runtime.NumGoroutine()))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// RecordCommand records the completion of a Runtime Actor command.
func (c *Collector) RecordCommand(ctx context.Context, command string, profile string, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("command", command),
		attribute.String("profile", profile),
		attribute.Bool("success", success),
	}
	c.commandsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	c.commandLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordEventsDrained records how many daemon events a single pump tick processed.
func (c *Collector) RecordEventsDrained(ctx context.Context, profile string, count int) {
	if count <= 0 {
		return
	}
	c.eventsProcessed.Add(ctx, int64(count), metric.WithAttributes(attribute.String("profile", profile)))
}

// RecordHandleEviction records an attachment handle eviction.
func (c *Collector) RecordHandleEviction(ctx context.Context, reason string) {
	c.handleEvictions.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// SetIndexGauges wires the Index Store source used by the observable gauges.
func (c *Collector) SetIndexGauges(idx IndexGauges) {
	c.indexMu.Lock()
	c.index = idx
	c.indexMu.Unlock()
}

func (c *Collector) currentIndex() IndexGauges {
	c.indexMu.RLock()
	defer c.indexMu.RUnlock()
	return c.index
}

// SetPumpInterval records the event pump's current clamped polling interval.
func (c *Collector) SetPumpInterval(d time.Duration) {
	c.pumpMu.Lock()
	c.pumpInterval = d
	c.pumpMu.Unlock()
}
