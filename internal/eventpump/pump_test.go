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

package eventpump

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coretommy/weft/internal/selector"
	weftErrors "github.com/coretommy/weft/pkg/errors"
)

type fakePoller struct {
	mu      sync.Mutex
	queue   []json.RawMessage
	err     error
	calls   atomic.Int64
}

func (f *fakePoller) PollEvent(ctx context.Context, sel selector.Selector) (json.RawMessage, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.queue) == 0 {
		return nil, nil
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	return next, nil
}

func (f *fakePoller) push(payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, json.RawMessage(payload))
}

type fakeIndexer struct {
	mu     sync.Mutex
	events []json.RawMessage
	err    error
}

func (f *fakeIndexer) IngestEvent(event json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeIndexer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestClampInterval(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, DefaultInterval},
		{50 * time.Millisecond, MinInterval},
		{10 * time.Second, MaxInterval},
		{500 * time.Millisecond, 500 * time.Millisecond},
	}
	for _, c := range cases {
		if got := ClampInterval(c.in); got != c.want {
			t.Errorf("ClampInterval(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestPump_DrainsEventsIntoIndexAndUIChannel(t *testing.T) {
	poller := &fakePoller{}
	poller.push(`{"event_type":"inbound"}`)
	indexer := &fakeIndexer{}
	events := make(chan json.RawMessage, 4)
	p := New(poller, indexer, events, nil, nil)

	sel := selector.Selector{ProfileName: "default", RPCEndpoint: "rmap.world:4242"}
	p.Start(sel, MinInterval)
	defer p.Stop()

	waitFor(t, func() bool { return indexer.count() == 1 })

	select {
	case got := <-events:
		if string(got) != `{"event_type":"inbound"}` {
			t.Fatalf("UI channel payload = %s", got)
		}
	default:
		t.Fatal("expected an event forwarded to the UI channel")
	}
}

func TestPump_StartIsIdempotentForIdenticalTriple(t *testing.T) {
	poller := &fakePoller{}
	indexer := &fakeIndexer{}
	p := New(poller, indexer, nil, nil, nil)
	sel := selector.Selector{ProfileName: "default"}

	p.Start(sel, time.Second)
	p.mu.Lock()
	first := p.running
	p.mu.Unlock()

	p.Start(sel, time.Second)
	p.mu.Lock()
	second := p.running
	p.mu.Unlock()

	if first != second {
		t.Fatal("Start() with an identical triple should not replace the running pump")
	}
	p.Stop()
}

func TestPump_StartWithDifferentTripleReplacesPump(t *testing.T) {
	poller := &fakePoller{}
	indexer := &fakeIndexer{}
	p := New(poller, indexer, nil, nil, nil)
	sel := selector.Selector{ProfileName: "default"}

	p.Start(sel, time.Second)
	p.mu.Lock()
	firstDone := p.done
	p.mu.Unlock()

	p.Start(sel, 2*time.Second)

	select {
	case <-firstDone:
	case <-time.After(time.Second):
		t.Fatal("expected the previous pump goroutine to exit after Start() with a new triple")
	}
	p.Stop()
}

func TestPump_SwallowsRuntimeNotStartedError(t *testing.T) {
	poller := &fakePoller{err: &weftErrors.RuntimeError{Op: "poll_event", Message: "runtime not started"}}
	indexer := &fakeIndexer{}
	p := New(poller, indexer, nil, nil, nil)
	sel := selector.Selector{ProfileName: "default"}

	p.Start(sel, MinInterval)
	time.Sleep(4 * MinInterval)
	p.Stop()

	if indexer.count() != 0 {
		t.Fatalf("expected no events ingested on a runtime-not-started error, got %d", indexer.count())
	}
}

func TestPump_LogsOtherErrorsWithoutPanicking(t *testing.T) {
	poller := &fakePoller{err: fmt.Errorf("boom")}
	indexer := &fakeIndexer{}
	p := New(poller, indexer, nil, nil, nil)
	sel := selector.Selector{ProfileName: "default"}

	p.Start(sel, MinInterval)
	time.Sleep(2 * MinInterval)
	p.Stop()
}

func TestIsRuntimeNotStarted(t *testing.T) {
	if !isRuntimeNotStarted(&weftErrors.RuntimeError{Message: "runtime not started"}) {
		t.Fatal("expected RuntimeError with matching message to be detected")
	}
	if isRuntimeNotStarted(fmt.Errorf("some other failure")) {
		t.Fatal("unexpected match on unrelated error")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
