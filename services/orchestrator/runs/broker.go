// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runs

import (
	"sync"

	"github.com/ConstellationAI/constellation/services/orchestrator/engine"
)

// subscriberBuffer is the per-subscriber queue length. A subscriber that
// falls further behind loses events.
const subscriberBuffer = 64

// Broker fans run events out to live subscribers.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan engine.Event]struct{}
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan engine.Event]struct{})}
}

// Subscribe returns a channel of events for runID and a function that
// unsubscribes and closes it. The channel is also closed after a terminal
// event.
func (b *Broker) Subscribe(runID string) (<-chan engine.Event, func()) {
	ch := make(chan engine.Event, subscriberBuffer)
	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[chan engine.Event]struct{})
	}
	b.subs[runID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(runID, ch) })
	}
}

// Publish delivers e without blocking.
func (b *Broker) Publish(e engine.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[e.RunID] {
		select {
		case ch <- e:
		default:
		}
		if e.Terminal() {
			close(ch)
			delete(b.subs[e.RunID], ch)
		}
	}
	if len(b.subs[e.RunID]) == 0 {
		delete(b.subs, e.RunID)
	}
}

func (b *Broker) remove(runID string, ch chan engine.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[runID][ch]; !ok {
		return
	}
	delete(b.subs[runID], ch)
	close(ch)
	if len(b.subs[runID]) == 0 {
		delete(b.subs, runID)
	}
}
