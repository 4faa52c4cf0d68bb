/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package channel

import (
	"fmt"
	"sync"
)

// EventType enumerates channel lifecycle notifications.
type EventType uint8

const (
	EventBound EventType = iota + 1
	EventConnected
	EventWriteComplete
	EventOutputShutdown
	EventAborted
	EventDisconnected
	EventUnbound
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventBound:
		return "bound"
	case EventConnected:
		return "connected"
	case EventWriteComplete:
		return "write-complete"
	case EventOutputShutdown:
		return "output-shutdown"
	case EventAborted:
		return "aborted"
	case EventDisconnected:
		return "disconnected"
	case EventUnbound:
		return "unbound"
	case EventClosed:
		return "closed"
	}
	return fmt.Sprintf("event(%d)", uint8(t))
}

// Event is delivered to a channel's EventSink.
type Event struct {
	Type    EventType
	Channel *Channel
	Address Address // Bound, Connected
	Bytes   int     // WriteComplete
}

// EventSink receives channel events. It is invoked synchronously on the
// goroutine driving the channel.
type EventSink interface {
	HandleEvent(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// HandleEvent calls f(e).
func (f EventSinkFunc) HandleEvent(e Event) { f(e) }

// Recorder is an EventSink that keeps every event, for tests and diagnostics.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// HandleEvent implements EventSink.
func (r *Recorder) HandleEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]EventType, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
