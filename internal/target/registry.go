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

package target

// ThrottleTable is the default ThrottleRegistry. It is owned by the event
// loop and not synchronized.
type ThrottleTable struct {
	handlers map[int64]MessageHandler
}

// NewThrottleTable returns an empty table.
func NewThrottleTable() *ThrottleTable {
	return &ThrottleTable{handlers: make(map[int64]MessageHandler)}
}

func (t *ThrottleTable) Lookup(streamID int64) (MessageHandler, bool) {
	h, ok := t.handlers[streamID]
	return h, ok
}

func (t *ThrottleTable) Register(streamID int64, h MessageHandler) {
	t.handlers[streamID] = h
}

func (t *ThrottleTable) Unregister(streamID int64) {
	delete(t.handlers, streamID)
}

// Len returns the number of registered streams.
func (t *ThrottleTable) Len() int { return len(t.handlers) }
