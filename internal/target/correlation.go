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

import (
	"errors"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/CDumitra/k3po-nukleus-ext.java/internal/channel"
)

// DefaultCorrelationLimit bounds pending connects awaiting the peer.
const DefaultCorrelationLimit = 4096

var (
	// ErrCorrelationEvicted fails a pending connect dropped to make room for
	// newer ones.
	ErrCorrelationEvicted = errors.New("target: correlation evicted")

	// ErrCorrelationPurged fails pending connects when the table is purged.
	ErrCorrelationPurged = errors.New("target: correlation purged")
)

type correlationEntry struct {
	Correlation
	err error // nil when taken by the caller
}

// CorrelationTable holds pending connects by correlation id. Once full, the
// oldest entry is evicted and its future fails with ErrCorrelationEvicted.
type CorrelationTable struct {
	logger  hclog.Logger
	entries *lru.Cache[int64, *correlationEntry]
}

// NewCorrelationTable returns a table holding at most size entries.
func NewCorrelationTable(size int, logger hclog.Logger) (*CorrelationTable, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	t := &CorrelationTable{logger: logger.Named("correlations")}
	entries, err := lru.NewWithEvict[int64, *correlationEntry](size, t.onEvict)
	if err != nil {
		return nil, err
	}
	t.entries = entries
	return t, nil
}

// onEvict runs for every removal; entries leaving through Take carry no error.
func (t *CorrelationTable) onEvict(id int64, e *correlationEntry) {
	setCorrelationsGauge(t.entries.Len())
	if e.err == nil {
		return
	}
	t.logger.Debug("failing pending connect", "correlation_id", id, "error", e.err)
	e.Future.Fail(e.err)
}

// Put records a pending connect.
func (t *CorrelationTable) Put(correlationID int64, c Correlation) {
	t.entries.Add(correlationID, &correlationEntry{Correlation: c, err: ErrCorrelationEvicted})
	setCorrelationsGauge(t.entries.Len())
}

// Contains reports whether correlationID is pending.
func (t *CorrelationTable) Contains(correlationID int64) bool {
	return t.entries.Contains(correlationID)
}

// Take removes and returns the pending connect without completing it.
func (t *CorrelationTable) Take(correlationID int64) (Correlation, bool) {
	e, ok := t.entries.Peek(correlationID)
	if !ok {
		return Correlation{}, false
	}
	e.err = nil
	t.entries.Remove(correlationID)
	return e.Correlation, true
}

// Fulfill completes the pending connect: the peer correlated its reply
// stream. It returns the connecting channel.
func (t *CorrelationTable) Fulfill(correlationID int64) (*channel.Channel, bool) {
	c, ok := t.Take(correlationID)
	if !ok {
		return nil, false
	}
	c.Future.Succeed()
	return c.Channel, true
}

// Reject fails the pending connect with err.
func (t *CorrelationTable) Reject(correlationID int64, err error) bool {
	c, ok := t.Take(correlationID)
	if !ok {
		return false
	}
	c.Future.Fail(err)
	return true
}

// Purge fails every pending connect with ErrCorrelationPurged.
func (t *CorrelationTable) Purge() {
	for _, id := range t.entries.Keys() {
		if e, ok := t.entries.Peek(id); ok {
			e.err = ErrCorrelationPurged
		}
	}
	t.entries.Purge()
}

// Len returns the number of pending connects.
func (t *CorrelationTable) Len() int { return t.entries.Len() }
