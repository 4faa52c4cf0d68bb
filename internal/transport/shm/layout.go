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

package shm

import (
	"context"
	"fmt"
)

// Layout is a mapped segment with its two rings: streams carries frames the
// target writes, throttle carries flow control the peer writes back.
type Layout struct {
	name     string
	seg      *Segment
	streams  *ShmRing
	throttle *ShmRing
}

// CreateLayout creates a new segment named name under dir ("" for the
// default directory).
func CreateLayout(dir, name string, streamsCap, throttleCap uint64) (*Layout, error) {
	seg, err := CreateSegment(SegmentPath(dir, name), streamsCap, throttleCap)
	if err != nil {
		return nil, fmt.Errorf("create layout %q: %w", name, err)
	}
	return newLayout(name, seg), nil
}

// OpenLayout maps an existing segment named name under dir.
func OpenLayout(dir, name string) (*Layout, error) {
	seg, err := OpenSegment(SegmentPath(dir, name))
	if err != nil {
		return nil, fmt.Errorf("open layout %q: %w", name, err)
	}
	return newLayout(name, seg), nil
}

func newLayout(name string, seg *Segment) *Layout {
	return &Layout{
		name:     name,
		seg:      seg,
		streams:  seg.StreamsRing(),
		throttle: seg.ThrottleRing(),
	}
}

func (l *Layout) Name() string       { return l.name }
func (l *Layout) Segment() *Segment  { return l.seg }
func (l *Layout) Streams() *ShmRing  { return l.streams }
func (l *Layout) Throttle() *ShmRing { return l.throttle }
func (l *Layout) Path() string       { return l.seg.Path }

// WaitForPeer blocks until the other process has mapped the segment.
func (l *Layout) WaitForPeer(ctx context.Context) error {
	return l.seg.WaitForPeer(ctx)
}

// Close unmaps the segment. The creating side also removes the file.
func (l *Layout) Close() error {
	return l.seg.Close()
}
