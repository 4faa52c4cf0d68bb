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
	"time"
)

// handshakePollInterval is how often the ready flags are re-checked.
const handshakePollInterval = time.Millisecond

// WaitForAttached waits for another process to open the segment. The owner
// calls this after creating it.
func (s *Segment) WaitForAttached(ctx context.Context) error {
	return waitForFlag(ctx, s.Header().AttachedReady)
}

// WaitForOwner waits for the owner to mark the segment ready. The attached
// side calls this after opening it.
func (s *Segment) WaitForOwner(ctx context.Context) error {
	return waitForFlag(ctx, s.Header().OwnerReady)
}

// WaitForPeer waits for the other side of the segment, whichever role this
// process holds.
func (s *Segment) WaitForPeer(ctx context.Context) error {
	if s.Owner {
		return s.WaitForAttached(ctx)
	}
	return s.WaitForOwner(ctx)
}

func waitForFlag(ctx context.Context, ready func() bool) error {
	if ready() {
		return nil
	}

	ticker := time.NewTicker(handshakePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ready() {
				return nil
			}
		}
	}
}
