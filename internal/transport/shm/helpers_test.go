//go:build linux

/*
 * Copyright 2024 gRPC authors.
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
 */

package shm

import (
	"fmt"
	"testing"
	"time"
)

// createTestLayout creates a layout in a per-test directory with a unique
// name. Cleanup is registered with t.Cleanup so the segment is removed even
// if the test fails or panics.
func createTestLayout(t *testing.T, baseName string, streamsCap, throttleCap uint64) (dir, name string, l *Layout) {
	t.Helper()

	dir = t.TempDir()
	name = fmt.Sprintf("%s-%d", baseName, time.Now().UnixNano())

	l, err := CreateLayout(dir, name, streamsCap, throttleCap)
	if err != nil {
		t.Fatalf("Failed to create test layout %s: %v", name, err)
	}

	t.Cleanup(func() {
		l.Close()
		RemoveSegment(dir, name)
	})

	return dir, name, l
}
