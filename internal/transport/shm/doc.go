/*
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
 */

// Package shm provides the shared memory rings that carry stream frames
// between a target and its peer.
//
// A segment is a memory-mapped file holding a fixed header and two
// single-producer single-consumer rings of typed records. The streams ring
// carries BEGIN, DATA and END frames from the target; the throttle ring
// carries WINDOW and RESET frames back. Writes never block and never
// partially succeed. Readers drain in batches and may park on a futex when
// a ring is empty.
package shm
