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

import "fmt"

// Address names a route on a partition. Reply is the partition the peer
// answers on.
type Address struct {
	Partition string
	Route     int64
	Reply     string
}

// Network implements net.Addr.
func (a Address) Network() string { return "shm" }

// String implements net.Addr.
func (a Address) String() string {
	if a.Reply != "" {
		return fmt.Sprintf("shm://%s?route=%d&reply=%s", a.Partition, a.Route, a.Reply)
	}
	return fmt.Sprintf("shm://%s?route=%d", a.Partition, a.Route)
}

// IsZero reports whether a is unset.
func (a Address) IsZero() bool { return a == Address{} }

// ReplyTo returns the local address a client binds to when it connects to a:
// the reply partition with the same route.
func (a Address) ReplyTo() Address {
	reply := a.Reply
	if reply == "" {
		reply = a.Partition + "#reply"
	}
	return Address{Partition: reply, Route: a.Route, Reply: a.Partition}
}
