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
	"fmt"
	"net/url"

	"github.com/mitchellh/mapstructure"

	"github.com/CDumitra/k3po-nukleus-ext.java/internal/channel"
)

// ShmAddress is a parsed shm:// address.
type ShmAddress struct {
	Address channel.Address
	Config  channel.Config
	Cap     uint64
}

type addressOptions struct {
	Route  int64  `mapstructure:"route"`
	Reply  string `mapstructure:"reply"`
	Duplex bool   `mapstructure:"duplex"`
	Cap    uint64 `mapstructure:"cap"`
}

// ParseAddress parses shm URLs of the form:
//
//	shm://partition?route=3&reply=source&duplex=true&cap=262144
//
// Query values are weakly typed; unknown keys are rejected.
func ParseAddress(raw string) (ShmAddress, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ShmAddress{}, fmt.Errorf("parse shm address: %w", err)
	}
	if u.Scheme != "shm" {
		return ShmAddress{}, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	name := u.Host
	if name == "" {
		// Allow shm:///name via path
		name = u.Path
		if len(name) > 0 && name[0] == '/' {
			name = name[1:]
		}
	}
	if name == "" {
		return ShmAddress{}, fmt.Errorf("missing shm partition name")
	}

	values := make(map[string]interface{}, len(u.Query()))
	for k, v := range u.Query() {
		if len(v) > 0 {
			values[k] = v[len(v)-1]
		}
	}

	opts := addressOptions{Cap: DefaultStreamsCapacity}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &opts,
	})
	if err != nil {
		return ShmAddress{}, err
	}
	if err := decoder.Decode(values); err != nil {
		return ShmAddress{}, fmt.Errorf("invalid shm address options: %w", err)
	}
	if !IsPowerOfTwo(opts.Cap) {
		return ShmAddress{}, fmt.Errorf("cap must be power of two: %d", opts.Cap)
	}

	return ShmAddress{
		Address: channel.Address{Partition: name, Route: opts.Route, Reply: opts.Reply},
		Config:  channel.Config{Duplex: opts.Duplex},
		Cap:     opts.Cap,
	}, nil
}
