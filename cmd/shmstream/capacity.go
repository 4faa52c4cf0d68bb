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

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/CDumitra/k3po-nukleus-ext.java/internal/transport/shm"
)

var probeSizes = []int{10, 100, 1000, 5000, 10000, 32768, 65000, 65536, 262144, 524288}

func capacityCmd(e *env) *cobra.Command {
	var chunk int

	cmd := &cobra.Command{
		Use:   "capacity [name]",
		Short: "Probe usable record sizes of a throwaway layout",
		Long: `Create a temporary layout with the configured ring capacities, report
its geometry, then probe which record sizes fit and how much the streams
ring holds before it is full. The layout is removed on exit.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := fmt.Sprintf("capacity-%d", os.Getpid())
			if len(args) == 1 {
				name = args[0]
			}
			return runCapacity(cmd.OutOrStdout(), e, name, chunk)
		},
	}

	cmd.Flags().IntVar(&chunk, "chunk", 1000, "Record size used to fill the ring")
	return cmd
}

func runCapacity(out io.Writer, e *env, name string, chunk int) error {
	if chunk <= 0 {
		return fmt.Errorf("chunk must be positive, got %d", chunk)
	}
	layout, err := shm.CreateLayout(e.cfg.Directory, name, e.cfg.StreamsCapacity, e.cfg.ThrottleCapacity)
	if err != nil {
		return err
	}
	defer layout.Close()

	ring := layout.Streams()

	fmt.Fprintf(out, "=== Ring Capacity Analysis ===\n")
	fmt.Fprintf(out, "Segment: %s (%d bytes)\n", layout.Path(), layout.Segment().Header().TotalSize())
	fmt.Fprintf(out, "Streams ring capacity: %d bytes\n", ring.Capacity())
	fmt.Fprintf(out, "Throttle ring capacity: %d bytes\n", layout.Throttle().Capacity())
	fmt.Fprintf(out, "Max record length: %d bytes\n", ring.MaxRecordLength())
	fmt.Fprintf(out, "Max record body: %d bytes\n", ring.MaxBodyLength())

	fmt.Fprintf(out, "\n=== Single Write Tests ===\n")
	for _, size := range probeSizes {
		body := make([]byte, size)
		for i := range body {
			body[i] = byte(i % 256)
		}
		if err := ring.Write(0x7f, body); err != nil {
			fmt.Fprintf(out, "Size %d bytes: FAIL (%v)\n", size, err)
			break
		}
		fmt.Fprintf(out, "Size %d bytes: OK\n", size)
		if _, err := ring.Drain(func(int32, []byte) error { return nil }, 1); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "\n=== Backpressure Test ===\n")
	total, records := 0, 0
	body := make([]byte, chunk)
	for {
		err := ring.Write(0x7f, body)
		if errors.Is(err, shm.ErrRingFull) || errors.Is(err, shm.ErrRecordTooLarge) {
			fmt.Fprintf(out, "Full after %d bytes written (%d records): %v\n", total, records, err)
			break
		}
		if err != nil {
			return err
		}
		total += chunk
		records++
	}
	fmt.Fprintf(out, "Ring used: %d of %d bytes\n", ring.Used(), ring.Capacity())
	return nil
}
