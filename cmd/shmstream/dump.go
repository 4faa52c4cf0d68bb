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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/CDumitra/k3po-nukleus-ext.java/internal/frame"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/transport/shm"
)

type dumpOptions struct {
	follow      bool
	window      int32
	metricsAddr string
}

func dumpCmd(e *env) *cobra.Command {
	var opts dumpOptions

	cmd := &cobra.Command{
		Use:   "dump <name>",
		Short: "Attach to a layout and print frames from its streams ring",
		Long: `Attach to an existing layout as its peer and print every frame read from
the streams ring. With --window the peer grants that much credit on BEGIN
and returns credit for every DATA frame, so a target can keep writing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDump(ctx, cmd.OutOrStdout(), e, args[0], opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Keep waiting for new frames")
	cmd.Flags().Int32Var(&opts.window, "window", 0, "Credit granted on BEGIN and replenished after DATA")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func runDump(ctx context.Context, out io.Writer, e *env, name string, opts dumpOptions) error {
	if opts.window < 0 {
		return fmt.Errorf("window must not be negative, got %d", opts.window)
	}

	m, err := e.initTelemetry(opts.metricsAddr)
	if err != nil {
		return err
	}
	if m != nil {
		defer m.Close()
	}

	layout, err := shm.OpenLayout(e.cfg.Directory, name)
	if err != nil {
		return err
	}
	defer layout.Close()

	p := &peer{out: out, throttle: layout.Throttle(), window: opts.window}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if opts.metricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, opts.metricsAddr, e.logger) })
	}
	g.Go(func() error {
		// The metrics server lives as long as the reader.
		defer cancel()
		return p.read(ctx, layout.Streams(), opts.follow)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// peer prints streams-ring frames and optionally answers them with credit.
type peer struct {
	out      io.Writer
	throttle *shm.ShmRing
	window   int32
}

func (p *peer) read(ctx context.Context, streams *shm.ShmRing, follow bool) error {
	for {
		n, err := streams.Drain(p.handle, 0)
		if err != nil {
			return err
		}
		if !follow {
			return nil
		}
		if n > 0 {
			continue
		}
		err = streams.WaitForData(ctx, 100*time.Millisecond)
		switch {
		case err == nil, errors.Is(err, shm.ErrFutexTimeout):
		case errors.Is(err, shm.ErrRingClosed):
			return nil
		default:
			return err
		}
	}
}

func (p *peer) handle(typeID int32, body []byte) error {
	f, err := frame.Decode(typeID, body)
	if err != nil {
		fmt.Fprintf(p.out, "%s: %v\n", frame.TypeName(typeID), err)
		return nil
	}
	fmt.Fprintln(p.out, describe(f))

	if p.window == 0 {
		return nil
	}
	switch f := f.(type) {
	case frame.Begin:
		return p.grant(f.StreamID, p.window)
	case frame.Data:
		if len(f.Payload) > 0 {
			return p.grant(f.StreamID, int32(len(f.Payload)))
		}
	}
	return nil
}

func (p *peer) grant(streamID int64, update int32) error {
	b := frame.AppendWindow(nil, frame.Window{StreamID: streamID, Update: update})
	return p.throttle.Write(frame.WindowTypeID, b)
}

func describe(f frame.Frame) string {
	switch f := f.(type) {
	case frame.Begin:
		return fmt.Sprintf("BEGIN stream=%d reference=%d correlation=%d ext=%q",
			f.StreamID, f.ReferenceID, f.CorrelationID, f.Extension)
	case frame.Data:
		return fmt.Sprintf("DATA stream=%d len=%d payload=%q ext=%q",
			f.StreamID, len(f.Payload), f.Payload, f.Extension)
	case frame.End:
		return fmt.Sprintf("END stream=%d ext=%q", f.StreamID, f.Extension)
	case frame.Window:
		return fmt.Sprintf("WINDOW stream=%d update=%d", f.StreamID, f.Update)
	case frame.Reset:
		return fmt.Sprintf("RESET stream=%d", f.StreamID)
	}
	return fmt.Sprintf("%s stream=%d", frame.TypeName(f.TypeID()), f.Stream())
}
