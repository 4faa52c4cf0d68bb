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
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/CDumitra/k3po-nukleus-ext.java/internal/channel"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/future"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/target"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/transport/shm"
)

type createOptions struct {
	metricsAddr string
	connects    []string
	send        string
	wait        bool
}

func createCmd(e *env) *cobra.Command {
	var opts createOptions

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a layout and run a target on it",
		Long: `Create a layout, run a stream target over it and keep it mapped until
interrupted. Each --connect address opens an outbound stream; --send writes
a payload on every stream once it is connected.

Examples:
  shmstream create echo
  shmstream create echo --connect 'shm://echo?route=3' --send hello
  shmstream create echo --metrics-addr 127.0.0.1:9102`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCreate(ctx, e, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().StringArrayVar(&opts.connects, "connect", nil, "shm:// address to connect to (repeatable)")
	cmd.Flags().StringVar(&opts.send, "send", "", "Payload written on each connected stream")
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "Wait for a peer to attach before connecting")
	return cmd
}

func runCreate(ctx context.Context, e *env, name string, opts createOptions) error {
	addrs := make([]shm.ShmAddress, 0, len(opts.connects))
	for _, raw := range opts.connects {
		addr, err := shm.ParseAddress(raw)
		if err != nil {
			return err
		}
		addrs = append(addrs, addr)
	}

	m, err := e.initTelemetry(opts.metricsAddr)
	if err != nil {
		return err
	}
	if m != nil {
		defer m.Close()
	}

	layout, err := shm.CreateLayout(e.cfg.Directory, name, e.cfg.StreamsCapacity, e.cfg.ThrottleCapacity)
	if err != nil {
		return err
	}

	correlations, err := target.NewCorrelationTable(e.cfg.CorrelationLimit, e.logger)
	if err != nil {
		layout.Close()
		return err
	}
	tg, err := target.NewFromLayout(layout, target.Options{
		Logger:       e.logger,
		Correlations: correlations,
		MaxFrameSize: e.cfg.MaxFrameSize,
		PollLimit:    e.cfg.PollLimit,
	})
	if err != nil {
		layout.Close()
		return err
	}
	defer tg.Release()
	defer correlations.Purge()

	e.logger.Info("layout created", "path", layout.Path(),
		"streams_capacity", layout.Streams().Capacity(), "throttle_capacity", layout.Throttle().Capacity())

	poller := target.NewPoller(tg, layout.Throttle(), target.PollerOptions{
		Logger:      e.logger,
		IdleTimeout: e.cfg.IdleTimeout,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return poller.Run(ctx) })
	if opts.metricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, opts.metricsAddr, e.logger) })
	}
	g.Go(func() error {
		if opts.wait {
			if err := layout.WaitForPeer(ctx); err != nil {
				return err
			}
			e.logger.Info("peer attached")
		}
		for i, addr := range addrs {
			// Outbound streams take odd ids, their replies the following even id.
			targetID := int64(2*i + 1)
			ch := channel.New(targetID, targetID+1, addr.Config, eventLogger(e.logger))
			if err := poller.Do(ctx, connectTask(ch, addr.Address, opts.send, e.logger)); err != nil {
				return err
			}
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// connectTask connects ch on the poller and, once connected, writes payload.
func connectTask(ch *channel.Channel, remote channel.Address, payload string, logger hclog.Logger) func(*target.Target) error {
	return func(tg *target.Target) error {
		f := future.New()
		f.AddListener(func(f *future.Future) {
			if err := f.Err(); err != nil {
				logger.Warn("connect failed", "stream", ch.TargetID(), "remote", remote, "error", err)
				return
			}
			if payload == "" {
				return
			}
			req := channel.NewWriteRequest([]byte(payload), nil)
			if err := tg.Write(ch, req); err != nil {
				logger.Warn("write failed", "stream", ch.TargetID(), "error", err)
			}
		})
		tg.Connect(ch, remote, f)
		return nil
	}
}

func eventLogger(logger hclog.Logger) channel.EventSink {
	return channel.EventSinkFunc(func(ev channel.Event) {
		switch ev.Type {
		case channel.EventBound, channel.EventConnected:
			logger.Info(fmt.Sprintf("channel %s", ev.Type), "stream", ev.Channel.TargetID(), "address", ev.Address)
		case channel.EventWriteComplete:
			logger.Debug("write complete", "stream", ev.Channel.TargetID(), "bytes", ev.Bytes)
		default:
			logger.Info(fmt.Sprintf("channel %s", ev.Type), "stream", ev.Channel.TargetID())
		}
	})
}
