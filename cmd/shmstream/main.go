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

// Command shmstream creates, inspects and drives shared-memory stream
// layouts.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/CDumitra/k3po-nukleus-ext.java/internal/config"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/logging"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/target"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/telemetry"
)

// env carries the state every subcommand shares after flag parsing.
type env struct {
	configPath string
	logLevel   string
	dir        string

	cfg    config.Config
	logger hclog.Logger
}

func (e *env) load(cmd *cobra.Command) error {
	cfg := config.Default()
	if e.configPath != "" {
		var err error
		if cfg, err = config.Load(e.configPath); err != nil {
			return err
		}
	}
	if e.logLevel != "" {
		cfg.Log.Level = e.logLevel
	}
	if e.dir != "" {
		cfg.Directory = e.dir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.Setup(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	e.cfg = cfg
	e.logger = logger
	return nil
}

// initTelemetry installs the metrics sinks. A metrics address forces the
// Prometheus sink on.
func (e *env) initTelemetry(metricsAddr string) (*telemetry.Metrics, error) {
	tcfg := e.cfg.Telemetry
	if metricsAddr != "" && tcfg.PrometheusRetentionTime <= 0 {
		tcfg.PrometheusRetentionTime = time.Minute
	}
	tcfg.Counters = target.Counters
	tcfg.Gauges = target.Gauges
	return telemetry.Init(tcfg)
}

func serveMetrics(ctx context.Context, addr string, logger hclog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func newRootCmd() *cobra.Command {
	e := &env{}

	root := &cobra.Command{
		Use:   "shmstream",
		Short: "Shared-memory stream layouts",
		Long: `shmstream manages the shared-memory layouts used by the stream target.

A layout holds two rings: the streams ring carrying BEGIN, DATA and END
frames toward the peer, and the throttle ring carrying WINDOW and RESET
frames back.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.load(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&e.configPath, "config", "c", "", "HCL configuration file")
	root.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "Log level (overrides the configuration file)")
	root.PersistentFlags().StringVar(&e.dir, "dir", "", "Directory holding segment files (default /dev/shm)")

	root.AddCommand(
		capacityCmd(e),
		createCmd(e),
		dumpCmd(e),
		injectCmd(e),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
