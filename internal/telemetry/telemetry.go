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

package telemetry

import (
	"time"

	"github.com/armon/go-metrics"
	"github.com/armon/go-metrics/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
)

const defaultPrefix = "shmstream"

// Config selects the metrics sinks.
type Config struct {
	// Disable skips metrics setup entirely.
	Disable bool

	// MetricsPrefix is prepended to every key.
	MetricsPrefix string

	// PrometheusRetentionTime enables the Prometheus sink when positive.
	PrometheusRetentionTime time.Duration

	// Counters and Gauges are registered with the Prometheus sink up front
	// so they are exported before their first update.
	Counters []prometheus.CounterDefinition
	Gauges   []prometheus.GaugeDefinition

	// Registerer receives the Prometheus sink. Defaults to the global registry.
	Registerer prom.Registerer
}

// Metrics is the handle returned by Init.
type Metrics struct {
	client     *metrics.Metrics
	inmemSink  *metrics.InmemSink
	prometheus *prometheus.PrometheusSink
	registerer prom.Registerer
}

// InmemSink returns the in-memory sink, for dumps and tests.
func (m *Metrics) InmemSink() *metrics.InmemSink { return m.inmemSink }

// PrometheusEnabled reports whether a Prometheus sink was installed.
func (m *Metrics) PrometheusEnabled() bool { return m.prometheus != nil }

// Client returns the global client installed by Init.
func (m *Metrics) Client() *metrics.Metrics { return m.client }

// Close unregisters the Prometheus sink so Init can be called again.
func (m *Metrics) Close() {
	if m.prometheus != nil {
		m.registerer.Unregister(m.prometheus)
	}
}

func prometheusSink(cfg Config) (*prometheus.PrometheusSink, error) {
	if cfg.PrometheusRetentionTime.Nanoseconds() < 1 {
		return nil, nil
	}
	opts := prometheus.PrometheusOpts{
		Expiration:         cfg.PrometheusRetentionTime,
		Registerer:         cfg.Registerer,
		CounterDefinitions: cfg.Counters,
		GaugeDefinitions:   cfg.Gauges,
	}
	return prometheus.NewPrometheusSinkFrom(opts)
}

// Init installs a global go-metrics client with an in-memory sink and, when a
// retention time is set, a Prometheus sink. It returns nil when disabled.
func Init(cfg Config) (*Metrics, error) {
	if cfg.Disable {
		return nil, nil
	}
	if cfg.MetricsPrefix == "" {
		cfg.MetricsPrefix = defaultPrefix
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prom.DefaultRegisterer
	}

	// Aggregate on 10 second intervals for 1 minute.
	memSink := metrics.NewInmemSink(10*time.Second, time.Minute)

	mCfg := metrics.DefaultConfig(cfg.MetricsPrefix)
	mCfg.EnableHostname = false
	mCfg.EnableRuntimeMetrics = false

	promSink, err := prometheusSink(cfg)
	if err != nil {
		return nil, err
	}

	m := &Metrics{inmemSink: memSink, registerer: cfg.Registerer}
	if promSink == nil {
		m.client, err = metrics.NewGlobal(mCfg, memSink)
	} else {
		m.prometheus = promSink
		m.client, err = metrics.NewGlobal(mCfg, metrics.FanoutSink{promSink, memSink})
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}
