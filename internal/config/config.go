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

// Package config loads the HCL configuration shared by the shmstream
// commands.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl"

	"github.com/CDumitra/k3po-nukleus-ext.java/internal/logging"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/target"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/telemetry"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/transport/shm"
)

// Config is the runtime configuration after defaults are applied.
type Config struct {
	// Name identifies the shared-memory layout.
	Name string

	// Directory holds the segment file. Empty selects /dev/shm when present.
	Directory string

	StreamsCapacity  uint64
	ThrottleCapacity uint64

	// MaxFrameSize bounds one encoded DATA frame. Zero derives it from the
	// streams ring.
	MaxFrameSize int

	// PollLimit bounds the throttle frames handled per poll.
	PollLimit int

	// IdleTimeout bounds one idle park of the poller.
	IdleTimeout time.Duration

	// CorrelationLimit bounds the pending duplex connects.
	CorrelationLimit int

	Log       logging.Config
	Telemetry telemetry.Config
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Name:             "shmstream",
		StreamsCapacity:  shm.DefaultStreamsCapacity,
		ThrottleCapacity: shm.DefaultThrottleCapacity,
		PollLimit:        target.DefaultPollLimit,
		IdleTimeout:      target.DefaultIdleTimeout,
		CorrelationLimit: target.DefaultCorrelationLimit,
		Log:              logging.Config{Level: "INFO", Name: "shmstream"},
		Telemetry:        telemetry.Config{MetricsPrefix: "shmstream"},
	}
}

// fileConfig mirrors the HCL file. Durations are strings.
type fileConfig struct {
	Name             string         `hcl:"name"`
	Directory        string         `hcl:"directory"`
	StreamsCapacity  int            `hcl:"streams_capacity"`
	ThrottleCapacity int            `hcl:"throttle_capacity"`
	MaxFrameSize     int            `hcl:"max_frame_size"`
	PollLimit        int            `hcl:"poll_limit"`
	IdleTimeout      string         `hcl:"idle_timeout"`
	CorrelationLimit int            `hcl:"correlation_limit"`
	Log              *fileLog       `hcl:"log"`
	Telemetry        *fileTelemetry `hcl:"telemetry"`
}

type fileLog struct {
	Level string `hcl:"level"`
	JSON  bool   `hcl:"json"`
	Name  string `hcl:"name"`
}

type fileTelemetry struct {
	Disable                 bool   `hcl:"disable"`
	MetricsPrefix           string `hcl:"metrics_prefix"`
	PrometheusRetentionTime string `hcl:"prometheus_retention_time"`
}

// Load reads path and applies it over Default.
func Load(path string) (Config, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(bs)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes HCL source over Default. It does not validate.
func Parse(src []byte) (Config, error) {
	var f fileConfig
	if err := hcl.Unmarshal(src, &f); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if f.Name != "" {
		cfg.Name = f.Name
	}
	if f.Directory != "" {
		cfg.Directory = f.Directory
	}
	if f.StreamsCapacity != 0 {
		cfg.StreamsCapacity = uint64(f.StreamsCapacity)
	}
	if f.ThrottleCapacity != 0 {
		cfg.ThrottleCapacity = uint64(f.ThrottleCapacity)
	}
	if f.MaxFrameSize != 0 {
		cfg.MaxFrameSize = f.MaxFrameSize
	}
	if f.PollLimit != 0 {
		cfg.PollLimit = f.PollLimit
	}
	if f.CorrelationLimit != 0 {
		cfg.CorrelationLimit = f.CorrelationLimit
	}

	var err error
	if cfg.IdleTimeout, err = duration("idle_timeout", f.IdleTimeout, cfg.IdleTimeout); err != nil {
		return Config{}, err
	}

	if f.Log != nil {
		if f.Log.Level != "" {
			cfg.Log.Level = f.Log.Level
		}
		if f.Log.Name != "" {
			cfg.Log.Name = f.Log.Name
		}
		cfg.Log.JSON = f.Log.JSON
	}

	if t := f.Telemetry; t != nil {
		cfg.Telemetry.Disable = t.Disable
		if t.MetricsPrefix != "" {
			cfg.Telemetry.MetricsPrefix = t.MetricsPrefix
		}
		retention, err := duration("telemetry.prometheus_retention_time", t.PrometheusRetentionTime, 0)
		if err != nil {
			return Config{}, err
		}
		cfg.Telemetry.PrometheusRetentionTime = retention
	}
	return cfg, nil
}

func duration(key, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var result *multierror.Error

	if c.Name == "" {
		result = multierror.Append(result, fmt.Errorf("name must not be empty"))
	}
	if err := shm.ValidateRingCapacity("streams", c.StreamsCapacity); err != nil {
		result = multierror.Append(result, err)
	}
	if err := shm.ValidateRingCapacity("throttle", c.ThrottleCapacity); err != nil {
		result = multierror.Append(result, err)
	}
	// A record may take at most half the ring.
	if limit := int(c.StreamsCapacity/2) - shm.RecordHeaderSize; c.MaxFrameSize < 0 || c.MaxFrameSize > limit {
		result = multierror.Append(result, fmt.Errorf("max_frame_size %d outside [0, %d]", c.MaxFrameSize, limit))
	}
	if c.PollLimit <= 0 {
		result = multierror.Append(result, fmt.Errorf("poll_limit must be positive, got %d", c.PollLimit))
	}
	if c.IdleTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("idle_timeout must be positive, got %s", c.IdleTimeout))
	}
	if c.CorrelationLimit <= 0 {
		result = multierror.Append(result, fmt.Errorf("correlation_limit must be positive, got %d", c.CorrelationLimit))
	}
	if !logging.ValidateLogLevel(c.Log.Level) {
		result = multierror.Append(result, fmt.Errorf("invalid log level %q, valid levels are %v", c.Log.Level, logging.AllowedLogLevels()))
	}
	if c.Telemetry.PrometheusRetentionTime < 0 {
		result = multierror.Append(result, fmt.Errorf("telemetry.prometheus_retention_time must not be negative"))
	}
	return result.ErrorOrNil()
}
