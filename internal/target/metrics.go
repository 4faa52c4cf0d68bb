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

package target

import (
	"github.com/armon/go-metrics"
	"github.com/armon/go-metrics/prometheus"

	"github.com/CDumitra/k3po-nukleus-ext.java/internal/frame"
)

var (
	framesKey        = []string{"target", "frames"}
	bytesKey         = []string{"target", "bytes"}
	windowKey        = []string{"target", "window"}
	resetKey         = []string{"target", "reset"}
	deferredResetKey = []string{"target", "reset", "deferred"}
	unknownStreamKey = []string{"target", "throttle", "unknown_stream"}
	correlationsKey  = []string{"target", "correlations", "pending"}
	pollKey          = []string{"target", "poll", "frames"}
	pollIdleKey      = []string{"target", "poll", "idle"}
	pollEmitErrorKey = []string{"target", "poll", "emit_errors"}
)

var Counters = []prometheus.CounterDefinition{
	{
		Name: framesKey,
		Help: "Increments for every frame written to the streams ring, labelled by frame type.",
	},
	{
		Name: bytesKey,
		Help: "Counts encoded bytes written to the streams ring.",
	},
	{
		Name: windowKey,
		Help: "Counts write credit granted by WINDOW frames.",
	},
	{
		Name: resetKey,
		Help: "Increments whenever a stream is aborted by a RESET.",
	},
	{
		Name: deferredResetKey,
		Help: "Increments whenever a RESET arrives before the connect handshake resolves.",
	},
	{
		Name: unknownStreamKey,
		Help: "Increments for throttle frames addressed to streams with no registered throttle.",
	},
	{
		Name: pollKey,
		Help: "Counts throttle frames handled by the poller.",
	},
	{
		Name: pollIdleKey,
		Help: "Increments whenever the poller parks on an empty throttle ring.",
	},
	{
		Name: pollEmitErrorKey,
		Help: "Increments whenever a flush triggered by a throttle frame fails to write the streams ring.",
	},
}

var Gauges = []prometheus.GaugeDefinition{
	{
		Name: correlationsKey,
		Help: "Number of connects waiting for the peer to correlate a reply stream.",
	},
}

func countFrame(typeID int32, n int) {
	metrics.IncrCounterWithLabels(framesKey, 1, []metrics.Label{{Name: "type", Value: frame.TypeName(typeID)}})
	metrics.IncrCounter(bytesKey, float32(n))
}

func countWindow(update int32) { metrics.IncrCounter(windowKey, float32(update)) }
func countReset()              { metrics.IncrCounter(resetKey, 1) }
func countDeferredReset()      { metrics.IncrCounter(deferredResetKey, 1) }
func countUnknownStream()      { metrics.IncrCounter(unknownStreamKey, 1) }

func setCorrelationsGauge(n int) { metrics.SetGauge(correlationsKey, float32(n)) }
