/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package engine

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Metrics holds the engine's process-wide diagnostics counters,
// exported alongside (not instead of) the per-stream Diagnostics
// struct that spec §3 defines.
type Metrics struct {
	registry *prometheus.Registry

	packetsSent     prometheus.Counter
	packetsReceived prometheus.Counter
	packetsDropped  *prometheus.CounterVec
	linkFlaps       prometheus.Counter
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "avbsh_packets_sent_total",
			Help: "AVTPDUs transmitted across every stream.",
		}),
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "avbsh_packets_received_total",
			Help: "AVTPDUs received across every stream.",
		}),
		packetsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avbsh_packets_dropped_total",
			Help: "AVTPDUs dropped on receive, by reason.",
		}, []string{"reason"}),
		linkFlaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "avbsh_link_flaps_total",
			Help: "NIC link-state transitions observed by the netlink watcher.",
		}),
	}
	reg.MustRegister(m.packetsSent, m.packetsReceived, m.packetsDropped, m.linkFlaps)
	return m
}

// Serve starts an HTTP server exposing the registry on /metrics. It
// blocks; callers typically run it in its own goroutine.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	log.WithField("addr", addr).Info("engine: serving prometheus metrics")
	return http.ListenAndServe(addr, mux)
}
