// BSD 3-Clause License
//
// Copyright (c) 2020, Sperax
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// 1. Redistributions of source code must retain the above copyright notice, this
//    list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright notice,
//    this list of conditions and the following disclaimer in the documentation
//    and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
//    contributors may be used to endorse or promote products derived from
//    this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package metrics exposes Prometheus counters and gauges for a running
// party-mode node: connected peer count, per-type message throughput, and
// hole-punch attempt volume.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ConnectedPeers reports the current number of peers in the Connected state.
var ConnectedPeers = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "party",
	Name:      "connected_peers",
	Help:      "Number of peer connections currently in the Connected state.",
})

// MessagesTotal counts protocol messages sent or received, labeled by
// message type and direction.
var MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "party",
	Name:      "messages_total",
	Help:      "Total protocol messages processed, by type and direction.",
}, []string{"type", "direction"})

// HolePunchAttemptsTotal counts every individual hole-punch probe sent,
// regardless of whether the attempt eventually succeeded.
var HolePunchAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "party",
	Name:      "hole_punch_attempts_total",
	Help:      "Total number of hole-punch probes sent across all peers.",
})

// Registry is the registry these collectors are registered against. A
// dedicated registry, rather than the global default, keeps a host
// application free to run multiple party-mode nodes in one process without
// metric name collisions.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(ConnectedPeers, MessagesTotal, HolePunchAttemptsTotal)
}
