// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// KeepAlivePingsSent tracks outbound keep-alive pings.
	KeepAlivePingsSent = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keepalive",
			Name:      "pings_sent_total",
			Help:      "Total number of keep-alive pings sent",
		},
	)

	// KeepAliveTimeouts tracks ack timer expirations that forced a disconnect.
	KeepAliveTimeouts = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keepalive",
			Name:      "timeouts_total",
			Help:      "Total number of keep-alive ack timeouts that forced a disconnect",
		},
	)

	// KeepAliveRoundTrip tracks ping-to-ack latency.
	KeepAliveRoundTrip = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "keepalive",
			Name:      "round_trip_seconds",
			Help:      "Latency between a keep-alive ping and its acknowledging response",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
	)
)
