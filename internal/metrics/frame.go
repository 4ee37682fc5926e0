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
	// FramesSent tracks outbound frames by type (request, response).
	FramesSent = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "sent_total",
			Help:      "Total number of frames sent over the transport",
		},
		[]string{"type"},
	)

	// FramesReceived tracks inbound frames by type (request, response, unknown).
	FramesReceived = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "received_total",
			Help:      "Total number of frames received over the transport",
		},
		[]string{"type"},
	)

	// UnmatchedResponses tracks RESPONSE frames whose id has no pending entry.
	UnmatchedResponses = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "unmatched_responses_total",
			Help:      "Total number of RESPONSE frames with no matching pending request",
		},
	)

	// PendingRequests tracks the current size of the outgoing pending table.
	PendingRequests = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "pending_requests",
			Help:      "Number of outgoing requests awaiting a RESPONSE",
		},
	)

	// ConnectionCloses tracks transport closes by code.
	ConnectionCloses = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "closes_total",
			Help:      "Total number of transport closes by close code",
		},
		[]string{"code"},
	)

	// ReconnectProbes tracks post-disconnect reachability probes.
	ReconnectProbes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "reconnect_probes_total",
			Help:      "Total number of post-disconnect reachability probes",
		},
		[]string{"outcome"}, // success, failure
	)
)
