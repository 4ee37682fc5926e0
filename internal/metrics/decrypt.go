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
	// EnvelopesDecrypted tracks signaling-key decrypt outcomes.
	EnvelopesDecrypted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decrypt",
			Name:      "envelopes_total",
			Help:      "Total number of envelopes that passed or failed signaling-key decrypt",
		},
		[]string{"outcome"}, // ok, bad_envelope
	)

	// RatchetDecryptErrors tracks session-cipher decrypt failures by kind.
	RatchetDecryptErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decrypt",
			Name:      "ratchet_errors_total",
			Help:      "Total number of session-cipher decrypt failures by error kind",
		},
		[]string{"kind"}, // no_session, invalid_padding, unknown_identity_key, unknown_message_type, other
	)

	// QueueDepth tracks the number of envelopes queued for serial post-decrypt
	// processing.
	QueueDepth = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of envelopes waiting in or running through the serial processing queue",
		},
	)

	// QueueTaskDuration tracks the time a single serialized task takes.
	QueueTaskDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "task_duration_seconds",
			Help:      "Duration of a single post-decrypt processing task",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
