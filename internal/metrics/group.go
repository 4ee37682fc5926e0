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
	// GroupUpdatesApplied tracks group context reconciliation outcomes.
	GroupUpdatesApplied = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "updates_total",
			Help:      "Total number of group contexts (UPDATE, QUIT, DELIVER) reconciled, by outcome",
		},
		[]string{"outcome"}, // applied, unknown_type
	)

	// GroupMembersTracked tracks the current size of the roster across all
	// known groups.
	GroupMembersTracked = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "members_tracked",
			Help:      "Total number of distinct group members currently tracked in the roster store",
		},
	)

	// EndSessionsHandled tracks END_SESSION flag processing.
	EndSessionsHandled = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "end_sessions_total",
			Help:      "Total number of END_SESSION data messages handled",
		},
	)
)
