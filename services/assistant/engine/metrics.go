// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const engineTracerName = "crm.engine"

// Turn outcome labels.
const (
	outcomeText           = "text"
	outcomeTools          = "tools"
	outcomeEmpty          = "empty"
	outcomeGatewayFailure = "gateway_failure"
	outcomeAborted        = "aborted"
	outcomeClosed         = "closed"
)

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "engine",
			Name:      "turns_total",
			Help:      "User turns completed, by outcome.",
		},
		[]string{"outcome"},
	)

	turnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crm",
			Subsystem: "engine",
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a user turn from start to Idle.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	toolCallsPerTurn = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "crm",
			Subsystem: "engine",
			Name:      "tool_calls_per_turn",
			Help:      "Number of tool calls requested in round one.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12},
		},
	)

	queuedTurns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "crm",
			Subsystem: "engine",
			Name:      "queued_turns",
			Help:      "Submitted turns not yet finished, across sessions.",
		},
	)

	sessionsAbortedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "engine",
			Name:      "sessions_aborted_total",
			Help:      "Sessions stopped by a protocol violation.",
		},
	)
)
