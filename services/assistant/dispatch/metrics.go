// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const dispatchTracerName = "crm.dispatch"

var (
	// dispatchTotal counts dispatches.
	//
	// Labels:
	//   - tool: registered tool name, or "unknown" for unregistered names
	//   - outcome: "success", "unknown_tool", "validation_error", "handler_failure"
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "dispatch",
			Name:      "calls_total",
			Help:      "Total tool dispatches by outcome.",
		},
		[]string{"tool", "outcome"},
	)

	// dispatchDuration measures handler execution time, including validation.
	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crm",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Duration of tool dispatches in seconds.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"tool"},
	)

	// handlerPanicsTotal counts recovered handler panics.
	handlerPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "dispatch",
			Name:      "handler_panics_total",
			Help:      "Total recovered panics in tool handlers.",
		},
		[]string{"tool"},
	)
)

func recordDispatch(tool string, res Result, duration time.Duration) {
	outcome := "success"
	if !res.Success {
		outcome = string(res.Kind)
		if outcome == "" {
			outcome = string(KindHandlerFailure)
		}
	}
	if res.Kind == KindUnknownTool {
		tool = "unknown"
	}
	dispatchTotal.WithLabelValues(tool, outcome).Inc()
	dispatchDuration.WithLabelValues(tool).Observe(duration.Seconds())
}
