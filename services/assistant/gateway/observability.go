// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const gatewayTracerName = "crm.gateway"

// Package-level metrics, registered with the default registry by promauto.
var (
	// callDuration measures model calls.
	//
	// Labels:
	//   - round: "1" or "2"
	//   - status: "success" or "error"
	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crm",
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Duration of model calls in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"round", "status"},
	)

	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Total model calls.",
		},
		[]string{"round", "status"},
	)

	// errorsTotal counts failures by ErrorKind.
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "gateway",
			Name:      "errors_total",
			Help:      "Total model call failures by kind.",
		},
		[]string{"kind"},
	)

	tokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "gateway",
			Name:      "tokens_total",
			Help:      "Tokens reported by the model provider.",
		},
		[]string{"direction"},
	)

	activeRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "crm",
			Subsystem: "gateway",
			Name:      "active_requests",
			Help:      "Model calls currently in flight.",
		},
	)
)

// classifyError maps a provider error onto an ErrorKind.
//
// Context errors are checked structurally; everything else is matched on
// the lower-cased message, which is how the provider SDK reports HTTP status.
func classifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedReply):
		return KindMalformed
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthenticated") || strings.Contains(msg, "permission_denied") ||
		strings.Contains(msg, "api key"):
		return KindAuth
	case strings.Contains(msg, "429") || strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		return KindRateLimit
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "internal"):
		return KindServer
	default:
		return KindTransport
	}
}

func recordCall(round int, duration time.Duration, usage Usage, err error) {
	r := strconv.Itoa(round)
	status := "success"
	if err != nil {
		status = "error"
		errorsTotal.WithLabelValues(string(KindOf(err))).Inc()
	}
	callDuration.WithLabelValues(r, status).Observe(duration.Seconds())
	callsTotal.WithLabelValues(r, status).Inc()
	if err == nil {
		tokensTotal.WithLabelValues("input").Add(float64(usage.InputTokens))
		tokensTotal.WithLabelValues("output").Add(float64(usage.OutputTokens))
	}
}
