/*
Package monitoring provides Prometheus metrics for framelink.

# Overview

Collectors are registered on an injected prometheus.Registerer, so a test can
use a fresh registry and a server can expose its own on /metrics.

# Metrics

  - framelink_http_requests_total, framelink_http_request_duration_seconds
  - framelink_sessions_active, framelink_sessions_opened_total
  - framelink_session_readiness_total
  - framelink_calls_total, framelink_call_duration_seconds
  - framelink_inbound_messages_total (by dispatch outcome)
  - framelink_descriptor_fetches_total
  - framelink_event_streams_active

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	router.Use(monitoring.Middleware(metrics))

	timer := monitoring.NewTimer(metrics, "getColor")
	_, err := sess.Call(ctx, "getColor")
	timer.Stop(monitoring.CallOutcome(err, nil))

A nil *Metrics is valid and records nothing.
*/
package monitoring
