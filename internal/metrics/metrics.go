// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package metrics exposes Prometheus counters for workflow, lock and
// scheduler activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "ocms"
	subsystem = "workflow"
)

// Metrics holds the service's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	sweepItems    *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	lockOps       *prometheus.CounterVec
	webhookSends  *prometheus.CounterVec
}

// New creates a Metrics with Go runtime and process collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transitions_total",
			Help:      "Workflow transition attempts by action and result.",
		}, []string{"action", "result"}),
		sweepItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sweep_items_total",
			Help:      "Items handled by the publish sweep by kind and result.",
		}, []string{"kind", "result"}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of publish sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		lockOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lock_operations_total",
			Help:      "Edit lock operations by operation and result.",
		}, []string{"op", "result"}),
		webhookSends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts by result.",
		}, []string{"result"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Transition counts one transition attempt.
func (m *Metrics) Transition(action, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, result).Inc()
}

// SweepItem counts one item handled by a sweep; kind is "publish" or "unpublish".
func (m *Metrics) SweepItem(kind, result string) {
	if m == nil {
		return
	}
	m.sweepItems.WithLabelValues(kind, result).Inc()
}

// SweepDuration observes how long a sweep took.
func (m *Metrics) SweepDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}

// LockOp counts one lock operation.
func (m *Metrics) LockOp(op, result string) {
	if m == nil {
		return
	}
	m.lockOps.WithLabelValues(op, result).Inc()
}

// WebhookDelivery counts one webhook delivery attempt.
func (m *Metrics) WebhookDelivery(result string) {
	if m == nil {
		return
	}
	m.webhookSends.WithLabelValues(result).Inc()
}
