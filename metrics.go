// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blesensor // import "sbinet.org/x/blesensor"

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the acquisition counters.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Notifications prometheus.Counter
	DecodeErrors  prometheus.Counter
	Stored        prometheus.Counter
	Sessions      *prometheus.CounterVec
}

// NewMetrics creates the acquisition counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blesensor",
			Name:      "notifications_total",
			Help:      "Number of notifications received from the peer.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blesensor",
			Name:      "decode_errors_total",
			Help:      "Number of notifications skipped because of a malformed payload.",
		}),
		Stored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blesensor",
			Name:      "readings_stored_total",
			Help:      "Number of readings committed to the store.",
		}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blesensor",
			Name:      "sessions_total",
			Help:      "Number of acquisition sessions, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.Notifications, m.DecodeErrors, m.Stored, m.Sessions)
	return m
}

func (m *Metrics) notified() {
	if m == nil {
		return
	}
	m.Notifications.Inc()
}

func (m *Metrics) decodeFailed() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

func (m *Metrics) stored() {
	if m == nil {
		return
	}
	m.Stored.Inc()
}

func (m *Metrics) session(outcome string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(outcome).Inc()
}
