// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package engine

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK        = "ok"
	outcomeDiscarded = "discarded"
	outcomeFailed    = "failed"
)

type metrics struct {
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fhesync",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Engine operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fhesync",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Time an engine operation held its in-flight guard.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"op"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fhesync",
			Subsystem: "engine",
			Name:      "inflight",
			Help:      "Whether an operation of the kind is running.",
		}, []string{"op"}),
	}
	if reg != nil {
		m.outcomes = register(reg, m.outcomes)
		m.duration = register(reg, m.duration)
		m.inflight = register(reg, m.inflight)
	}
	return m
}

// register adds c to reg, reusing an identical collector registered by an
// earlier engine.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *metrics) record(kind opKind, err error) {
	outcome := outcomeOK
	switch {
	case err == nil:
	case IsDiscard(err):
		outcome = outcomeDiscarded
	default:
		outcome = outcomeFailed
	}
	m.outcomes.WithLabelValues(kind.String(), outcome).Inc()
}
