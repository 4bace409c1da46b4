/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package status

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusExporter registers Gauges for the fields of SyncStatus that
// are interesting to scrape: phase offset, applied drift, and whether
// the controller has settled into LOCKED.
type PrometheusExporter struct {
	offsetNS *prometheus.GaugeVec
	driftPPM *prometheus.GaugeVec
	settled  *prometheus.GaugeVec
}

// NewPrometheusExporter registers its gauges with reg.
func NewPrometheusExporter(reg prometheus.Registerer) *PrometheusExporter {
	e := &PrometheusExporter{
		offsetNS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dantesyncd",
			Name:      "offset_ns",
			Help:      "Last measured PTP phase offset in nanoseconds.",
		}, nil),
		driftPPM: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dantesyncd",
			Name:      "drift_ppm",
			Help:      "Last applied frequency adjustment in parts per million.",
		}, nil),
		settled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dantesyncd",
			Name:      "settled",
			Help:      "1 if the controller is LOCKED, 0 otherwise.",
		}, nil),
	}
	reg.MustRegister(e.offsetNS, e.driftPPM, e.settled)
	return e
}

// Observe updates the gauges from a SyncStatus snapshot.
func (e *PrometheusExporter) Observe(s SyncStatus) {
	e.offsetNS.WithLabelValues().Set(float64(s.OffsetNS))
	e.driftPPM.WithLabelValues().Set(s.DriftPPM)
	if s.Settled {
		e.settled.WithLabelValues().Set(1)
	} else {
		e.settled.WithLabelValues().Set(0)
	}
}
