// Frontline Perception System
// Copyright (C) 2020-2025 TurbineOne LLC
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package clip

import (
	"strconv"
	"sync"
	"time"

	"github.com/influxdata/tdigest"
	"github.com/prometheus/client_golang/prometheus"
)

// metrics are shared by all managers of a pool.
type metrics struct {
	loadLevel     *prometheus.GaugeVec
	queued        *prometheus.GaugeVec
	results       *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	decodeTime    prometheus.Histogram
	notifications prometheus.Counter
	readers       prometheus.Gauge
}

func newMetrics(registry prometheus.Registerer) *metrics {
	m := &metrics{
		loadLevel: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "clip_manager_load_level",
				Help: "Clips currently decoding on a manager",
			},
			[]string{"thread"},
		),
		queued: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "clip_manager_queued",
				Help: "Clips waiting for a decode slot on a manager",
			},
			[]string{"thread"},
		),
		results: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clip_process_results_total",
				Help: "Decode worker passes by result",
			},
			[]string{"result"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clip_append_rejected_total",
				Help: "Clips refused by a manager",
			},
			[]string{"reason"},
		),
		decodeTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "clip_decode_seconds",
				Help:    "Time to decode and render one frame",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
		),
		notifications: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clip_notifications_total",
				Help: "Notifications sent to readers",
			},
		),
		readers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clip_readers",
				Help: "Readers registered across all managers",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(m.loadLevel, m.queued, m.results, m.rejected,
			m.decodeTime, m.notifications, m.readers)
	}

	return m
}

func threadLabel(index int) string {
	return strconv.Itoa(index)
}

// decodeStats keeps a running latency digest for one manager.
type decodeStats struct {
	lock   sync.Mutex
	digest *tdigest.TDigest
	count  int64
}

func newDecodeStats() *decodeStats {
	return &decodeStats{digest: tdigest.NewWithCompression(100)}
}

func (s *decodeStats) add(d time.Duration) {
	s.lock.Lock()
	s.digest.Add(d.Seconds(), 1)
	s.count++
	s.lock.Unlock()
}

func (s *decodeStats) quantiles() (p50, p99 time.Duration, count int64) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.count == 0 {
		return 0, 0, 0
	}

	toDur := func(sec float64) time.Duration {
		return time.Duration(sec * float64(time.Second))
	}

	return toDur(s.digest.Quantile(0.50)), toDur(s.digest.Quantile(0.99)), s.count
}

// ManagerStats is a point-in-time summary of one manager.
type ManagerStats struct {
	Thread     int
	LoadLevel  int
	Queued     int
	Readers    int
	Frames     int64
	DecodeP50  time.Duration
	DecodeP99  time.Duration
	Results    map[ProcessResult]int64
	Rejections int64
}
