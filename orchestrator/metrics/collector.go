// Copyright 2025 Stratagem
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics records per-call orchestration outcomes in a bounded
// rolling window and exposes them as Prometheus series. The window feeds
// the router's ranking inputs and the auto-configuration advisor.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultRetention bounds how long call records are kept.
const DefaultRetention = 24 * time.Hour

// CallRecord is one provider attempt, success or failure.
type CallRecord struct {
	Provider  string
	Latency   time.Duration
	Success   bool
	Fallback  bool
	Timestamp time.Time
}

// ProviderSummary aggregates the window for one provider.
type ProviderSummary struct {
	Provider     string  `json:"provider"`
	Calls        int     `json:"calls"`
	Successes    int     `json:"successes"`
	Fallbacks    int     `json:"fallbacks"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	P95LatencyMS float64 `json:"p95_latency_ms"`
}

// Collector is the rolling-window performance collector. It implements
// the router's CallRecorder interface and is safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	records   []CallRecord
	retention time.Duration

	promCalls    *prometheus.CounterVec
	promLatency  *prometheus.HistogramVec
	promFallback prometheus.Counter

	// now is overridable for tests.
	now func() time.Time
}

// CollectorOption configures the collector.
type CollectorOption func(*Collector)

// WithRetention overrides the rolling-window retention.
func WithRetention(d time.Duration) CollectorOption {
	return func(c *Collector) {
		c.retention = d
	}
}

// NewCollector creates a collector and registers its Prometheus series
// with the given registerer (use prometheus.DefaultRegisterer in the
// daemon, a fresh registry in tests).
func NewCollector(reg prometheus.Registerer, opts ...CollectorOption) *Collector {
	c := &Collector{
		retention: DefaultRetention,
		now:       time.Now,
		promCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stratagem_orchestrator_provider_calls_total",
				Help: "Total provider calls by provider and status",
			},
			[]string{"provider", "status"},
		),
		promLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stratagem_orchestrator_provider_latency_milliseconds",
				Help:    "Provider call latency in milliseconds",
				Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
			},
			[]string{"provider"},
		),
		promFallback: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stratagem_orchestrator_fallback_total",
				Help: "Total calls served by a non-primary provider",
			},
		),
	}
	for _, opt := range opts {
		opt(c)
	}

	if reg != nil {
		reg.MustRegister(c.promCalls, c.promLatency, c.promFallback)
	}
	return c
}

// RecordCall records one provider attempt. Old records beyond the
// retention window are pruned on write, bounding memory.
func (c *Collector) RecordCall(provider string, latency time.Duration, success, fallback bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.promCalls.WithLabelValues(provider, status).Inc()
	c.promLatency.WithLabelValues(provider).Observe(float64(latency.Milliseconds()))
	if fallback {
		c.promFallback.Inc()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.records = append(c.records, CallRecord{
		Provider:  provider,
		Latency:   latency,
		Success:   success,
		Fallback:  fallback,
		Timestamp: now,
	})
	c.pruneLocked(now)
}

// pruneLocked drops records older than the retention window.
// Caller holds c.mu.
func (c *Collector) pruneLocked(now time.Time) {
	cutoff := now.Add(-c.retention)
	first := 0
	for first < len(c.records) && c.records[first].Timestamp.Before(cutoff) {
		first++
	}
	if first > 0 {
		c.records = append([]CallRecord(nil), c.records[first:]...)
	}
}

// Snapshot aggregates the current window per provider.
func (c *Collector) Snapshot() []ProviderSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(c.now())

	byProvider := make(map[string][]CallRecord)
	for _, rec := range c.records {
		byProvider[rec.Provider] = append(byProvider[rec.Provider], rec)
	}

	names := make([]string, 0, len(byProvider))
	for name := range byProvider {
		names = append(names, name)
	}
	sort.Strings(names)

	summaries := make([]ProviderSummary, 0, len(names))
	for _, name := range names {
		recs := byProvider[name]

		var successes, fallbacks int
		var totalMS float64
		latencies := make([]float64, 0, len(recs))
		for _, rec := range recs {
			ms := float64(rec.Latency.Microseconds()) / 1000.0
			totalMS += ms
			latencies = append(latencies, ms)
			if rec.Success {
				successes++
			}
			if rec.Fallback {
				fallbacks++
			}
		}

		summaries = append(summaries, ProviderSummary{
			Provider:     name,
			Calls:        len(recs),
			Successes:    successes,
			Fallbacks:    fallbacks,
			SuccessRate:  float64(successes) / float64(len(recs)),
			AvgLatencyMS: totalMS / float64(len(recs)),
			P95LatencyMS: percentile(latencies, 0.95),
		})
	}
	return summaries
}

// WindowSize returns the current record count (after pruning).
func (c *Collector) WindowSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(c.now())
	return len(c.records)
}

// percentile computes the p-th percentile (0..1) by nearest-rank.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(p*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
