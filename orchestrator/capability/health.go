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

package capability

import (
	"context"
	"log"
	"os"
	"time"
)

// DefaultHealthCheckInterval is how often the monitor probes providers.
const DefaultHealthCheckInterval = 30 * time.Second

// DefaultProbeTimeout bounds a single liveness probe.
const DefaultProbeTimeout = 1 * time.Second

// HealthMonitor runs periodic liveness probes against every registered
// provider and feeds the outcomes into the registry's health state machine.
// It runs as a single background goroutine, independent of request-serving
// concurrency.
type HealthMonitor struct {
	registry     *Registry
	interval     time.Duration
	probeTimeout time.Duration
	logger       *log.Logger
	cancel       context.CancelFunc
}

// HealthMonitorOption configures the monitor.
type HealthMonitorOption func(*HealthMonitor)

// WithHealthInterval overrides the probe interval.
func WithHealthInterval(d time.Duration) HealthMonitorOption {
	return func(m *HealthMonitor) {
		m.interval = d
	}
}

// WithProbeTimeout overrides the per-probe timeout.
func WithProbeTimeout(d time.Duration) HealthMonitorOption {
	return func(m *HealthMonitor) {
		m.probeTimeout = d
	}
}

// WithHealthLogger sets a custom logger.
func WithHealthLogger(logger *log.Logger) HealthMonitorOption {
	return func(m *HealthMonitor) {
		m.logger = logger
	}
}

// NewHealthMonitor creates a monitor for the given registry.
func NewHealthMonitor(registry *Registry, opts ...HealthMonitorOption) *HealthMonitor {
	m := &HealthMonitor{
		registry:     registry,
		interval:     DefaultHealthCheckInterval,
		probeTimeout: DefaultProbeTimeout,
		logger:       log.New(os.Stdout, "[HEALTH_MONITOR] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the background probe loop. It returns immediately.
func (m *HealthMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.logger.Printf("Starting health monitor (interval: %v, probe timeout: %v)", m.interval, m.probeTimeout)

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.logger.Println("Stopping health monitor")
				return
			case <-ticker.C:
				m.ProbeAll(ctx)
			}
		}
	}()
}

// Stop cancels the background loop.
func (m *HealthMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// ProbeAll probes every registered provider once and applies the outcomes.
// Exposed so callers can force an immediate sweep (e.g., at startup).
func (m *HealthMonitor) ProbeAll(ctx context.Context) {
	unhealthy := 0

	for _, name := range m.registry.List() {
		result := m.probe(ctx, name)
		m.registry.ObserveProbe(name, result)
		if result == nil || !result.Healthy {
			unhealthy++
		}
	}

	if unhealthy > 0 {
		m.logger.Printf("Probe sweep: %d unhealthy provider(s)", unhealthy)
	}
}

func (m *HealthMonitor) probe(ctx context.Context, name string) *HealthCheckResult {
	provider, err := m.registry.Get(name)
	if err != nil {
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	start := time.Now()
	result, err := provider.HealthCheck(probeCtx)
	if err != nil {
		return &HealthCheckResult{
			Healthy:     false,
			Latency:     time.Since(start),
			Message:     err.Error(),
			LastChecked: time.Now(),
		}
	}
	if result == nil {
		result = &HealthCheckResult{Healthy: false, Message: "nil health result"}
	}
	if result.LastChecked.IsZero() {
		result.LastChecked = time.Now()
	}
	return result
}
