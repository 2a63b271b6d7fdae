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
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"
)

// latencyEWMAAlpha is the smoothing factor for the rolling latency average.
const latencyEWMAAlpha = 0.2

// successRateWindow bounds the rolling success-rate computation.
const successRateWindow = 100

// providerState is the single mutation point for everything the registry
// tracks about one provider: its circuit, health, capacity, and observed
// performance. All mutation happens under the state's own mutex.
type providerState struct {
	mu sync.Mutex

	config   ProviderConfig
	provider Provider
	circuit  *CircuitBreaker

	health               HealthState
	consecutiveFailures  int
	consecutiveSuccesses int
	lastProbe            *HealthCheckResult

	// Rolling call statistics fed by the router and metrics collector.
	avgLatencyMS float64
	callCount    int64
	recentCalls  []bool // ring of recent outcomes, capped at successRateWindow
	recentIdx    int

	// Capacity tracking. inflight never goes negative: release is tied to
	// a successful acquire.
	inflight int
}

// ProviderSnapshot is an immutable view of a provider's current state,
// used by the ranking logic and exposed over the status API.
type ProviderSnapshot struct {
	Name         string       `json:"name"`
	Type         ProviderType `json:"type"`
	Capabilities []string     `json:"capabilities,omitempty"`
	Weight       float64      `json:"weight"`
	Enabled      bool         `json:"enabled"`
	Health       HealthState  `json:"health"`
	Circuit      CircuitState `json:"circuit"`
	AvgLatencyMS float64      `json:"avg_latency_ms"`
	SuccessRate  float64      `json:"success_rate"`
	InFlight     int          `json:"in_flight"`
	MaxInFlight  int          `json:"max_in_flight"`
}

// Registry is the catalog of capability providers. It owns all per-provider
// mutable state (circuit, health, capacity, rolling stats) and is safe for
// concurrent use. Providers are never deleted, only disabled or marked
// unavailable.
type Registry struct {
	mu     sync.RWMutex
	states map[string]*providerState
	logger *log.Logger
}

// RegistryOption configures the registry during creation.
type RegistryOption func(*Registry)

// WithRegistryLogger sets a custom logger for the registry.
func WithRegistryLogger(logger *log.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty provider registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		states: make(map[string]*providerState),
		logger: log.New(os.Stdout, "[CAP_REGISTRY] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a provider instance with its configuration.
func (r *Registry) Register(config ProviderConfig, provider Provider) error {
	if provider == nil {
		return &OrchestrationError{Code: ErrCodeInvalidConfig, Message: "provider cannot be nil"}
	}
	if err := ValidateConfig(config); err != nil {
		return &OrchestrationError{
			Provider: config.Name,
			Code:     ErrCodeInvalidConfig,
			Message:  fmt.Sprintf("invalid configuration: %v", err),
			Cause:    err,
		}
	}

	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	if config.Cooldown == 0 {
		config.Cooldown = DefaultCooldown
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.states[config.Name]; exists {
		return &OrchestrationError{
			Provider: config.Name,
			Code:     ErrCodeDuplicate,
			Message:  fmt.Sprintf("provider %q already registered", config.Name),
		}
	}

	r.states[config.Name] = &providerState{
		config:      config,
		provider:    provider,
		circuit:     NewCircuitBreaker(config.FailureThreshold, config.Cooldown),
		health:      HealthStateHealthy,
		recentCalls: make([]bool, 0, successRateWindow),
	}

	r.logger.Printf("Registered provider: %s (type: %s, capacity: %d)",
		config.Name, config.Type, config.MaxConcurrent)
	return nil
}

// Get retrieves a provider instance by name.
func (r *Registry) Get(name string) (Provider, error) {
	state, err := r.state(name)
	if err != nil {
		return nil, err
	}
	return state.provider, nil
}

// Circuit returns the circuit breaker for a provider.
func (r *Registry) Circuit(name string) (*CircuitBreaker, error) {
	state, err := r.state(name)
	if err != nil {
		return nil, err
	}
	return state.circuit, nil
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.states))
	for name := range r.states {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered providers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}

// SetEnabled enables or disables a provider for routing.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	state, err := r.state(name)
	if err != nil {
		return err
	}

	state.mu.Lock()
	state.config.Enabled = enabled
	state.mu.Unlock()

	r.logger.Printf("Provider %s enabled=%v", name, enabled)
	return nil
}

// Snapshot returns immutable views of every registered provider.
func (r *Registry) Snapshot() []ProviderSnapshot {
	r.mu.RLock()
	states := make([]*providerState, 0, len(r.states))
	for _, s := range r.states {
		states = append(states, s)
	}
	r.mu.RUnlock()

	snaps := make([]ProviderSnapshot, 0, len(states))
	for _, s := range states {
		snaps = append(snaps, s.snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}

// AcquireSlot reserves one unit of a provider's capacity. It returns a
// release function on success, or false when the provider is saturated.
// The release function is idempotent.
func (r *Registry) AcquireSlot(name string) (func(), bool) {
	state, err := r.state(name)
	if err != nil {
		return nil, false
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.inflight >= state.config.MaxConcurrent {
		return nil, false
	}
	state.inflight++

	var once sync.Once
	release := func() {
		once.Do(func() {
			state.mu.Lock()
			if state.inflight > 0 {
				state.inflight--
			}
			state.mu.Unlock()
		})
	}
	return release, true
}

// RecordSuccess reports a successful provider call with its latency.
// It updates the rolling stats and closes a half-open circuit.
func (r *Registry) RecordSuccess(name string, latency time.Duration) {
	state, err := r.state(name)
	if err != nil {
		return
	}

	state.circuit.RecordSuccess()

	state.mu.Lock()
	defer state.mu.Unlock()
	state.observe(true, latency)
}

// RecordFailure reports a failed provider call against its circuit and
// rolling stats.
func (r *Registry) RecordFailure(name string) {
	state, err := r.state(name)
	if err != nil {
		return
	}

	state.circuit.RecordFailure()

	state.mu.Lock()
	defer state.mu.Unlock()
	state.observe(false, 0)
}

// ObserveProbe feeds a health-probe outcome into the provider's health
// state machine:
//
//	3 consecutive failures -> degraded
//	5 consecutive failures -> unavailable (circuit forced open)
//	2 consecutive successes from degraded/unavailable -> healthy
func (r *Registry) ObserveProbe(name string, result *HealthCheckResult) {
	state, err := r.state(name)
	if err != nil {
		return
	}

	state.mu.Lock()
	state.lastProbe = result

	var forceOpen bool
	var transition string

	if result != nil && result.Healthy {
		state.consecutiveFailures = 0
		state.consecutiveSuccesses++
		if state.health != HealthStateHealthy && state.consecutiveSuccesses >= 2 {
			transition = fmt.Sprintf("%s -> %s", state.health, HealthStateHealthy)
			state.health = HealthStateHealthy
		}
	} else {
		state.consecutiveSuccesses = 0
		state.consecutiveFailures++
		switch {
		case state.consecutiveFailures >= 5 && state.health != HealthStateUnavailable:
			transition = fmt.Sprintf("%s -> %s", state.health, HealthStateUnavailable)
			state.health = HealthStateUnavailable
			forceOpen = true
		case state.consecutiveFailures >= 3 && state.health == HealthStateHealthy:
			transition = fmt.Sprintf("%s -> %s", state.health, HealthStateDegraded)
			state.health = HealthStateDegraded
		}
	}
	name = state.config.Name
	state.mu.Unlock()

	if forceOpen {
		state.circuit.ForceOpen()
	}
	if transition != "" {
		r.logger.Printf("Health transition for %s: %s", name, transition)
	}
}

// Health returns the monitor's current view of a provider.
func (r *Registry) Health(name string) (HealthState, error) {
	state, err := r.state(name)
	if err != nil {
		return "", err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.health, nil
}

func (r *Registry) state(name string) (*providerState, error) {
	r.mu.RLock()
	state, exists := r.states[name]
	r.mu.RUnlock()

	if !exists {
		return nil, &OrchestrationError{
			Provider: name,
			Code:     ErrCodeNotFound,
			Message:  fmt.Sprintf("provider %q not found", name),
		}
	}
	return state, nil
}

// observe updates rolling stats. Caller holds s.mu.
func (s *providerState) observe(success bool, latency time.Duration) {
	s.callCount++

	if success {
		ms := float64(latency.Microseconds()) / 1000.0
		if s.avgLatencyMS == 0 {
			s.avgLatencyMS = ms
		} else {
			s.avgLatencyMS = latencyEWMAAlpha*ms + (1-latencyEWMAAlpha)*s.avgLatencyMS
		}
	}

	if len(s.recentCalls) < successRateWindow {
		s.recentCalls = append(s.recentCalls, success)
	} else {
		s.recentCalls[s.recentIdx] = success
		s.recentIdx = (s.recentIdx + 1) % successRateWindow
	}
}

// snapshot builds an immutable view. Takes s.mu internally.
func (s *providerState) snapshot() ProviderSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	successRate := 1.0
	if n := len(s.recentCalls); n > 0 {
		ok := 0
		for _, v := range s.recentCalls {
			if v {
				ok++
			}
		}
		successRate = float64(ok) / float64(n)
	}

	return ProviderSnapshot{
		Name:         s.config.Name,
		Type:         s.config.Type,
		Capabilities: append([]string(nil), s.config.Capabilities...),
		Weight:       s.config.Weight,
		Enabled:      s.config.Enabled,
		Health:       s.health,
		Circuit:      s.circuit.State(),
		AvgLatencyMS: s.avgLatencyMS,
		SuccessRate:  successRate,
		InFlight:     s.inflight,
		MaxInFlight:  s.config.MaxConcurrent,
	}
}
