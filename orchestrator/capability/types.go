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

// Package capability provides the unified interface and orchestration logic
// for capability providers: the specialized external services (pattern
// lookup, reasoning, generation, browser automation) that answer
// strategic-analysis queries. It contains the provider registry, per-provider
// circuit breakers, the health monitor, the query router, and the
// multi-server coordinator.
package capability

import (
	"fmt"
	"time"
)

// ProviderType identifies the kind of capability a provider offers.
// Standard types are defined as constants, but custom types can be used
// for third-party providers.
type ProviderType string

// Standard provider types supported out of the box.
const (
	// ProviderTypePatternLookup represents pattern-lookup services that
	// answer queries from indexed historical material.
	ProviderTypePatternLookup ProviderType = "pattern_lookup"

	// ProviderTypeReasoning represents reasoning services for
	// multi-step analysis.
	ProviderTypeReasoning ProviderType = "reasoning"

	// ProviderTypeGeneration represents generative services that
	// synthesize new analysis text.
	ProviderTypeGeneration ProviderType = "generation"

	// ProviderTypeBrowserAutomation represents browser-automation services
	// that gather live external data.
	ProviderTypeBrowserAutomation ProviderType = "browser_automation"

	// ProviderTypeCustom represents a custom/third-party provider.
	ProviderTypeCustom ProviderType = "custom"
)

// HealthState is the monitor's view of a provider.
// Healthy and Degraded are advisory inputs to ranking; Unavailable is a
// hard gate equivalent to an open circuit.
type HealthState string

const (
	HealthStateHealthy     HealthState = "healthy"
	HealthStateDegraded    HealthState = "degraded"
	HealthStateUnavailable HealthState = "unavailable"
)

// HealthCheckResult contains the outcome of a provider liveness probe.
type HealthCheckResult struct {
	Healthy     bool          `json:"healthy"`
	Latency     time.Duration `json:"latency"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
}

// ProviderConfig contains configuration for registering a provider.
type ProviderConfig struct {
	// Name is the unique identifier for this provider instance.
	Name string `json:"name" yaml:"name"`

	// Type identifies the capability the provider offers.
	Type ProviderType `json:"type" yaml:"type"`

	// Endpoint is the service endpoint URL, if any.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Capabilities lists the query domains this provider can serve.
	// An empty list means the provider accepts any domain.
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`

	// MaxConcurrent caps in-flight calls to this provider (0 = 8).
	MaxConcurrent int `json:"max_concurrent,omitempty" yaml:"max_concurrent,omitempty"`

	// Weight is used as a ranking tie-break preference (higher = preferred).
	Weight float64 `json:"weight,omitempty" yaml:"weight,omitempty"`

	// Enabled indicates if this provider is available for routing.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// FailureThreshold is the circuit-breaker trip threshold (0 = 5).
	FailureThreshold int `json:"failure_threshold,omitempty" yaml:"failure_threshold,omitempty"`

	// Cooldown is how long an open circuit waits before half-opening (0 = 30s).
	Cooldown time.Duration `json:"cooldown,omitempty" yaml:"cooldown,omitempty"`
}

// Defaults applied during registration.
const (
	DefaultMaxConcurrent    = 8
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
)

// ValidateConfig checks a provider configuration for registration.
func ValidateConfig(config ProviderConfig) error {
	if config.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if config.Type == "" {
		return fmt.Errorf("provider type is required")
	}
	if config.MaxConcurrent < 0 {
		return fmt.Errorf("max_concurrent cannot be negative")
	}
	if config.Weight < 0 {
		return fmt.Errorf("weight cannot be negative")
	}
	return nil
}

// Response is the payload returned by a provider call.
type Response struct {
	// Payload is the provider's answer text.
	Payload string `json:"payload"`

	// Metadata contains provider-specific response data.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Latency is the time the provider took to answer.
	Latency time.Duration `json:"latency"`
}

// Orchestration error codes.
const (
	// ErrCodeProviderUnavailable indicates every candidate was gated by an
	// open circuit or unavailable health state.
	ErrCodeProviderUnavailable = "provider_unavailable"

	// ErrCodeAllAttemptsFailed indicates retries were exhausted.
	ErrCodeAllAttemptsFailed = "all_attempts_failed"

	// ErrCodeTimeout indicates the overall deadline was exceeded.
	ErrCodeTimeout = "timeout"

	// ErrCodeInvalidRequest indicates the request failed validation.
	ErrCodeInvalidRequest = "invalid_request"

	// ErrCodeNotFound indicates the named provider is not registered.
	ErrCodeNotFound = "provider_not_found"

	// ErrCodeDuplicate indicates a provider with that name exists.
	ErrCodeDuplicate = "provider_duplicate"

	// ErrCodeInvalidConfig indicates invalid provider configuration.
	ErrCodeInvalidConfig = "invalid_config"
)

// OrchestrationError represents an error from orchestration operations.
type OrchestrationError struct {
	Code     string
	QueryID  string
	Provider string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *OrchestrationError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("orchestration error [%s] for provider %q: %s", e.Code, e.Provider, e.Message)
	}
	return fmt.Sprintf("orchestration error [%s]: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *OrchestrationError) Unwrap() error {
	return e.Cause
}

// IsCode reports whether err is an OrchestrationError with the given code.
func IsCode(err error, code string) bool {
	oe, ok := err.(*OrchestrationError)
	return ok && oe.Code == code
}
