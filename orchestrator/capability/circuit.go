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
	"sync"
	"time"
)

// CircuitState is the state of a per-provider circuit breaker.
type CircuitState string

const (
	// CircuitClosed allows calls through; failures are counted.
	CircuitClosed CircuitState = "closed"

	// CircuitOpen rejects calls until the cooldown elapses.
	CircuitOpen CircuitState = "open"

	// CircuitHalfOpen lets trial calls through after the cooldown.
	// The next success closes the circuit; the next failure re-opens it.
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker isolates a failing provider. All transitions are applied
// under a single mutex so concurrent success/failure reports cannot race
// into an inconsistent state.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        CircuitState
	failureCount int
	threshold    int
	cooldown     time.Duration
	lastFailure  time.Time

	// now is overridable for tests.
	now func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
// A threshold <= 0 defaults to DefaultFailureThreshold; a cooldown <= 0
// defaults to DefaultCooldown.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &CircuitBreaker{
		state:     CircuitClosed,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. An open circuit transitions to
// half-open once the cooldown has elapsed, admitting trial calls.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if b.now().Sub(b.lastFailure) >= b.cooldown {
			b.state = CircuitHalfOpen
			return true
		}
		return false
	}
	return false
}

// RecordSuccess reports a successful call. A half-open circuit closes and
// the failure counter resets.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	if b.state == CircuitHalfOpen {
		b.state = CircuitClosed
	}
}

// RecordFailure reports a failed call. A closed circuit opens once the
// failure count reaches the threshold; a half-open circuit re-opens
// immediately with the counter pinned at the threshold.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()

	switch b.state {
	case CircuitHalfOpen:
		b.failureCount = b.threshold
		b.state = CircuitOpen
	case CircuitClosed:
		b.failureCount++
		if b.failureCount >= b.threshold {
			b.state = CircuitOpen
		}
	case CircuitOpen:
		// Already open; refresh lastFailure so the cooldown restarts.
	}
}

// ForceOpen trips the circuit regardless of the failure count. Used by the
// health monitor when a provider becomes unavailable.
func (b *CircuitBreaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = CircuitOpen
	b.failureCount = b.threshold
	b.lastFailure = b.now()
}

// State returns the current circuit state without side effects.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current failure counter.
func (b *CircuitBreaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}
