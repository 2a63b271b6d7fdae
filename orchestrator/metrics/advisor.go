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

package metrics

import (
	"time"

	"stratagem/core/shared/types"
)

// minAdviceSamples is the minimum window size before the advisor will
// suggest anything.
const minAdviceSamples = 20

// Advice is the auto-configuration advisor's output. It is advisory only:
// nothing is applied until an operator swaps a profile that adopts it.
type Advice struct {
	// ProviderWeights suggests ranking weights derived from observed
	// success rate and latency.
	ProviderWeights map[string]float64 `json:"provider_weights,omitempty"`

	// TimeoutOverrides suggests replacement soft budgets for complexity
	// classes whose budget is below the observed p95 latency.
	TimeoutOverrides map[types.ComplexityClass]time.Duration `json:"timeout_overrides,omitempty"`

	// SampleSize is the window size the advice was derived from.
	SampleSize int `json:"sample_size"`
}

// Advise derives configuration suggestions from the current window.
// With fewer than minAdviceSamples records it returns empty advice.
func (c *Collector) Advise() Advice {
	summaries := c.Snapshot()

	total := 0
	var worstP95 float64
	weights := make(map[string]float64, len(summaries))

	for _, s := range summaries {
		total += s.Calls
		if s.P95LatencyMS > worstP95 {
			worstP95 = s.P95LatencyMS
		}
		// Reward reliability, penalize latency. A provider answering in
		// 100ms with a perfect record lands near 1.8; a flaky slow one
		// approaches zero.
		weights[s.Provider] = s.SuccessRate * (1.0 + 1.0/(1.0+s.AvgLatencyMS/100.0))
	}

	advice := Advice{SampleSize: total}
	if total < minAdviceSamples {
		return advice
	}
	advice.ProviderWeights = weights

	observedP95 := time.Duration(worstP95 * float64(time.Millisecond))
	overrides := make(map[types.ComplexityClass]time.Duration)
	for _, class := range types.ValidComplexityClasses {
		budget := class.SoftBudget()
		if observedP95 > budget {
			// Suggest 20% headroom over the observed tail.
			overrides[class] = observedP95 + observedP95/5
		}
	}
	if len(overrides) > 0 {
		advice.TimeoutOverrides = overrides
	}
	return advice
}
