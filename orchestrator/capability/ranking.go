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
	"sort"

	"stratagem/core/shared/types"
)

// candidate pairs a provider snapshot with its computed ranking score.
type candidate struct {
	snap  ProviderSnapshot
	score float64
}

// eligible reports whether a provider may be attempted at all.
// An open circuit or unavailable health state is a hard gate; degraded
// health only lowers the ranking.
func eligible(snap ProviderSnapshot) bool {
	if !snap.Enabled {
		return false
	}
	if snap.Circuit == CircuitOpen {
		return false
	}
	if snap.Health == HealthStateUnavailable {
		return false
	}
	return true
}

// capabilityMatch scores how well a provider's declared capabilities fit
// the query domain. An empty capability list is a generalist: it matches,
// but below an explicit declaration.
func capabilityMatch(snap ProviderSnapshot, domain types.QueryDomain) float64 {
	if len(snap.Capabilities) == 0 {
		return 0.5
	}
	for _, c := range snap.Capabilities {
		if c == string(domain) {
			return 1.0
		}
	}
	return 0.0
}

// rankCandidates orders eligible providers for a request:
//
//  1. explicit preferences (in the given order) whose circuit allows calls
//  2. remaining providers by capability-tag match, then configured weight,
//     then lower observed latency, then higher success rate
//
// Providers with no capability match for the domain rank below generalists
// but are still attempted as a last resort.
func rankCandidates(req types.QueryRequest, snaps []ProviderSnapshot, weights map[string]float64) []string {
	bySnap := make(map[string]ProviderSnapshot, len(snaps))
	for _, s := range snaps {
		bySnap[s.Name] = s
	}

	ordered := make([]string, 0, len(snaps))
	seen := make(map[string]bool, len(snaps))

	// Explicit preferences first, preserving caller order.
	for _, name := range req.PreferredProviders {
		snap, ok := bySnap[name]
		if !ok || seen[name] || !eligible(snap) {
			continue
		}
		ordered = append(ordered, name)
		seen[name] = true
	}

	rest := make([]candidate, 0, len(snaps))
	for _, snap := range snaps {
		if seen[snap.Name] || !eligible(snap) {
			continue
		}

		w := snap.Weight
		if override, ok := weights[snap.Name]; ok {
			w = override
		}

		// Latency in seconds keeps the penalty in the same magnitude
		// band as the match and success terms.
		latencyPenalty := snap.AvgLatencyMS / 1000.0

		score := capabilityMatch(snap, req.Domain)*10.0 +
			w +
			snap.SuccessRate*2.0 -
			latencyPenalty

		if snap.Health == HealthStateDegraded {
			score -= 5.0
		}

		rest = append(rest, candidate{snap: snap, score: score})
	}

	sort.Slice(rest, func(i, j int) bool {
		if rest[i].score != rest[j].score {
			return rest[i].score > rest[j].score
		}
		return rest[i].snap.Name < rest[j].snap.Name
	})

	for _, c := range rest {
		ordered = append(ordered, c.snap.Name)
	}
	return ordered
}
