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

	"stratagem/core/shared/types"
)

// Provider is the unified interface for all capability providers.
// Implementations must be safe for concurrent use.
//
// The router talks to every provider through this interface regardless of
// the underlying transport (HTTP service, local index, headless browser).
type Provider interface {
	// Name returns the unique identifier for this provider instance.
	// This is used for routing, logging, and metrics.
	// Example: "pattern-primary", "reasoning-backup"
	Name() string

	// Type returns the capability type (e.g., "reasoning", "generation").
	Type() ProviderType

	// Execute answers the given query. This is the primary call path.
	// The context carries the per-attempt timeout and must be honored.
	Execute(ctx context.Context, req types.QueryRequest) (*Response, error)

	// HealthCheck verifies the provider is operational. Implementations
	// should complete well within the monitor's probe timeout (1s).
	HealthCheck(ctx context.Context) (*HealthCheckResult, error)

	// Capabilities returns the query domains this provider can serve.
	// An empty list means any domain.
	Capabilities() []string
}
