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

// Package main is the entry point for the Stratagem orchestrator daemon.
//
// The daemon fronts a fleet of capability servers (pattern lookup,
// reasoning, generation, browser automation) with:
// - circuit-aware query routing with ranked fallback
// - multi-provider coordination with result merging
// - a multi-level result cache (memory / sqlite / redis)
// - predictive analytics backed by per-domain trained models
// - conversation memory with non-fatal Postgres persistence
//
// Usage:
//
//	./orchestratord
//
// Environment variables:
//
//	PORT                       - HTTP server port (default: 8080)
//	STRATAGEM_CONFIG           - profile yaml path (optional)
//	STRATAGEM_PROFILE          - starting profile name (optional)
//	STRATAGEM_PROVIDER_WEIGHTS - ranking weight overrides (optional)
//	STRATAGEM_REDIS_URL        - shared cache tier URL (optional)
//	STRATAGEM_DISK_CACHE_PATH  - disk cache tier path (optional)
//	DATABASE_URL               - Postgres conversation store (optional)
package main

import (
	"log"
	"os"
)

func main() {
	if err := run(); err != nil {
		log.Printf("orchestratord failed: %v", err)
		os.Exit(1)
	}
}
