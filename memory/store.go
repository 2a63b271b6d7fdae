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

// Package memory persists conversation turns so the orchestrator can
// answer history queries and carry session context across requests. The
// store is a collaborator, not a dependency: every caller goes through
// the narrow Store interface and the fallback decorator keeps the
// orchestrator serving when the backing database is down.
package memory

import (
	"context"
	"time"

	"stratagem/core/shared/types"
)

// Turn is one completed query/response exchange within a session.
type Turn struct {
	SessionID string            `json:"session_id"`
	QueryID   string            `json:"query_id"`
	Domain    types.QueryDomain `json:"domain"`
	Content   string            `json:"content"`
	Response  string            `json:"response"`
	Provider  string            `json:"provider"`
	Timestamp time.Time         `json:"timestamp"`
}

// SessionContext summarizes everything known about a session. A session
// the store has never seen yields a zero-count context, not an error.
type SessionContext struct {
	SessionID string              `json:"session_id"`
	TurnCount int                 `json:"turn_count"`
	FirstSeen time.Time           `json:"first_seen,omitempty"`
	LastSeen  time.Time           `json:"last_seen,omitempty"`
	Domains   []types.QueryDomain `json:"domains,omitempty"`
}

// Store is the conversation-memory access interface.
type Store interface {
	// StoreTurn records one completed exchange.
	StoreTurn(ctx context.Context, turn Turn) error

	// QueryHistory returns up to limit of the session's most recent
	// turns in chronological order. limit <= 0 means no limit.
	QueryHistory(ctx context.Context, sessionID string, limit int) ([]Turn, error)

	// GetSessionContext summarizes the session.
	GetSessionContext(ctx context.Context, sessionID string) (SessionContext, error)

	// Close releases any backing resources.
	Close() error
}
