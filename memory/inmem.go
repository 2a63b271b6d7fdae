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

package memory

import (
	"context"
	"sync"

	"stratagem/core/shared/types"
)

// maxTurnsPerSession bounds per-session retention in the in-memory store.
// The oldest turns are trimmed first.
const maxTurnsPerSession = 1000

// InMemoryStore is a process-local Store. It backs tests, single-node
// deployments without a database, and the fallback path when the primary
// store is unreachable.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Turn
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string][]Turn),
	}
}

// StoreTurn records one exchange, trimming the session to its retention
// bound.
func (s *InMemoryStore) StoreTurn(_ context.Context, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.sessions[turn.SessionID], turn)
	if len(turns) > maxTurnsPerSession {
		turns = turns[len(turns)-maxTurnsPerSession:]
	}
	s.sessions[turn.SessionID] = turns
	return nil
}

// QueryHistory returns up to limit of the most recent turns,
// chronological order.
func (s *InMemoryStore) QueryHistory(_ context.Context, sessionID string, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.sessions[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// GetSessionContext summarizes the session from stored turns.
func (s *InMemoryStore) GetSessionContext(_ context.Context, sessionID string) (SessionContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc := SessionContext{SessionID: sessionID}
	turns := s.sessions[sessionID]
	if len(turns) == 0 {
		return sc, nil
	}

	sc.TurnCount = len(turns)
	sc.FirstSeen = turns[0].Timestamp
	sc.LastSeen = turns[len(turns)-1].Timestamp

	seen := make(map[types.QueryDomain]bool)
	for _, t := range turns {
		if !seen[t.Domain] {
			seen[t.Domain] = true
			sc.Domains = append(sc.Domains, t.Domain)
		}
	}
	return sc, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
