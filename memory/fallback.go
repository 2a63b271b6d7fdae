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
	"log"
	"os"
	"sync/atomic"
)

// FallbackStore decorates a primary Store with an in-memory fallback.
// Memory persistence is a collaborator, never a hard dependency: when the
// primary fails, the call is served from process-local state and the
// orchestrator keeps answering. The primary is retried on every call, so
// recovery needs no intervention.
//
// Turns written during an outage live only in the fallback; they are not
// replayed into the primary. Session-only degradation is the contract.
type FallbackStore struct {
	primary  Store
	fallback *InMemoryStore
	logger   *log.Logger

	// degraded tracks the last observed primary state, for transition
	// logging only.
	degraded atomic.Bool
}

// NewFallbackStore wraps primary with in-memory degradation.
func NewFallbackStore(primary Store, logger *log.Logger) *FallbackStore {
	if logger == nil {
		logger = log.New(os.Stdout, "[MEMORY] ", log.LstdFlags)
	}
	return &FallbackStore{
		primary:  primary,
		fallback: NewInMemoryStore(),
		logger:   logger,
	}
}

func (f *FallbackStore) noteFailure(op string, err error) {
	if f.degraded.CompareAndSwap(false, true) {
		f.logger.Printf("primary store failed on %s, degrading to in-memory fallback: %v", op, err)
	}
}

func (f *FallbackStore) noteRecovery() {
	if f.degraded.CompareAndSwap(true, false) {
		f.logger.Printf("primary store recovered")
	}
}

// StoreTurn writes to the primary, falling back to in-memory on error.
// The fallback is also written on success so a later outage still has
// recent session state to serve.
func (f *FallbackStore) StoreTurn(ctx context.Context, turn Turn) error {
	if err := f.fallback.StoreTurn(ctx, turn); err != nil {
		return err
	}
	if err := f.primary.StoreTurn(ctx, turn); err != nil {
		f.noteFailure("StoreTurn", err)
		return nil
	}
	f.noteRecovery()
	return nil
}

// QueryHistory reads from the primary, serving fallback state on error.
func (f *FallbackStore) QueryHistory(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	turns, err := f.primary.QueryHistory(ctx, sessionID, limit)
	if err != nil {
		f.noteFailure("QueryHistory", err)
		return f.fallback.QueryHistory(ctx, sessionID, limit)
	}
	f.noteRecovery()
	return turns, nil
}

// GetSessionContext reads from the primary, serving fallback state on
// error.
func (f *FallbackStore) GetSessionContext(ctx context.Context, sessionID string) (SessionContext, error) {
	sc, err := f.primary.GetSessionContext(ctx, sessionID)
	if err != nil {
		f.noteFailure("GetSessionContext", err)
		return f.fallback.GetSessionContext(ctx, sessionID)
	}
	f.noteRecovery()
	return sc, nil
}

// Degraded reports whether the last primary call failed.
func (f *FallbackStore) Degraded() bool {
	return f.degraded.Load()
}

// Close closes the primary store.
func (f *FallbackStore) Close() error {
	return f.primary.Close()
}
