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

package cache

import (
	"sync"
	"time"
)

// memoryEntry is one memory-tier cache entry.
type memoryEntry struct {
	value      string
	insertedAt time.Time
	expiresAt  time.Time
}

// memoryTier is the bounded in-process tier. Eviction is oldest insertion
// first; expired entries are purged lazily on read.
type memoryTier struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	order    []string // insertion order, one element per live entry
	capacity int

	// now is overridable for tests.
	now func() time.Time
}

func newMemoryTier(capacity int) *memoryTier {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &memoryTier{
		entries:  make(map[string]memoryEntry),
		capacity: capacity,
		now:      time.Now,
	}
}

func (t *memoryTier) get(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if !ok {
		return "", false
	}
	if t.now().After(entry.expiresAt) {
		delete(t.entries, key)
		t.removeOrder(key)
		return "", false
	}
	return entry.value, true
}

func (t *memoryTier) put(key, value string, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	_, existed := t.entries[key]
	t.entries[key] = memoryEntry{
		value:      value,
		insertedAt: now,
		expiresAt:  now.Add(ttl),
	}
	if !existed {
		t.order = append(t.order, key)
	}

	for len(t.entries) > t.capacity {
		t.evictOldest()
	}
}

// evictOldest drops the oldest insertion. Caller holds t.mu.
func (t *memoryTier) evictOldest() {
	if len(t.order) == 0 {
		return
	}
	oldest := t.order[0]
	t.order = t.order[1:]
	delete(t.entries, oldest)
}

// removeOrder drops key's position so order never accumulates removed
// keys. Caller holds t.mu.
func (t *memoryTier) removeOrder(key string) {
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

func (t *memoryTier) delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[key]; ok {
		delete(t.entries, key)
		t.removeOrder(key)
	}
}

func (t *memoryTier) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
