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

// Package cache implements the multi-level result cache consulted before
// query routing: a bounded in-process memory tier, a sqlite-backed disk
// tier, and a redis-backed shared tier with independent TTLs. Lookups fall
// through memory -> disk -> shared, promoting lower-tier hits into memory.
package cache

import (
	"context"
	"log"
	"os"
	"time"
)

// Tier identifies a cache level.
type Tier string

const (
	TierMemory Tier = "memory"
	TierDisk   Tier = "disk"
	TierShared Tier = "shared"
)

// Default per-tier TTLs.
const (
	DefaultMemoryTTL = 5 * time.Minute
	DefaultDiskTTL   = 1 * time.Hour
	DefaultSharedTTL = 24 * time.Hour
)

// DefaultMemoryCapacity bounds the memory tier entry count.
const DefaultMemoryCapacity = 1024

// MultiLevelCache coordinates the three tiers. The disk and shared tiers
// are optional; a cache with only the memory tier is fully functional.
// Writes are last-writer-wins per tier.
type MultiLevelCache struct {
	memory *memoryTier
	disk   *diskTier
	shared *sharedTier

	memoryTTL time.Duration
	diskTTL   time.Duration
	sharedTTL time.Duration

	logger *log.Logger
}

// Option configures the cache during creation.
type Option func(*MultiLevelCache) error

// WithMemoryCapacity bounds the number of memory-tier entries.
func WithMemoryCapacity(n int) Option {
	return func(c *MultiLevelCache) error {
		c.memory = newMemoryTier(n)
		return nil
	}
}

// WithDiskTier enables the sqlite-backed disk tier at the given path.
func WithDiskTier(path string) Option {
	return func(c *MultiLevelCache) error {
		disk, err := newDiskTier(path)
		if err != nil {
			return err
		}
		c.disk = disk
		return nil
	}
}

// WithSharedTier enables the redis-backed shared tier.
// The URL format is redis://host:port or redis://host:port/db.
func WithSharedTier(redisURL string) Option {
	return func(c *MultiLevelCache) error {
		shared, err := newSharedTier(redisURL)
		if err != nil {
			return err
		}
		c.shared = shared
		return nil
	}
}

// WithTTLs overrides the per-tier default TTLs. Zero values keep defaults.
func WithTTLs(memory, disk, shared time.Duration) Option {
	return func(c *MultiLevelCache) error {
		if memory > 0 {
			c.memoryTTL = memory
		}
		if disk > 0 {
			c.diskTTL = disk
		}
		if shared > 0 {
			c.sharedTTL = shared
		}
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *MultiLevelCache) error {
		c.logger = logger
		return nil
	}
}

// New creates a multi-level cache. Only the memory tier is enabled unless
// WithDiskTier/WithSharedTier options are supplied.
func New(opts ...Option) (*MultiLevelCache, error) {
	c := &MultiLevelCache{
		memory:    newMemoryTier(DefaultMemoryCapacity),
		memoryTTL: DefaultMemoryTTL,
		diskTTL:   DefaultDiskTTL,
		sharedTTL: DefaultSharedTTL,
		logger:    log.New(os.Stdout, "[CACHE] ", log.LstdFlags),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Get looks a key up across tiers: memory first, then disk, then shared.
// A disk or shared hit is promoted into the memory tier (read-through
// promotion) so hot keys converge on the fastest tier. An entry past its
// TTL is a miss at every tier.
func (c *MultiLevelCache) Get(ctx context.Context, key string) (string, bool) {
	if value, ok := c.memory.get(key); ok {
		return value, true
	}

	if c.disk != nil {
		if value, ok := c.disk.get(ctx, key); ok {
			c.memory.put(key, value, c.memoryTTL)
			return value, true
		}
	}

	if c.shared != nil {
		if value, ok := c.shared.get(ctx, key); ok {
			c.memory.put(key, value, c.memoryTTL)
			return value, true
		}
	}

	return "", false
}

// Put writes the value through every enabled tier with tier-appropriate
// TTLs. The supplied TTL applies to the memory tier (0 = tier default);
// disk and shared always use their configured TTLs.
func (c *MultiLevelCache) Put(ctx context.Context, key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.memoryTTL
	}
	c.memory.put(key, value, ttl)

	if c.disk != nil {
		if err := c.disk.put(ctx, key, value, c.diskTTL); err != nil {
			c.logger.Printf("Disk tier put failed for %s: %v", key, err)
		}
	}
	if c.shared != nil {
		if err := c.shared.put(ctx, key, value, c.sharedTTL); err != nil {
			c.logger.Printf("Shared tier put failed for %s: %v", key, err)
		}
	}
}

// PutTier writes to a single tier with an explicit TTL.
func (c *MultiLevelCache) PutTier(ctx context.Context, key, value string, tier Tier, ttl time.Duration) {
	switch tier {
	case TierMemory:
		if ttl <= 0 {
			ttl = c.memoryTTL
		}
		c.memory.put(key, value, ttl)
	case TierDisk:
		if c.disk == nil {
			return
		}
		if ttl <= 0 {
			ttl = c.diskTTL
		}
		if err := c.disk.put(ctx, key, value, ttl); err != nil {
			c.logger.Printf("Disk tier put failed for %s: %v", key, err)
		}
	case TierShared:
		if c.shared == nil {
			return
		}
		if ttl <= 0 {
			ttl = c.sharedTTL
		}
		if err := c.shared.put(ctx, key, value, ttl); err != nil {
			c.logger.Printf("Shared tier put failed for %s: %v", key, err)
		}
	}
}

// Invalidate removes a key from every tier. Used when the underlying data
// is known stale, e.g. after a strategic-context update.
func (c *MultiLevelCache) Invalidate(ctx context.Context, key string) {
	c.memory.delete(key)
	if c.disk != nil {
		if err := c.disk.delete(ctx, key); err != nil {
			c.logger.Printf("Disk tier invalidate failed for %s: %v", key, err)
		}
	}
	if c.shared != nil {
		if err := c.shared.delete(ctx, key); err != nil {
			c.logger.Printf("Shared tier invalidate failed for %s: %v", key, err)
		}
	}
}

// Stats returns per-tier entry counts for observability. The shared tier
// is reported as -1 when its size is not cheaply knowable.
func (c *MultiLevelCache) Stats(ctx context.Context) map[Tier]int {
	stats := map[Tier]int{TierMemory: c.memory.len()}
	if c.disk != nil {
		stats[TierDisk] = c.disk.len(ctx)
	}
	if c.shared != nil {
		stats[TierShared] = -1
	}
	return stats
}

// Close releases tier resources.
func (c *MultiLevelCache) Close() error {
	var firstErr error
	if c.disk != nil {
		if err := c.disk.close(); err != nil {
			firstErr = err
		}
	}
	if c.shared != nil {
		if err := c.shared.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
