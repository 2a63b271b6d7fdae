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
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// sharedKeyPrefix namespaces cache entries in a shared redis instance.
const sharedKeyPrefix = "stratagem:cache:"

// sharedTier stores cache entries in redis so replicas share warm results.
// Redis handles TTL expiry natively; a redis outage degrades the cache to
// the local tiers rather than failing lookups.
type sharedTier struct {
	client *redis.Client
}

func newSharedTier(redisURL string) (*sharedTier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &sharedTier{client: client}, nil
}

func (t *sharedTier) get(ctx context.Context, key string) (string, bool) {
	value, err := t.client.Get(ctx, sharedKeyPrefix+key).Result()
	if err != nil {
		return "", false
	}
	return value, true
}

func (t *sharedTier) put(ctx context.Context, key, value string, ttl time.Duration) error {
	return t.client.Set(ctx, sharedKeyPrefix+key, value, ttl).Err()
}

func (t *sharedTier) delete(ctx context.Context, key string) error {
	return t.client.Del(ctx, sharedKeyPrefix+key).Err()
}

func (t *sharedTier) close() error {
	return t.client.Close()
}
