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
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const diskSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key         TEXT PRIMARY KEY,
	value       TEXT NOT NULL,
	inserted_at INTEGER NOT NULL,
	expires_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
`

// diskTier persists cache entries in a local sqlite database so warm
// results survive a process restart. Expiry is enforced on read and
// expired rows are pruned opportunistically on write.
type diskTier struct {
	db *sql.DB
}

func newDiskTier(path string) (*diskTier, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if _, err := db.Exec(diskSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply cache schema: %w", err)
	}
	return &diskTier{db: db}, nil
}

func (t *diskTier) get(ctx context.Context, key string) (string, bool) {
	var value string
	var expiresAt int64
	err := t.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if err != nil {
		return "", false
	}
	if time.Now().UnixMilli() > expiresAt {
		// Lazy purge of the expired row.
		_, _ = t.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return "", false
	}
	return value, true
}

func (t *diskTier) put(ctx context.Context, key, value string, ttl time.Duration) error {
	now := time.Now()
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, inserted_at, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   value = excluded.value,
		   inserted_at = excluded.inserted_at,
		   expires_at = excluded.expires_at`,
		key, value, now.UnixMilli(), now.Add(ttl).UnixMilli(),
	)
	if err != nil {
		return err
	}

	// Opportunistic prune keeps the file from growing unbounded.
	_, _ = t.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at < ?`, now.UnixMilli())
	return nil
}

func (t *diskTier) delete(ctx context.Context, key string) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	return err
}

func (t *diskTier) len(ctx context.Context) int {
	var n int
	if err := t.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE expires_at >= ?`,
		time.Now().UnixMilli(),
	).Scan(&n); err != nil {
		return 0
	}
	return n
}

func (t *diskTier) close() error {
	return t.db.Close()
}
