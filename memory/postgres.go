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
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"stratagem/core/shared/types"
)

// PostgresStore persists conversation turns in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing database handle. The caller owns
// pooling configuration; Close closes the handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgresStore connects to the given DSN, verifies the connection,
// and ensures the schema exists.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	store := NewPostgresStore(db)
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS conversation_turns (
			id         BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			query_id   TEXT NOT NULL,
			domain     TEXT NOT NULL,
			content    TEXT NOT NULL,
			response   TEXT NOT NULL,
			provider   TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conversation_turns_session
			ON conversation_turns (session_id, created_at)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensuring conversation schema: %w", err)
	}
	return nil
}

// StoreTurn records one exchange.
func (s *PostgresStore) StoreTurn(ctx context.Context, turn Turn) error {
	ts := turn.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_turns (session_id, query_id, domain, content, response, provider, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		turn.SessionID, turn.QueryID, string(turn.Domain), turn.Content, turn.Response, turn.Provider, ts,
	)
	if err != nil {
		return fmt.Errorf("storing turn for session %s: %w", turn.SessionID, err)
	}
	return nil
}

// QueryHistory returns up to limit of the most recent turns,
// chronological order.
func (s *PostgresStore) QueryHistory(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	query := `SELECT session_id, query_id, domain, content, response, provider, created_at
		  FROM conversation_turns WHERE session_id = $1 ORDER BY created_at DESC`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var domain string
		if err := rows.Scan(&t.SessionID, &t.QueryID, &domain, &t.Content, &t.Response, &t.Provider, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.Domain = types.QueryDomain(domain)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history rows: %w", err)
	}

	// Rows arrive newest-first; callers get chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// GetSessionContext summarizes the session.
func (s *PostgresStore) GetSessionContext(ctx context.Context, sessionID string) (SessionContext, error) {
	sc := SessionContext{SessionID: sessionID}

	var first, last sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at), MAX(created_at)
		 FROM conversation_turns WHERE session_id = $1`,
		sessionID,
	).Scan(&sc.TurnCount, &first, &last)
	if err != nil {
		return SessionContext{}, fmt.Errorf("summarizing session %s: %w", sessionID, err)
	}
	if sc.TurnCount == 0 {
		return sc, nil
	}
	if first.Valid {
		sc.FirstSeen = first.Time
	}
	if last.Valid {
		sc.LastSeen = last.Time
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT domain FROM conversation_turns WHERE session_id = $1 ORDER BY domain`,
		sessionID,
	)
	if err != nil {
		return SessionContext{}, fmt.Errorf("listing session domains: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return SessionContext{}, fmt.Errorf("scanning domain: %w", err)
		}
		sc.Domains = append(sc.Domains, types.QueryDomain(domain))
	}
	if err := rows.Err(); err != nil {
		return SessionContext{}, fmt.Errorf("iterating domain rows: %w", err)
	}
	return sc, nil
}

// Close closes the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
