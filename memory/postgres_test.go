// Copyright 2025 Stratagem
// SPDX-License-Identifier: BUSL-1.1

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratagem/core/shared/types"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewPostgresStore(db), mock
}

func TestPostgresStoreTurn(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Now()

	mock.ExpectExec("INSERT INTO conversation_turns").
		WithArgs("s1", "q-1", "risk", "content", "response", "reasoning-1", ts).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.StoreTurn(context.Background(), Turn{
		SessionID: "s1",
		QueryID:   "q-1",
		Domain:    types.DomainRisk,
		Content:   "content",
		Response:  "response",
		Provider:  "reasoning-1",
		Timestamp: ts,
	})
	require.NoError(t, err)
}

func TestPostgresQueryHistoryReversesToChronological(t *testing.T) {
	store, mock := newMockStore(t)
	base := time.Now()

	cols := []string{"session_id", "query_id", "domain", "content", "response", "provider", "created_at"}
	// The database returns newest-first.
	rows := sqlmock.NewRows(cols).
		AddRow("s1", "q-2", "trend", "c2", "r2", "p", base.Add(time.Minute)).
		AddRow("s1", "q-1", "trend", "c1", "r1", "p", base)

	mock.ExpectQuery("SELECT session_id, query_id, domain, content, response, provider, created_at").
		WithArgs("s1", 2).
		WillReturnRows(rows)

	turns, err := store.QueryHistory(context.Background(), "s1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "q-1", turns[0].QueryID, "caller sees chronological order")
	assert.Equal(t, "q-2", turns[1].QueryID)
	assert.Equal(t, types.DomainTrend, turns[0].Domain)
}

func TestPostgresQueryHistoryNoLimitOmitsLimitClause(t *testing.T) {
	store, mock := newMockStore(t)

	cols := []string{"session_id", "query_id", "domain", "content", "response", "provider", "created_at"}
	mock.ExpectQuery("SELECT session_id, query_id, domain, content, response, provider, created_at").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(cols))

	turns, err := store.QueryHistory(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestPostgresGetSessionContext(t *testing.T) {
	store, mock := newMockStore(t)
	first := time.Now().Add(-time.Hour)
	last := time.Now()

	mock.ExpectQuery(`SELECT COUNT\(\*\), MIN\(created_at\), MAX\(created_at\)`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count", "min", "max"}).AddRow(7, first, last))
	mock.ExpectQuery("SELECT DISTINCT domain").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"domain"}).AddRow("risk").AddRow("trend"))

	sc, err := store.GetSessionContext(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 7, sc.TurnCount)
	assert.True(t, sc.FirstSeen.Equal(first))
	assert.True(t, sc.LastSeen.Equal(last))
	assert.Equal(t, []types.QueryDomain{types.DomainRisk, types.DomainTrend}, sc.Domains)
}

func TestPostgresGetSessionContextUnknownSession(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\), MIN\(created_at\), MAX\(created_at\)`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"count", "min", "max"}).AddRow(0, nil, nil))

	sc, err := store.GetSessionContext(context.Background(), "ghost")
	require.NoError(t, err, "unknown session must not error")
	assert.Equal(t, 0, sc.TurnCount)
	assert.Empty(t, sc.Domains)
}
