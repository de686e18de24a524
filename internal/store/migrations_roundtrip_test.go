package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("REDLINE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("REDLINE_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	require.NoError(t, err)
	require.NoError(t, ApplyMigrations(ctx, db, migrationsDir))
	return NewPostgresStore(db)
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, RevertMigrations(ctx, s.DB(), migrationsDir))
	var remaining int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&remaining))
	assert.Zero(t, remaining)

	require.NoError(t, ApplyMigrations(ctx, s.DB(), migrationsDir))
	require.NoError(t, ApplyMigrations(ctx, s.DB(), migrationsDir), "second pass is a no-op")
}

func TestChangeEventsArePostgresAppendOnly(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.InsertDocument(ctx, Document{ID: "doc-1", Title: "Lease", CreatedBy: "Jane"}))
	require.NoError(t, s.InsertChangeEvents(ctx, []ChangeEvent{
		{DocumentID: "doc-1", ChangeID: "ins-1", Kind: "insertion", Author: "Jane", Actor: "Jane", Action: ActionCreated, Excerpt: "new"},
		{DocumentID: "doc-1", ChangeID: "ins-1", Kind: "insertion", Author: "Jane", Actor: "Bob", Action: ActionAccepted, Excerpt: "new"},
	}))

	events, err := s.ListChangeEvents(ctx, "doc-1", ChangeEventFilter{ChangeID: "ins-1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ActionAccepted, events[0].Action)

	_, err = s.DB().ExecContext(ctx, `UPDATE change_events SET excerpt='x'`)
	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr))
	assert.Equal(t, "55000", pgErr.SQLState())

	_, err = s.DB().ExecContext(ctx, `DELETE FROM change_events`)
	require.Error(t, err)
}

func TestDocumentsPostgres(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.InsertDocument(ctx, Document{ID: "doc-1", Title: "Lease", CreatedBy: "Jane", HeadHash: "abc1234"}))
	require.NoError(t, s.TouchDocument(ctx, "doc-1", "Bob", "def5678"))

	doc, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Bob", doc.UpdatedBy)
	assert.Equal(t, "def5678", doc.HeadHash)

	_, err = s.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.TouchDocument(ctx, "missing", "Bob", ""), ErrNotFound)

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}
