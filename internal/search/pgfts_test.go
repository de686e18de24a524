package search

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redline/api/internal/store"
)

func openTestFTS(t *testing.T) *PgFTS {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("REDLINE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("REDLINE_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := store.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	require.NoError(t, err)
	require.NoError(t, store.ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")))

	docs := store.NewPostgresStore(db)
	for _, id := range []string{"doc-1", "doc-2"} {
		require.NoError(t, docs.InsertDocument(ctx, store.Document{ID: id, Title: "Lease", CreatedBy: "Jane"}))
	}
	return NewPgFTS(db)
}

func TestPgFTSSearchPostgres(t *testing.T) {
	fts := openTestFTS(t)
	ctx := context.Background()

	require.NoError(t, fts.Replace(ctx, "doc-1", paragraphs("doc-1", map[string]string{
		"p1": "The tenant pays rent",
		"p2": "Landlord <repairs> the roof",
	})))
	require.NoError(t, fts.Replace(ctx, "doc-2", paragraphs("doc-2", map[string]string{"p1": "Rent is due monthly"})))

	results, total, err := fts.Search(Query{Text: "rent"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Contains(t, r.Snippet, "<mark>")
	}

	scoped, total, err := fts.Search(Query{Text: "rent", DocumentID: "doc-2"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "p1", scoped[0].ParagraphID)

	escaped, _, err := fts.Search(Query{Text: "roof"})
	require.NoError(t, err)
	require.Len(t, escaped, 1)
	assert.Contains(t, escaped[0].Snippet, "&lt;repairs&gt;")
	assert.Equal(t, "Landlord <repairs> the roof", escaped[0].Text)

	require.NoError(t, fts.Replace(ctx, "doc-1", paragraphs("doc-1", map[string]string{"p1": "The tenant pays rent"})))
	gone, _, err := fts.Search(Query{Text: "roof"})
	require.NoError(t, err)
	assert.Empty(t, gone)

	none, total, err := fts.Search(Query{Text: "  "})
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Zero(t, total)
}
