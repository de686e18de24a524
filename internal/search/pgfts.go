package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search over the
// paragraphs table. It serves queries while Meilisearch is unavailable.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true, if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Replace swaps the indexed paragraphs of one document.
func (p *PgFTS) Replace(ctx context.Context, documentID string, records []Record) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgfts begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM paragraphs WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("pgfts clear %s: %w", documentID, err)
	}
	for i, r := range records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO paragraphs (id, document_id, paragraph_id, type, position, text)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				document_id = EXCLUDED.document_id,
				paragraph_id = EXCLUDED.paragraph_id,
				type = EXCLUDED.type,
				position = EXCLUDED.position,
				text = EXCLUDED.text,
				updated_at = NOW()`,
			r.ID, r.DocumentID, r.ParagraphID, r.Type, i, r.Text); err != nil {
			return fmt.Errorf("pgfts insert %s: %w", r.ParagraphID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgfts commit: %w", err)
	}
	return nil
}

// Search ranks paragraphs with plainto_tsquery and ts_rank and builds the
// snippet with ts_headline. The text is HTML-escaped before highlighting
// so the snippet carries no markup besides <mark>.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	where := "pa.fts @@ " + tsQuery
	if q.DocumentID != "" {
		where += " AND pa.document_id = $2"
		args = append(args, q.DocumentID)
	}

	countSQL := "SELECT count(*) FROM paragraphs pa WHERE " + where
	dataSQL := fmt.Sprintf(`
		SELECT pa.document_id, pa.paragraph_id, pa.text,
			ts_headline('english',
				replace(replace(replace(pa.text, '&', '&amp;'), '<', '&lt;'), '>', '&gt;'),
				%s, 'StartSel=<mark>,StopSel=</mark>,HighlightAll=true') AS snippet
		FROM paragraphs pa
		WHERE %s
		ORDER BY ts_rank(pa.fts, %s) DESC, pa.document_id, pa.position
		LIMIT %d`, tsQuery, where, tsQuery, limitOrDefault(q.Limit))

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.DocumentID, &r.ParagraphID, &r.Text, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}
