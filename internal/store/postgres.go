package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_by_name, created_at, updated_by_name, updated_at, head_hash
		FROM documents
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_by_name, created_at, updated_by_name, updated_at, head_hash
		FROM documents
		WHERE id=$1
	`, documentID)
	item, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	return item, err
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, created_by_name, updated_by_name, head_hash)
		VALUES ($1, $2, $3, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.Title, item.CreatedBy, item.HeadHash)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// TouchDocument records who last changed the document and its new head.
func (s *PostgresStore) TouchDocument(ctx context.Context, documentID, updatedBy, headHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET updated_by_name=$2, head_hash=$3, updated_at=NOW()
		WHERE id=$1
	`, documentID, updatedBy, headHash)
	if err != nil {
		return fmt.Errorf("touch document: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	return nil
}

// InsertChangeEvents appends events in one transaction.
func (s *PostgresStore) InsertChangeEvents(ctx context.Context, events []ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin change events tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, event := range events {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO change_events (document_id, change_id, kind, author_name, actor_name, action, excerpt, commit_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, event.DocumentID, event.ChangeID, event.Kind, event.Author, event.Actor, event.Action, event.Excerpt, event.CommitHash); err != nil {
			return fmt.Errorf("insert change event %s: %w", event.ChangeID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit change events: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListChangeEvents(ctx context.Context, documentID string, filter ChangeEventFilter) ([]ChangeEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, change_id, kind, author_name, actor_name, action, excerpt, commit_hash, created_at
		FROM change_events
		WHERE document_id=$1
		  AND ($2='' OR change_id=$2)
		  AND ($3='' OR action=$3)
		  AND ($4='' OR author_name ILIKE '%' || $4 || '%')
		ORDER BY created_at DESC, id DESC
		LIMIT $5
	`, documentID, filter.ChangeID, filter.Action, filter.Author, limit)
	if err != nil {
		return nil, fmt.Errorf("list change events: %w", err)
	}
	defer rows.Close()

	items := make([]ChangeEvent, 0)
	for rows.Next() {
		var item ChangeEvent
		if err := rows.Scan(
			&item.ID,
			&item.DocumentID,
			&item.ChangeID,
			&item.Kind,
			&item.Author,
			&item.Actor,
			&item.Action,
			&item.Excerpt,
			&item.CommitHash,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan change event: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change events: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var item Document
	err := row.Scan(&item.ID, &item.Title, &item.CreatedBy, &item.CreatedAt, &item.UpdatedBy, &item.UpdatedAt, &item.HeadHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, err
		}
		return Document{}, fmt.Errorf("scan document: %w", err)
	}
	return item, nil
}
