package postgres

import (
	"context"
	"errors"
	"fmt"

	"edudesk/internal/domain/resource"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"
)

type ResourceRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewResourceRepository(pool *pgxpool.Pool, log *slog.Logger) *ResourceRepository {
	return &ResourceRepository{
		pool: pool,
		log:  log.With("component", "resource_repository"),
	}
}

func (r *ResourceRepository) List(ctx context.Context, collection string) ([]resource.Document, error) {
	const query = `
		SELECT collection, id, data, version, created_at, updated_at
		FROM resources
		WHERE collection = $1
		ORDER BY seq`

	rows, err := r.pool.Query(ctx, query, collection)
	if err != nil {
		r.log.Error("failed to list documents", "collection", collection, "error", err)
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]resource.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	return docs, nil
}

func (r *ResourceRepository) Get(ctx context.Context, collection, id string) (*resource.Document, error) {
	const query = `
		SELECT collection, id, data, version, created_at, updated_at
		FROM resources
		WHERE collection = $1 AND id = $2`

	doc, err := scanDocument(r.pool.QueryRow(ctx, query, collection, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, resource.ErrNotFound
		}
		r.log.Error("failed to get document", "collection", collection, "id", id, "error", err)
		return nil, fmt.Errorf("get document: %w", err)
	}

	return doc, nil
}

func (r *ResourceRepository) Create(ctx context.Context, doc *resource.Document) error {
	const query = `
		INSERT INTO resources (collection, id, data, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (collection, id) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query,
		doc.Collection, doc.ID, []byte(doc.Data), doc.Version, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		r.log.Error("failed to create document", "collection", doc.Collection, "id", doc.ID, "error", err)
		return fmt.Errorf("create document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return resource.ErrConflict
	}

	return nil
}

func (r *ResourceRepository) Update(ctx context.Context, doc *resource.Document) error {
	const query = `
		UPDATE resources
		SET data = $3, version = version + 1, updated_at = $4
		WHERE collection = $1 AND id = $2
		RETURNING version`

	err := r.pool.QueryRow(ctx, query, doc.Collection, doc.ID, []byte(doc.Data), doc.UpdatedAt).
		Scan(&doc.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return resource.ErrNotFound
		}
		r.log.Error("failed to update document", "collection", doc.Collection, "id", doc.ID, "error", err)
		return fmt.Errorf("update document: %w", err)
	}

	return nil
}

func (r *ResourceRepository) Delete(ctx context.Context, collection, id string) error {
	const query = `DELETE FROM resources WHERE collection = $1 AND id = $2`

	tag, err := r.pool.Exec(ctx, query, collection, id)
	if err != nil {
		r.log.Error("failed to delete document", "collection", collection, "id", id, "error", err)
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return resource.ErrNotFound
	}

	return nil
}

func scanDocument(row pgx.Row) (*resource.Document, error) {
	var (
		doc  resource.Document
		data []byte
	)
	if err := row.Scan(&doc.Collection, &doc.ID, &data, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Data = data
	return &doc, nil
}
