package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const pageColumns = `id, slug, title, content, published, updated_by, created_at, updated_at`

// UpsertPageParams represents parameters for creating or replacing a
// content page
type UpsertPageParams struct {
	Slug      string
	Title     string
	Content   string
	Published bool
	UpdatedBy string
}

const sqlUpsertPage = `
INSERT INTO pages (slug, title, content, published, updated_by)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (slug) DO UPDATE
SET title = EXCLUDED.title,
    content = EXCLUDED.content,
    published = EXCLUDED.published,
    updated_by = EXCLUDED.updated_by,
    updated_at = CURRENT_TIMESTAMP
RETURNING ` + pageColumns

// UpsertPage creates a page or replaces its content when the slug exists
func (s *Store) UpsertPage(ctx context.Context, params UpsertPageParams) (Page, error) {
	var page Page
	err := s.db.GetContext(ctx, &page, sqlUpsertPage,
		params.Slug,
		params.Title,
		params.Content,
		params.Published,
		params.UpdatedBy,
	)
	if err != nil {
		return Page{}, fmt.Errorf("failed to upsert page: %w", err)
	}
	return page, nil
}

const sqlGetPageBySlug = `
SELECT ` + pageColumns + `
FROM pages
WHERE slug = $1
`

const sqlGetPublishedPageBySlug = `
SELECT ` + pageColumns + `
FROM pages
WHERE slug = $1 AND published = true
`

// GetPageBySlug retrieves a page by slug, optionally restricted to
// published pages
func (s *Store) GetPageBySlug(ctx context.Context, slug string, publishedOnly bool) (Page, error) {
	query := sqlGetPageBySlug
	if publishedOnly {
		query = sqlGetPublishedPageBySlug
	}

	var page Page
	err := s.db.GetContext(ctx, &page, query, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Page{}, ErrNotFound
		}
		return Page{}, fmt.Errorf("failed to get page: %w", err)
	}
	return page, nil
}

const sqlListPages = `
SELECT ` + pageColumns + `
FROM pages
ORDER BY slug ASC
`

// ListPages retrieves all pages
func (s *Store) ListPages(ctx context.Context) ([]Page, error) {
	var pages []Page
	err := s.db.SelectContext(ctx, &pages, sqlListPages)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	return pages, nil
}

const sqlDeletePage = `
DELETE FROM pages
WHERE id = $1
`

// DeletePage removes a page
func (s *Store) DeletePage(ctx context.Context, pageID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, sqlDeletePage, pageID)
	if err != nil {
		return fmt.Errorf("failed to delete page: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
