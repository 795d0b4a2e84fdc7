package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Article is the row shape of the articles table.
type Article struct {
	ID          int64
	Slug        string
	Title       string
	Body        string
	Description string
	AuthorID    int64
	TagList     []string
	// TagListSet distinguishes an update that supplied an (possibly empty)
	// tags array from one that omitted the field entirely; Upsert only
	// overwrites tag_list when this is true.
	TagListSet  bool
	Status      string
	PublishedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ArticleRepo struct{}

func (ArticleRepo) ExistsByID(ctx context.Context, q Querier, id int64) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM articles WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (ArticleRepo) FindIDBySlug(ctx context.Context, q Querier, slug string) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `SELECT id FROM articles WHERE lower(slug) = lower($1)`, slug).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

// EnsureTags bulk-inserts any referenced tag names with insert-or-skip
// semantics, ahead of the article upsert that references them.
func (ArticleRepo) EnsureTags(ctx context.Context, q Querier, names []string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `INSERT INTO tags (name) SELECT unnest($1::text[]) ON CONFLICT (name) DO NOTHING`, names)
	return err
}

// Upsert inserts or updates an article row. tag_list is only overwritten on
// conflict when a.TagListSet is true, so an incoming record that never
// mentioned tags leaves the existing tag_list alone instead of clearing it.
func (ArticleRepo) Upsert(ctx context.Context, q Querier, a *Article) error {
	const query = `
		INSERT INTO articles (id, slug, title, body, description, author_id, tag_list, status, published_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug,
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			description = EXCLUDED.description,
			tag_list = CASE WHEN $12 THEN EXCLUDED.tag_list ELSE articles.tag_list END,
			status = EXCLUDED.status,
			published_at = EXCLUDED.published_at,
			updated_at = EXCLUDED.updated_at`
	_, err := q.Exec(ctx, query, a.ID, a.Slug, a.Title, a.Body, a.Description, a.AuthorID, a.TagList, a.Status, a.PublishedAt, a.CreatedAt, a.UpdatedAt, a.TagListSet)
	return err
}

// Insert creates a new article row, letting the identity column assign ID.
func (ArticleRepo) Insert(ctx context.Context, q Querier, a *Article) (int64, error) {
	const query = `
		INSERT INTO articles (slug, title, body, description, author_id, tag_list, status, published_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	var id int64
	err := q.QueryRow(ctx, query, a.Slug, a.Title, a.Body, a.Description, a.AuthorID, a.TagList, a.Status, a.PublishedAt, a.CreatedAt, a.UpdatedAt).Scan(&id)
	return id, err
}
