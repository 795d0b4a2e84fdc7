package postgres

import (
	"context"
	"time"
)

// Comment is the row shape of the comments table.
type Comment struct {
	ID        int64
	ArticleID int64
	UserID    int64
	Body      string
	CreatedAt time.Time
}

type CommentRepo struct{}

func (CommentRepo) ExistsByID(ctx context.Context, q Querier, id int64) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM comments WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (CommentRepo) Upsert(ctx context.Context, q Querier, c *Comment) error {
	const query = `
		INSERT INTO comments (id, article_id, user_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			article_id = EXCLUDED.article_id,
			user_id = EXCLUDED.user_id,
			body = EXCLUDED.body`
	_, err := q.Exec(ctx, query, c.ID, c.ArticleID, c.UserID, c.Body, c.CreatedAt)
	return err
}
