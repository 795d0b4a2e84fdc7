package upsert

import (
	"context"
	"strconv"
	"time"

	"github.com/artemis/databridge/internal/apierr"
	"github.com/artemis/databridge/internal/store/postgres"
)

// BuildArticleOp resolves a normalized article record to an upsert Op:
// upsert by id if present, else by slug. Tags are pre-created (insert-or-
// skip) ahead of the article row so the tag_list foreign reference never
// fails transactionally.
func BuildArticleOp(ctx context.Context, q postgres.Querier, recordIndex int, normalized map[string]any) (Op, *apierr.Error) {
	slug, _ := normalized["slug"].(string)
	idStr, hasID := normalized["id"].(string)

	var resolvedID int64
	var isCreate bool

	if hasID && idStr != "" {
		n, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return Op{}, apierr.New(apierr.WrongFormat, "id must be numeric").WithField("id")
		}
		resolvedID = n
	} else if slug != "" {
		found, err := postgres.ArticleRepo{}.FindIDBySlug(ctx, q, slug)
		switch {
		case err == nil:
			resolvedID = found
		case err == postgres.ErrNotFound:
			isCreate = true
		default:
			return Op{}, apierr.Wrap(apierr.DatabaseError, err, "slug lookup failed").WithField("slug")
		}
	} else {
		return Op{}, apierr.New(apierr.MissingRequiredField, "article record requires id or slug").WithField("id")
	}

	authorIDStr, _ := normalized["author_id"].(string)
	var authorID int64
	if authorIDStr != "" {
		n, err := strconv.ParseInt(authorIDStr, 10, 64)
		if err != nil {
			return Op{}, apierr.New(apierr.WrongFormat, "author_id must be numeric").WithField("author_id")
		}
		authorID = n
	}

	title, _ := normalized["title"].(string)
	body, _ := normalized["body"].(string)
	description, _ := normalized["description"].(string)
	status, _ := normalized["status"].(string)
	publishedAtStr, _ := normalized["published_at"].(string)
	tagsRaw, tagsSet := normalized["tags"]
	tags, _ := tagsRaw.([]string)

	var publishedAt *time.Time
	if publishedAtStr != "" {
		if t, err := time.Parse(time.RFC3339, publishedAtStr); err == nil {
			publishedAt = &t
		}
	}

	run := func(ctx context.Context, q postgres.Querier) error {
		if len(tags) > 0 {
			if err := postgres.ArticleRepo{}.EnsureTags(ctx, q, tags); err != nil {
				return err
			}
		}

		a := &postgres.Article{
			ID:          resolvedID,
			Slug:        slug,
			Title:       title,
			Body:        body,
			Description: description,
			AuthorID:    authorID,
			TagList:     tags,
			TagListSet:  tagsSet,
			Status:      status,
			PublishedAt: publishedAt,
			UpdatedAt:   time.Now(),
		}

		if isCreate {
			a.CreatedAt = time.Now()
			_, err := postgres.ArticleRepo{}.Insert(ctx, q, a)
			return err
		}
		a.CreatedAt = time.Now()
		return postgres.ArticleRepo{}.Upsert(ctx, q, a)
	}

	return Op{RecordIndex: recordIndex, RecordID: slug, Run: run}, nil
}
