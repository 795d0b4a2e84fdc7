package upsert

import (
	"context"
	"strconv"
	"time"

	"github.com/artemis/databridge/internal/apierr"
	"github.com/artemis/databridge/internal/store/postgres"
)

// BuildCommentOp resolves a normalized comment record to an upsert Op.
// Comments always require an explicit id; there is no author-derived
// create path the way users and articles have.
func BuildCommentOp(ctx context.Context, q postgres.Querier, recordIndex int, normalized map[string]any) (Op, *apierr.Error) {
	idStr, _ := normalized["id"].(string)
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return Op{}, apierr.New(apierr.WrongFormat, "id must be numeric").WithField("id")
	}

	articleIDStr, _ := normalized["article_id"].(string)
	articleID, err := strconv.ParseInt(articleIDStr, 10, 64)
	if err != nil {
		return Op{}, apierr.New(apierr.WrongFormat, "article_id must be numeric").WithField("article_id")
	}

	userIDStr, _ := normalized["user_id"].(string)
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		return Op{}, apierr.New(apierr.WrongFormat, "user_id must be numeric").WithField("user_id")
	}

	body, _ := normalized["body"].(string)
	createdAtStr, _ := normalized["created_at"].(string)
	createdAt := time.Now()
	if createdAtStr != "" {
		if t, err := time.Parse(time.RFC3339, createdAtStr); err == nil {
			createdAt = t
		}
	}

	run := func(ctx context.Context, q postgres.Querier) error {
		return postgres.CommentRepo{}.Upsert(ctx, q, &postgres.Comment{
			ID:        id,
			ArticleID: articleID,
			UserID:    userID,
			Body:      body,
			CreatedAt: createdAt,
		})
	}

	return Op{RecordIndex: recordIndex, RecordID: idStr, Run: run}, nil
}
