package importpipeline

import (
	"context"
	"strconv"

	"github.com/artemis/databridge/internal/store/postgres"
)

// storeLookups adapts the postgres repositories' int64-id/ErrNotFound
// idiom to the string-id, found-bool shape validate.Lookups expects.
type storeLookups struct {
	q postgres.Querier
}

func newStoreLookups(q postgres.Querier) *storeLookups {
	return &storeLookups{q: q}
}

func (l *storeLookups) UserIDByEmail(ctx context.Context, email string) (string, bool, error) {
	id, err := postgres.UserRepo{}.FindIDByEmail(ctx, l.q, email)
	if err == postgres.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return strconv.FormatInt(id, 10), true, nil
}

func (l *storeLookups) ArticleIDBySlug(ctx context.Context, slug string) (string, bool, error) {
	id, err := postgres.ArticleRepo{}.FindIDBySlug(ctx, l.q, slug)
	if err == postgres.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return strconv.FormatInt(id, 10), true, nil
}

func (l *storeLookups) UserExists(ctx context.Context, id string) (bool, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return false, nil
	}
	return postgres.UserRepo{}.ExistsByID(ctx, l.q, n)
}

func (l *storeLookups) ArticleExists(ctx context.Context, id string) (bool, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return false, nil
	}
	return postgres.ArticleRepo{}.ExistsByID(ctx, l.q, n)
}
