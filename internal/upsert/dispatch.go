package upsert

import (
	"context"

	"github.com/artemis/databridge/internal/apierr"
	"github.com/artemis/databridge/internal/job"
	"github.com/artemis/databridge/internal/store/postgres"
)

// BuildOp resolves a normalized record to its resource-appropriate Op.
func BuildOp(ctx context.Context, q postgres.Querier, resource job.Resource, recordIndex int, normalized map[string]any) (Op, *apierr.Error) {
	switch resource {
	case job.ResourceUsers:
		return BuildUserOp(ctx, q, recordIndex, normalized)
	case job.ResourceArticles:
		return BuildArticleOp(ctx, q, recordIndex, normalized)
	case job.ResourceComments:
		return BuildCommentOp(ctx, q, recordIndex, normalized)
	default:
		return Op{}, apierr.New(apierr.UnsupportedResource, string(resource))
	}
}

// LookupField returns the field name to attribute a fallback-path
// classification failure to, keyed by resource.
func LookupField(resource job.Resource) string {
	switch resource {
	case job.ResourceUsers:
		return "email"
	case job.ResourceArticles:
		return "slug"
	case job.ResourceComments:
		return "id"
	default:
		return "record"
	}
}
