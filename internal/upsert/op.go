// Package upsert implements the upsert engine: an ordered list of
// per-record operations attempted together in one transaction, falling
// back to independent per-record execution and error classification on
// transactional failure.
//
// Op is one struct for all three resources: BuildUserOp, BuildArticleOp
// and BuildCommentOp each return an Op whose Run closure executes that
// resource's upsert against a transaction.
package upsert

import (
	"context"

	"github.com/artemis/databridge/internal/apierr"
	"github.com/artemis/databridge/internal/store/postgres"
)

// Op is one record's prepared upsert, closed over its normalized fields.
// RecordIndex ties a failure back to the originating record for error
// journaling.
type Op struct {
	RecordIndex int
	RecordID    string // business key surfaced on failure, e.g. email/slug
	Run         func(ctx context.Context, q postgres.Querier) error
}

// Outcome is one record's result from a batch run.
type Outcome struct {
	RecordIndex int
	Err         *apierr.Error
}
