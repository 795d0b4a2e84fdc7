package upsert

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/artemis/databridge/internal/apierr"
	"github.com/artemis/databridge/internal/store/postgres"
)

// Postgres SQLSTATE codes this classifier recognizes.
const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
)

// fieldAliases canonicalizes a constraint/column name to the field name
// error classification reports (e.g. "tag_list -> tags",
// "authorId -> author_id").
var fieldAliases = map[string]string{
	"tag_list": "tags",
	"authorId": "author_id",
}

func canonicalField(name string) string {
	if alias, ok := fieldAliases[name]; ok {
		return alias
	}
	return name
}

// Classify maps a Postgres error to an error taxonomy code for the
// independent-execution fallback path.
func Classify(err error, lookupField string) *apierr.Error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateUniqueViolation:
			return apierr.New(apierr.DuplicateValue, "value already exists").WithField(canonicalField(constraintField(pgErr)))
		case sqlStateForeignKeyViolation:
			return apierr.New(apierr.InvalidReference, "referenced row does not exist").WithField(canonicalField(constraintField(pgErr)))
		}
	}

	if errors.Is(err, postgres.ErrNotFound) {
		return apierr.New(apierr.InvalidReference, "record not found for update").WithField(lookupField)
	}

	return apierr.Wrap(apierr.BatchFailed, err, "batch operation failed").WithField("record")
}

// constraintField extracts the best available column/constraint hint from
// a pg error for field attribution; falls back to the constraint name
// itself when no column is reported.
func constraintField(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	if pgErr.ConstraintName != "" {
		return pgErr.ConstraintName
	}
	return "record"
}
