package upsert

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/artemis/databridge/internal/apierr"
	"github.com/artemis/databridge/internal/store/postgres"
)

func TestClassifyUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: sqlStateUniqueViolation, ColumnName: "tag_list"}
	got := Classify(pgErr, "id")
	if got.Code != apierr.DuplicateValue {
		t.Errorf("expected DuplicateValue, got %v", got.Code)
	}
	if got.Field != "tags" {
		t.Errorf("expected canonicalized field 'tags', got %q", got.Field)
	}
}

func TestClassifyForeignKeyViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: sqlStateForeignKeyViolation, ConstraintName: "fk_author"}
	got := Classify(pgErr, "id")
	if got.Code != apierr.InvalidReference {
		t.Errorf("expected InvalidReference, got %v", got.Code)
	}
	if got.Field != "fk_author" {
		t.Errorf("expected fallback to constraint name, got %q", got.Field)
	}
}

func TestClassifyNotFound(t *testing.T) {
	got := Classify(postgres.ErrNotFound, "email")
	if got.Code != apierr.InvalidReference {
		t.Errorf("expected InvalidReference, got %v", got.Code)
	}
	if got.Field != "email" {
		t.Errorf("expected lookup field 'email', got %q", got.Field)
	}
}

func TestClassifyUnknownError(t *testing.T) {
	got := Classify(errors.New("connection reset"), "id")
	if got.Code != apierr.BatchFailed {
		t.Errorf("expected BatchFailed fallback, got %v", got.Code)
	}
}

func TestConstraintFieldFallsBackToRecord(t *testing.T) {
	pgErr := &pgconn.PgError{}
	if got := constraintField(pgErr); got != "record" {
		t.Errorf("expected 'record' fallback, got %q", got)
	}
}
