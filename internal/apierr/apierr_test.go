package apierr

import (
	"errors"
	"fmt"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{MissingRequiredField, 422},
		{ParseError, 422},
		{FileTooLarge, 413},
		{JobNotFound, 404},
		{UnsupportedResource, 404},
		{Unauthorized, 401},
		{RateLimited, 429},
		{DownloadExpired, 410},
		{DownloadNotReady, 409},
		{QueueError, 503},
		{TimeoutError, 504},
		{DatabaseError, 500},
	}
	for _, tc := range cases {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Errorf("Code(%d).HTTPStatus() = %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestDecade(t *testing.T) {
	if got := WrongFormat.Decade(); got != 1000 {
		t.Errorf("Decade() = %d, want 1000", got)
	}
	if got := StreamError.Decade(); got != 3000 {
		t.Errorf("Decade() = %d, want 3000", got)
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(MissingRequiredField, "resource is required").WithField("resource")
	if err.Error() != "MISSING_REQUIRED_FIELD (resource): resource is required" {
		t.Errorf("unexpected Error() output: %q", err.Error())
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(DatabaseError, cause, "query failed")

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	got, ok := As(wrapped)
	if !ok {
		t.Fatal("expected As to unwrap to the taxonomy error")
	}
	if got.Code != DatabaseError {
		t.Errorf("expected DatabaseError, got %v", got.Code)
	}
}

func TestAsNotFound(t *testing.T) {
	_, ok := As(errors.New("plain error"))
	if ok {
		t.Error("expected As to report false for a non-taxonomy error")
	}
}

func TestWithDetailsAndValueCopyOnWrite(t *testing.T) {
	base := New(BadEnumValue, "bad value")
	withValue := base.WithValue("redacted")
	withDetails := base.WithDetails(map[string]any{"allowed": []string{"a", "b"}})

	if base.Value != "" {
		t.Error("WithValue must not mutate the receiver")
	}
	if base.Details != nil {
		t.Error("WithDetails must not mutate the receiver")
	}
	if withValue.Value != "redacted" {
		t.Errorf("expected Value to be set on the copy, got %q", withValue.Value)
	}
	if withDetails.Details == nil {
		t.Error("expected Details to be set on the copy")
	}
}
