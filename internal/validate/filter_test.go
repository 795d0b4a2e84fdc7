package validate

import (
	"testing"

	"github.com/artemis/databridge/internal/apierr"
	"github.com/artemis/databridge/internal/job"
)

func TestFiltersEmpty(t *testing.T) {
	got, err := Filters(job.ResourceUsers, nil)
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil) for an empty filter map, got (%v, %v)", got, err)
	}
}

func TestFiltersCoercionAndAliasing(t *testing.T) {
	raw := map[string]any{
		"authorId": float64(5),
		"status":   "published",
	}
	got, err := Filters(job.ResourceArticles, raw)
	if err != nil {
		t.Fatalf("Filters: %v", err)
	}
	if got["author_id"] != int64(5) {
		t.Errorf("expected aliased/coerced author_id=5, got %+v", got)
	}
	if got["status"] != "published" {
		t.Errorf("expected status=published, got %+v", got)
	}
}

func TestFiltersUnknownKey(t *testing.T) {
	_, err := Filters(job.ResourceUsers, map[string]any{"nope": "x"})
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Code != apierr.WrongFormat {
		t.Fatalf("expected WrongFormat for unknown key, got %v", err)
	}
}

func TestFiltersUnsupportedResource(t *testing.T) {
	_, err := Filters(job.Resource("widgets"), map[string]any{"id": float64(1)})
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Code != apierr.UnsupportedResource {
		t.Fatalf("expected UnsupportedResource, got %v", err)
	}
}

func TestFiltersBadIntValue(t *testing.T) {
	_, err := Filters(job.ResourceUsers, map[string]any{"id": "not-a-number"})
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Code != apierr.WrongFormat {
		t.Fatalf("expected WrongFormat for a non-numeric id, got %v", err)
	}
}

func TestFieldsCommaSeparatedString(t *testing.T) {
	got, err := Fields(job.ResourceUsers, "id,email,email,createdAt")
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	want := []string{"id", "email", "created_at"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}

func TestFieldsEmptyInputs(t *testing.T) {
	if got, err := Fields(job.ResourceUsers, nil); err != nil || got != nil {
		t.Errorf("expected (nil, nil) for nil input, got (%v, %v)", got, err)
	}
	if got, err := Fields(job.ResourceUsers, "   "); err != nil || got != nil {
		t.Errorf("expected (nil, nil) for blank string, got (%v, %v)", got, err)
	}
}

func TestFieldsUnrecognized(t *testing.T) {
	_, err := Fields(job.ResourceUsers, "id,notAField")
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Code != apierr.WrongFormat {
		t.Fatalf("expected WrongFormat for unrecognized field, got %v", err)
	}
}
