package validate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/artemis/databridge/internal/apierr"
	"github.com/artemis/databridge/internal/job"
)

// fieldKind tags the coercion/validation rule a canonical filter key obeys.
type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
	kindBool
	kindDate
)

type fieldSchema struct {
	kind fieldKind
}

// filterSchemas is the canonical filter key set per resource. Entity row
// ids, and the foreign keys that reference them, are the ascending
// integers export cursors paginate over.
var filterSchemas = map[job.Resource]map[string]fieldSchema{
	job.ResourceUsers: {
		"id":         {kindInt},
		"email":      {kindString},
		"role":       {kindString},
		"name":       {kindString},
		"active":     {kindBool},
		"created_at": {kindDate},
	},
	job.ResourceArticles: {
		"id":           {kindInt},
		"slug":         {kindString},
		"status":       {kindString},
		"author_id":    {kindInt},
		"published_at": {kindDate},
		"created_at":   {kindDate},
	},
	job.ResourceComments: {
		"id":         {kindInt},
		"article_id": {kindInt},
		"user_id":    {kindInt},
		"created_at": {kindDate},
	},
}

// exportFields is the canonical field enumeration per resource, used by
// the projection validator.
var exportFields = map[job.Resource]map[string]bool{
	job.ResourceUsers:    setOf("id", "email", "name", "role", "active", "created_at", "updated_at"),
	job.ResourceArticles: setOf("id", "slug", "title", "body", "author_id", "tags", "published_at", "status"),
	job.ResourceComments: setOf("id", "article_id", "user_id", "body", "created_at"),
}

func setOf(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

// aliases rewrites recognized camelCase spellings to their canonical
// snake_case key. Generic camelCase splitting (toSnakeCase)
// already produces the same result for these; the explicit table documents
// which keys a caller may rely on, and is checked first so behavior does
// not silently change if the splitting heuristic is ever adjusted.
var aliases = map[string]string{
	"authorId":    "author_id",
	"publishedAt": "published_at",
	"createdAt":   "created_at",
	"articleId":   "article_id",
	"userId":      "user_id",
	"updatedAt":   "updated_at",
}

func canonicalizeKey(key string) string {
	if canon, ok := aliases[key]; ok {
		return canon
	}
	return toSnakeCase(strings.TrimSpace(key))
}

// DateBound is one of {gt, gte, lt, lte} parsed to a time.
type DateBound struct {
	GT, GTE, LT, LTE *time.Time
}

// FilterResult holds canonical keys with typed values, and the selected
// export field set. Both are nil ("null", not an empty map) when nothing
// was supplied.
type FilterResult struct {
	Filters map[string]any
	Fields  []string
}

// Filters validates and canonicalizes a raw filter map for resource,
// rejecting unknown keys and coercing values per their schema.
func Filters(resource job.Resource, raw map[string]any) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	schema, ok := filterSchemas[resource]
	if !ok {
		return nil, apierr.New(apierr.UnsupportedResource, string(resource))
	}

	out := make(map[string]any, len(raw))
	for rawKey, rawVal := range raw {
		key := canonicalizeKey(rawKey)
		fs, known := schema[key]
		if !known {
			return nil, apierr.New(apierr.WrongFormat, "unrecognized filter key").WithField(rawKey)
		}
		coerced, err := coerce(key, fs.kind, rawVal)
		if err != nil {
			return nil, err
		}
		out[key] = coerced
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// Fields validates and canonicalizes a field-projection list, accepting
// either a comma-separated string or a pre-parsed list.
func Fields(resource job.Resource, raw any) ([]string, error) {
	allowed, ok := exportFields[resource]
	if !ok {
		return nil, apierr.New(apierr.UnsupportedResource, string(resource))
	}

	var names []string
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		for _, part := range strings.Split(v, ",") {
			names = append(names, part)
		}
	case []string:
		names = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, apierr.New(apierr.WrongType, "field list entries must be strings")
			}
			names = append(names, s)
		}
	default:
		return nil, apierr.New(apierr.WrongType, "unsupported field list shape")
	}

	if len(names) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		key := canonicalizeKey(n)
		if !allowed[key] {
			return nil, apierr.New(apierr.WrongFormat, "unrecognized field").WithField(n)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func coerce(field string, kind fieldKind, val any) (any, error) {
	switch kind {
	case kindString:
		s, ok := val.(string)
		if !ok {
			return nil, apierr.New(apierr.WrongType, "expected a string").WithField(field)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, apierr.New(apierr.MissingRequiredField, "value must not be empty").WithField(field)
		}
		return s, nil

	case kindBool:
		switch v := val.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v)))
			if err != nil {
				return nil, apierr.New(apierr.WrongFormat, "expected a boolean").WithField(field)
			}
			return b, nil
		default:
			return nil, apierr.New(apierr.WrongType, "expected a boolean").WithField(field)
		}

	case kindInt:
		n, err := coerceInt(val)
		if err != nil {
			return nil, apierr.Wrap(apierr.WrongFormat, err, "expected a positive integer").WithField(field)
		}
		if n <= 0 {
			return nil, apierr.New(apierr.WrongFormat, "expected a positive integer").WithField(field)
		}
		return n, nil

	case kindDate:
		return coerceDate(field, val)
	}
	return nil, apierr.New(apierr.InternalError, "unreachable field kind")
}

func coerceInt(val any) (int64, error) {
	switch v := val.(type) {
	case float64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", val)
	}
}

// coerceDate accepts either an ISO string, or an object subset of
// {gt, gte, lt, lte} with at least one bound, each ISO.
func coerceDate(field string, val any) (any, error) {
	switch v := val.(type) {
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, apierr.Wrap(apierr.WrongFormat, err, "expected an ISO 8601 date-time").WithField(field)
		}
		return t, nil

	case map[string]any:
		bound := DateBound{}
		found := false
		for k, raw := range v {
			s, ok := raw.(string)
			if !ok {
				return nil, apierr.New(apierr.WrongType, "date bound must be a string").WithField(field)
			}
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, apierr.Wrap(apierr.WrongFormat, err, "expected an ISO 8601 date-time").WithField(field)
			}
			found = true
			switch k {
			case "gt":
				bound.GT = &t
			case "gte":
				bound.GTE = &t
			case "lt":
				bound.LT = &t
			case "lte":
				bound.LTE = &t
			default:
				return nil, apierr.New(apierr.WrongFormat, "unrecognized date bound key").WithField(field)
			}
		}
		if !found {
			return nil, apierr.New(apierr.MissingRequiredField, "date range requires at least one bound").WithField(field)
		}
		return bound, nil

	default:
		return nil, apierr.New(apierr.WrongType, "expected an ISO date-time or a bound object").WithField(field)
	}
}
