// Package validate implements the record validator and the
// filter/projection validator shared by the import and export pipelines.
//
// Record shape and coercion checks are expressed as go-playground/validator
// struct tags, composed with hand-written cross-field and uniqueness rules
// that the tag language cannot express (batch-local dedup, store-backed
// existence checks).
// Decoding the parser's map[string]any records into the typed input
// structs the validator runs against uses mitchellh/mapstructure.
package validate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/artemis/databridge/internal/apierr"
	"github.com/artemis/databridge/internal/job"
	"github.com/artemis/databridge/internal/refcache"
)

var (
	validate = newValidator()

	slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("kebabslug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("iso8601", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		_, err := time.Parse(time.RFC3339, s)
		return err == nil
	})
	return v
}

// Result is the validator's outcome for one record.
type Result struct {
	Valid      bool
	Errors     []*apierr.Error
	Normalized map[string]any
	Skip       bool
}

func fail(errs ...*apierr.Error) Result {
	return Result{Valid: false, Errors: errs}
}

// Lookups is the store-backed existence surface the validator memoizes
// through a refcache.Cache. Implemented by thin adapters over
// internal/store/postgres's repositories.
type Lookups interface {
	UserIDByEmail(ctx context.Context, email string) (id string, found bool, err error)
	ArticleIDBySlug(ctx context.Context, slug string) (id string, found bool, err error)
	UserExists(ctx context.Context, id string) (bool, error)
	ArticleExists(ctx context.Context, id string) (bool, error)
}

// ---- users ----

type userInput struct {
	ID        string `mapstructure:"id"`
	Email     string `mapstructure:"email" validate:"required_without=ID,omitempty,email"`
	Name      string `mapstructure:"name" validate:"omitempty,max=200"`
	Role      string `mapstructure:"role" validate:"omitempty,oneof=admin moderator user"`
	Active    *bool  `mapstructure:"active"`
	CreatedAt string `mapstructure:"created_at" validate:"omitempty,iso8601"`
	UpdatedAt string `mapstructure:"updated_at" validate:"omitempty,iso8601"`
}

// ValidateUser validates and normalizes a raw record for the users resource.
func ValidateUser(ctx context.Context, raw map[string]any, recordIndex int, cache *refcache.Cache, lookups Lookups) Result {
	var in userInput
	if err := decode(raw, &in); err != nil {
		return fail(apierr.New(apierr.InvalidRecordStructure, err.Error()))
	}
	if err := validate.Struct(in); err != nil {
		return fail(translateValidationErrors(err)...)
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	var errs []*apierr.Error

	if email != "" {
		if firstIdx, ok := cache.ClaimBatchUnique("user_email", email, recordIndex); !ok {
			errs = append(errs, apierr.New(apierr.DuplicateValue, fmt.Sprintf("email already used by record %d in this batch", firstIdx)).WithField("email"))
		} else {
			found, err := cache.ExistenceLookup("user_email_owner", email, func() (bool, error) {
				_, f, lookupErr := lookups.UserIDByEmail(ctx, email)
				return f, lookupErr
			})
			if err != nil {
				errs = append(errs, apierr.Wrap(apierr.DatabaseError, err, "email uniqueness lookup failed").WithField("email"))
			} else if found {
				existingID, _, _ := lookups.UserIDByEmail(ctx, email)
				if existingID != in.ID {
					errs = append(errs, apierr.New(apierr.DuplicateValue, "email already exists").WithField("email"))
				}
			}
		}
	}

	if len(errs) > 0 {
		return fail(errs...)
	}

	normalized := map[string]any{
		"email":      email,
		"name":       strings.TrimSpace(in.Name),
		"role":       in.Role,
		"created_at": in.CreatedAt,
		"updated_at": in.UpdatedAt,
	}
	if in.ID != "" {
		normalized["id"] = in.ID
	}
	if in.Active != nil {
		normalized["active"] = *in.Active
	}
	return Result{Valid: true, Normalized: normalized}
}

// ---- articles ----

type articleInput struct {
	ID          string   `mapstructure:"id"`
	Slug        string   `mapstructure:"slug" validate:"required_without=ID,omitempty,kebabslug,max=200"`
	Title       string   `mapstructure:"title" validate:"omitempty,max=300"`
	Body        string   `mapstructure:"body"`
	AuthorID    string   `mapstructure:"author_id"`
	Tags        []string `mapstructure:"tags"`
	PublishedAt string   `mapstructure:"published_at" validate:"omitempty,iso8601"`
	Status      string   `mapstructure:"status" validate:"omitempty,oneof=draft published"`
}

// ValidateArticle validates and normalizes a raw record for the articles resource.
func ValidateArticle(ctx context.Context, raw map[string]any, recordIndex int, cache *refcache.Cache, lookups Lookups) Result {
	var in articleInput
	if err := decode(raw, &in); err != nil {
		return fail(apierr.New(apierr.InvalidRecordStructure, err.Error()))
	}
	if err := validate.Struct(in); err != nil {
		return fail(translateValidationErrors(err)...)
	}

	status := in.Status
	if status == "" {
		if in.PublishedAt != "" {
			status = "published"
		} else {
			status = "draft"
		}
	}
	if status == "draft" && in.PublishedAt != "" {
		return fail(apierr.New(apierr.WrongFormat, "draft articles cannot carry published_at").WithField("published_at"))
	}

	slug := strings.ToLower(strings.TrimSpace(in.Slug))
	var errs []*apierr.Error

	if slug != "" {
		if firstIdx, ok := cache.ClaimBatchUnique("article_slug", slug, recordIndex); !ok {
			errs = append(errs, apierr.New(apierr.DuplicateValue, fmt.Sprintf("slug already used by record %d in this batch", firstIdx)).WithField("slug"))
		} else {
			found, err := cache.ExistenceLookup("article_slug_owner", slug, func() (bool, error) {
				_, f, lookupErr := lookups.ArticleIDBySlug(ctx, slug)
				return f, lookupErr
			})
			if err != nil {
				errs = append(errs, apierr.Wrap(apierr.DatabaseError, err, "slug uniqueness lookup failed").WithField("slug"))
			} else if found {
				existingID, _, _ := lookups.ArticleIDBySlug(ctx, slug)
				if existingID != in.ID {
					errs = append(errs, apierr.New(apierr.DuplicateValue, "slug already exists").WithField("slug"))
				}
			}
		}
	}

	if in.AuthorID != "" {
		exists, err := cache.ExistenceLookup("user_id", in.AuthorID, func() (bool, error) {
			return lookups.UserExists(ctx, in.AuthorID)
		})
		if err != nil {
			errs = append(errs, apierr.Wrap(apierr.DatabaseError, err, "author reference lookup failed").WithField("author_id"))
		} else if !exists {
			errs = append(errs, apierr.New(apierr.InvalidReference, "referenced author does not exist").WithField("author_id"))
		}
	}

	if len(errs) > 0 {
		return fail(errs...)
	}

	description := deriveDescription(in.Title, in.Body)

	normalized := map[string]any{
		"slug":        slug,
		"title":       strings.TrimSpace(in.Title),
		"body":        in.Body,
		"description": description,
		"author_id":   in.AuthorID,
		"status":      status,
	}
	// tags is only set here when the raw record actually supplied a tags
	// key; its absence from normalized tells BuildArticleOp to leave an
	// existing tag_list untouched rather than clear it.
	if _, ok := raw["tags"]; ok {
		normalized["tags"] = normalizeTags(in.Tags)
	}
	if in.ID != "" {
		normalized["id"] = in.ID
	}
	if status == "published" {
		normalized["published_at"] = in.PublishedAt
	}
	return Result{Valid: true, Normalized: normalized}
}

// ---- comments ----

type commentInput struct {
	ID        string `mapstructure:"id" validate:"required"`
	ArticleID string `mapstructure:"article_id" validate:"required"`
	UserID    string `mapstructure:"user_id" validate:"required"`
	Body      string `mapstructure:"body" validate:"required"`
	CreatedAt string `mapstructure:"created_at" validate:"omitempty,iso8601"`
}

const maxCommentWords = 500

// ValidateComment validates and normalizes a raw record for the comments resource.
func ValidateComment(ctx context.Context, raw map[string]any, recordIndex int, cache *refcache.Cache, lookups Lookups) Result {
	var in commentInput
	if err := decode(raw, &in); err != nil {
		return fail(apierr.New(apierr.InvalidRecordStructure, err.Error()))
	}
	if err := validate.Struct(in); err != nil {
		return fail(translateValidationErrors(err)...)
	}
	if wordCount(in.Body) > maxCommentWords {
		return fail(apierr.Newf(apierr.TooLong, "comment body exceeds %d words", maxCommentWords).WithField("body"))
	}

	var errs []*apierr.Error
	if exists, err := cache.ExistenceLookup("article_id", in.ArticleID, func() (bool, error) {
		return lookups.ArticleExists(ctx, in.ArticleID)
	}); err != nil {
		errs = append(errs, apierr.Wrap(apierr.DatabaseError, err, "article reference lookup failed").WithField("article_id"))
	} else if !exists {
		errs = append(errs, apierr.New(apierr.InvalidReference, "referenced article does not exist").WithField("article_id"))
	}

	if exists, err := cache.ExistenceLookup("user_id", in.UserID, func() (bool, error) {
		return lookups.UserExists(ctx, in.UserID)
	}); err != nil {
		errs = append(errs, apierr.Wrap(apierr.DatabaseError, err, "user reference lookup failed").WithField("user_id"))
	} else if !exists {
		errs = append(errs, apierr.New(apierr.InvalidReference, "referenced user does not exist").WithField("user_id"))
	}

	if len(errs) > 0 {
		return fail(errs...)
	}

	return Result{Valid: true, Normalized: map[string]any{
		"id":         in.ID,
		"article_id": in.ArticleID,
		"user_id":    in.UserID,
		"body":       in.Body,
		"created_at": in.CreatedAt,
	}}
}

// Record runs the resource-appropriate validator.
func Record(ctx context.Context, resource job.Resource, raw map[string]any, recordIndex int, cache *refcache.Cache, lookups Lookups) Result {
	switch resource {
	case job.ResourceUsers:
		return ValidateUser(ctx, raw, recordIndex, cache, lookups)
	case job.ResourceArticles:
		return ValidateArticle(ctx, raw, recordIndex, cache, lookups)
	case job.ResourceComments:
		return ValidateComment(ctx, raw, recordIndex, cache, lookups)
	default:
		return fail(apierr.New(apierr.UnsupportedResource, string(resource)))
	}
}

func decode(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      false,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

func translateValidationErrors(err error) []*apierr.Error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []*apierr.Error{apierr.New(apierr.InvalidRecordStructure, err.Error())}
	}
	out := make([]*apierr.Error, 0, len(verrs))
	for _, fe := range verrs {
		field := toSnakeCase(fe.Field())
		switch fe.Tag() {
		case "required", "required_without":
			out = append(out, apierr.New(apierr.MissingRequiredField, "field is required").WithField(field))
		case "email", "kebabslug", "iso8601":
			out = append(out, apierr.New(apierr.WrongFormat, "field has an invalid format").WithField(field))
		case "oneof":
			out = append(out, apierr.New(apierr.BadEnumValue, fmt.Sprintf("must be one of: %s", fe.Param())).WithField(field))
		case "max":
			out = append(out, apierr.New(apierr.TooLong, fmt.Sprintf("exceeds maximum length of %s", fe.Param())).WithField(field))
		case "min":
			out = append(out, apierr.New(apierr.TooShort, fmt.Sprintf("below minimum length of %s", fe.Param())).WithField(field))
		default:
			out = append(out, apierr.New(apierr.WrongFormat, fe.Tag()).WithField(field))
		}
	}
	return out
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func deriveDescription(title, body string) string {
	source := strings.TrimSpace(title)
	if source == "" {
		source = strings.TrimSpace(body)
	} else if body != "" {
		source = source + " " + strings.TrimSpace(body)
	}
	runes := []rune(source)
	if len(runes) <= 160 {
		return source
	}
	return string(runes[:160])
}

func wordCount(s string) int {
	return len(strings.FieldsFunc(s, func(r rune) bool { return unicode.IsSpace(r) }))
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
