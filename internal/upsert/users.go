package upsert

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/artemis/databridge/internal/apierr"
	"github.com/artemis/databridge/internal/store/postgres"
)

var usernameNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// BuildUserOp resolves a normalized user record to an upsert Op: upsert by
// id if present, else by email; fail MISSING_REQUIRED_FIELD(id) when
// neither is usable. New users get a derived username and a random-hashed
// placeholder credential.
func BuildUserOp(ctx context.Context, q postgres.Querier, recordIndex int, normalized map[string]any) (Op, *apierr.Error) {
	email, _ := normalized["email"].(string)
	idStr, hasID := normalized["id"].(string)

	var resolvedID int64
	var isCreate bool

	if hasID && idStr != "" {
		n, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return Op{}, apierr.New(apierr.WrongFormat, "id must be numeric").WithField("id")
		}
		resolvedID = n
	} else if email != "" {
		found, err := postgres.UserRepo{}.FindIDByEmail(ctx, q, email)
		switch {
		case err == nil:
			resolvedID = found
		case err == postgres.ErrNotFound:
			isCreate = true
		default:
			return Op{}, apierr.Wrap(apierr.DatabaseError, err, "email lookup failed").WithField("email")
		}
	} else {
		return Op{}, apierr.New(apierr.MissingRequiredField, "user record requires id or email").WithField("id")
	}

	name, _ := normalized["name"].(string)
	role, _ := normalized["role"].(string)
	if role == "" {
		role = "reader"
	}
	active := true
	if a, ok := normalized["active"].(bool); ok {
		active = a
	}
	updatedAt := parseOrNow(normalized["updated_at"])

	run := func(ctx context.Context, q postgres.Querier) error {
		if isCreate {
			username, err := deriveUsername(ctx, q, email, name)
			if err != nil {
				return err
			}
			passwordHash, err := randomPlaceholderHash()
			if err != nil {
				return err
			}
			_, err = postgres.UserRepo{}.Insert(ctx, q, &postgres.User{
				Email:        email,
				Username:     username,
				Name:         name,
				Role:         role,
				Active:       active,
				PasswordHash: passwordHash,
				CreatedAt:    time.Now(),
				UpdatedAt:    updatedAt,
			})
			return err
		}

		u := &postgres.User{
			ID:        resolvedID,
			Email:     email,
			Name:      name,
			Role:      role,
			Active:    active,
			UpdatedAt: updatedAt,
		}
		u.Username = usernameFromEmail(email)
		return postgres.UserRepo{}.Upsert(ctx, q, u)
	}

	return Op{RecordIndex: recordIndex, RecordID: email, Run: run}, nil
}

func parseOrNow(v any) time.Time {
	if s, ok := v.(string); ok && s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	return time.Now()
}

func usernameFromEmail(email string) string {
	local := email
	if i := strings.IndexByte(email, '@'); i >= 0 {
		local = email[:i]
	}
	return slugify(local)
}

func slugify(s string) string {
	s = strings.ToLower(s)
	s = usernameNonAlnum.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// deriveUsername derives a username deterministically from the email
// local-part (falling back to a kebab-cased name), guarded against
// collisions by appending a random hex suffix only when the derived
// handle is already taken.
// A short random suffix, not a timestamp, so concurrent imports deriving
// the same base username don't collide with each other.
func deriveUsername(ctx context.Context, q postgres.Querier, email, name string) (string, error) {
	base := usernameFromEmail(email)
	if base == "" {
		base = slugify(name)
	}
	if base == "" {
		base = "user"
	}

	exists, err := postgres.UserRepo{}.UsernameExists(ctx, q, base)
	if err != nil {
		return "", err
	}
	if !exists {
		return base, nil
	}

	suffix, err := randomHex(4)
	if err != nil {
		return "", err
	}
	return base + "-" + suffix, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// randomPlaceholderHash generates a bcrypt hash of a random value for a
// newly-created user's credential; the account has no usable password
// until reset, since imported users never supply one.
func randomPlaceholderHash() (string, error) {
	raw, err := randomHex(16)
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
