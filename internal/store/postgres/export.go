package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/artemis/databridge/internal/job"
	"github.com/artemis/databridge/internal/validate"
)

// ExportRepo reads entity rows in ascending-id cursor pages for the
// streaming export pipeline.
type ExportRepo struct {
	pool *pgxpool.Pool
}

func NewExportRepo(pool *pgxpool.Pool) *ExportRepo {
	return &ExportRepo{pool: pool}
}

// exportTable and exportColumns name the table and the ordered (db column,
// exposed field name) pairs read for each resource. "id" always leads so
// the cursor can be read positionally regardless of projection.
var exportTable = map[job.Resource]string{
	job.ResourceUsers:    "users",
	job.ResourceArticles: "articles",
	job.ResourceComments: "comments",
}

type exportColumn struct {
	db    string
	field string
}

var exportColumns = map[job.Resource][]exportColumn{
	job.ResourceUsers: {
		{"id", "id"}, {"email", "email"}, {"name", "name"}, {"role", "role"},
		{"active", "active"}, {"created_at", "created_at"}, {"updated_at", "updated_at"},
	},
	job.ResourceArticles: {
		{"id", "id"}, {"slug", "slug"}, {"title", "title"}, {"body", "body"},
		{"author_id", "author_id"}, {"tag_list", "tags"}, {"published_at", "published_at"},
		{"status", "status"},
	},
	job.ResourceComments: {
		{"id", "id"}, {"article_id", "article_id"}, {"user_id", "user_id"},
		{"body", "body"}, {"created_at", "created_at"},
	},
}

// Page reads up to limit rows with id > afterID, in ascending id order,
// applying the canonicalized filter map produced by validate.Filters.
// Returns the rows as field-name-keyed maps (ids as int64, dates as
// time.Time) and the highest id observed.
func (r *ExportRepo) Page(ctx context.Context, resource job.Resource, afterID int64, limit int, filters map[string]any) ([]map[string]any, int64, error) {
	table, ok := exportTable[resource]
	if !ok {
		return nil, 0, fmt.Errorf("unsupported resource %q", resource)
	}
	cols := exportColumns[resource]

	var sb strings.Builder
	sb.WriteString("SELECT ")
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(c.db)
	}
	fmt.Fprintf(&sb, " FROM %s WHERE id > $1", table)

	args := []any{afterID}
	for key, val := range filters {
		appendFilterClause(&sb, key, val, &args)
	}
	sb.WriteString(" ORDER BY id ASC LIMIT ")
	fmt.Fprintf(&sb, "$%d", len(args)+1)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []map[string]any
	var lastID int64
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, 0, err
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			rec[c.field] = vals[i]
		}
		id, _ := rec["id"].(int64)
		if id > lastID {
			lastID = id
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, lastID, nil
}

// appendFilterClause writes one parameterized WHERE fragment for a typed
// filter value, appending to args and numbering placeholders from its
// current length. A DateBound contributes one placeholder per present
// bound; every other kind contributes exactly one equality placeholder.
func appendFilterClause(sb *strings.Builder, column string, val any, args *[]any) {
	if bound, ok := val.(validate.DateBound); ok {
		writeOp := func(op string, t *time.Time) {
			if t == nil {
				return
			}
			*args = append(*args, *t)
			fmt.Fprintf(sb, " AND %s %s $%d", column, op, len(*args))
		}
		writeOp(">", bound.GT)
		writeOp(">=", bound.GTE)
		writeOp("<", bound.LT)
		writeOp("<=", bound.LTE)
		return
	}
	*args = append(*args, val)
	fmt.Fprintf(sb, " AND %s = $%d", column, len(*args))
}
