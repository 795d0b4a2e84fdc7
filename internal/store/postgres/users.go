package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned by lookup helpers when no row matches.
var ErrNotFound = errors.New("not found")

// User is the row shape of the users table. ID is the ascending bigint
// identity the export cursor paginates over (see schema.sql).
type User struct {
	ID           int64
	Email        string
	Username     string
	Name         string
	Role         string
	Active       bool
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserRepo executes user upserts and existence/uniqueness lookups against a
// Querier (pool or transaction).
type UserRepo struct{}

func (UserRepo) ExistsByID(ctx context.Context, q Querier, id int64) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// FindIDByEmail returns the id owning email (case-insensitive), if any.
func (UserRepo) FindIDByEmail(ctx context.Context, q Querier, email string) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `SELECT id FROM users WHERE lower(email) = lower($1)`, email).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

func (UserRepo) UsernameExists(ctx context.Context, q Querier, username string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	return exists, err
}

// Upsert inserts or updates a user row at an already-known id (either
// supplied by the incoming record or resolved by a prior email lookup).
func (UserRepo) Upsert(ctx context.Context, q Querier, u *User) error {
	const query = `
		INSERT INTO users (id, email, username, name, role, active, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			username = EXCLUDED.username,
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`
	_, err := q.Exec(ctx, query, u.ID, u.Email, u.Username, u.Name, u.Role, u.Active, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	return err
}

// Insert creates a new user row, letting the identity column assign ID.
func (UserRepo) Insert(ctx context.Context, q Querier, u *User) (int64, error) {
	const query = `
		INSERT INTO users (email, username, name, role, active, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	var id int64
	err := q.QueryRow(ctx, query, u.Email, u.Username, u.Name, u.Role, u.Active, u.PasswordHash, u.CreatedAt, u.UpdatedAt).Scan(&id)
	return id, err
}
