package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/soudan-ai/soudan/internal/model"
)

const userColumns = `id, username, email, password_hash, role, is_active, created_at, updated_at`

// CreateUser inserts a new user. Returns ErrDuplicate when the username or
// email is already taken.
func (db *DB) CreateUser(ctx context.Context, user model.User) (model.User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, password_hash, role, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Username, user.Email, user.PasswordHash,
		string(user.Role), user.IsActive, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, ErrDuplicate
		}
		return model.User{}, fmt.Errorf("storage: create user: %w", err)
	}
	return user, nil
}

// GetUserByID returns a user by primary key.
func (db *DB) GetUserByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	return db.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetUserByUsername returns a user by exact username match.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	return db.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

// GetUsersByUsernames returns the users whose usernames appear in the list.
// Unknown usernames are silently absent from the result.
func (db *DB) GetUsersByUsernames(ctx context.Context, usernames []string) ([]model.User, error) {
	if len(usernames) == 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ANY($1)`, usernames)
	if err != nil {
		return nil, fmt.Errorf("storage: get users by usernames: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpgradeGuests promotes every guest account to the user role and returns
// the number of accounts changed.
func (db *DB) UpgradeGuests(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE users SET role = $1, updated_at = now() WHERE role = $2`,
		string(model.RoleUser), string(model.RoleGuest),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: upgrade guests: %w", err)
	}
	return tag.RowsAffected(), nil
}

// EnsureAdmin creates the admin account if no user with that username exists.
// Used at startup for bootstrap; an existing account is left untouched.
func (db *DB) EnsureAdmin(ctx context.Context, user model.User) error {
	_, err := db.CreateUser(ctx, user)
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}

func (db *DB) getUser(ctx context.Context, query string, arg any) (model.User, error) {
	row := db.pool.QueryRow(ctx, query, arg)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("storage: get user: %w", err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, err
	}
	u.Role = model.UserRole(role)
	return u, nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
