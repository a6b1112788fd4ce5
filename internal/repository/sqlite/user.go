package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/msomdec/daily-report/internal/domain"
)

// UserRepository implements domain.UserDirectory using SQLite.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new SQLite-backed UserRepository.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db.SqlDB}
}

const userColumns = `id, email, password_hash, reset_token, created_at, updated_at`

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("query user by email: %w", err)
	}
	return user, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("query user by id: %w", err)
	}
	return user, nil
}

// Save inserts a new user (ID 0) or updates the credentials of an existing one.
func (r *UserRepository) Save(ctx context.Context, user *domain.User) error {
	if user.ID == 0 {
		return r.insert(ctx, user)
	}
	return r.update(ctx, user)
}

func (r *UserRepository) insert(ctx context.Context, user *domain.User) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, reset_token, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		user.Email, user.PasswordHash, nullString(user.ResetToken), now, now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return domain.ErrDuplicateIdentity
		}
		return fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (r *UserRepository) update(ctx context.Context, user *domain.User) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, reset_token = ?, updated_at = ? WHERE id = ?`,
		user.PasswordHash, nullString(user.ResetToken), now, user.ID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if err := expectRow(result, domain.ErrNotFound); err != nil {
		return err
	}

	user.UpdatedAt = now
	return nil
}

func (r *UserRepository) SetResetToken(ctx context.Context, id int64, token *string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET reset_token = ?, updated_at = ? WHERE id = ?`,
		nullString(token), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return expectRow(result, domain.ErrNotFound)
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, hash string, expectedToken *string) error {
	now := time.Now().UTC()
	var (
		result sql.Result
		err    error
	)
	if expectedToken == nil {
		result, err = r.db.ExecContext(ctx,
			`UPDATE users SET password_hash = ?, reset_token = NULL, updated_at = ? WHERE id = ?`,
			hash, now, id,
		)
	} else {
		result, err = r.db.ExecContext(ctx,
			`UPDATE users SET password_hash = ?, reset_token = NULL, updated_at = ?
			 WHERE id = ? AND reset_token = ?`,
			hash, now, id, *expectedToken,
		)
	}
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if expectedToken != nil {
		return expectRow(result, domain.ErrTokenInvalid)
	}
	return expectRow(result, domain.ErrNotFound)
}

// expectRow returns missing when the statement touched no rows.
func expectRow(result sql.Result, missing error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return missing
	}
	return nil
}

func scanUser(row *sql.Row) (*domain.User, error) {
	user := &domain.User{}
	var resetToken sql.NullString
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &resetToken, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if resetToken.Valid {
		user.ResetToken = &resetToken.String
	}
	return user, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// isUniqueConstraintError checks if the error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
