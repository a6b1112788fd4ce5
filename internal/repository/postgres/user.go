package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/msomdec/daily-report/internal/domain"
)

// Querier is the subset of *pgxpool.Pool used by UserRepository.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserRepository implements domain.UserDirectory using PostgreSQL.
type UserRepository struct {
	db Querier
}

func NewUserRepository(db Querier) *UserRepository {
	return &UserRepository{db: db}
}

const selectUser = `SELECT id, email, password_hash, reset_token, created_at, updated_at FROM users`

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, selectUser+` WHERE email = $1`, email))
	if err != nil {
		return nil, fmt.Errorf("query user by email: %w", err)
	}
	return user, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, selectUser+` WHERE id = $1`, id))
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
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, reset_token)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		user.Email, user.PasswordHash, user.ResetToken,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return domain.ErrDuplicateIdentity
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) update(ctx context.Context, user *domain.User) error {
	now := time.Now().UTC()
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET password_hash = $1, reset_token = $2, updated_at = $3 WHERE id = $4`,
		user.PasswordHash, user.ResetToken, now, user.ID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	user.UpdatedAt = now
	return nil
}

func (r *UserRepository) SetResetToken(ctx context.Context, id int64, token *string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET reset_token = $1, updated_at = $2 WHERE id = $3`,
		token, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, hash string, expectedToken *string) error {
	now := time.Now().UTC()
	if expectedToken == nil {
		tag, err := r.db.Exec(ctx,
			`UPDATE users SET password_hash = $1, reset_token = NULL, updated_at = $2 WHERE id = $3`,
			hash, now, id,
		)
		if err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return nil
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE users SET password_hash = $1, reset_token = NULL, updated_at = $2
		 WHERE id = $3 AND reset_token = $4`,
		hash, now, id, *expectedToken,
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTokenInvalid
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	user := &domain.User{}
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.ResetToken, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return user, nil
}
