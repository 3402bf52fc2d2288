package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/core/port"
	"github.com/abdulhad-eng/home-fair-share/internal/repository"
)

var userColumns = []string{
	"id",
	"email",
	"phone",
	"password_hash",
	"password_algo",
	"display_name",
	"photo_url",
	"email_verified",
	"phone_verified",
	"created_at",
	"updated_at",
	"last_sign_in_at",
}

// UserRepository implements port.UserRepository using PostgreSQL.
type UserRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserRepository accepts a pool, a transaction or a mock.
func NewUserRepository(exec pgExecutor) *UserRepository {
	return &UserRepository{exec: exec, builder: newBuilder()}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *UserRepository) WithTx(tx pgx.Tx) *UserRepository {
	if tx == nil {
		return r
	}
	return &UserRepository{exec: tx, builder: r.builder}
}

// Create inserts a new user row. Email and phone are stored lower-cased and trimmed respectively.
func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	stmt, args, err := r.builder.Insert(usersTable).
		Columns(userColumns...).
		Values(
			user.ID,
			nullableLower(user.Email),
			nullableTrim(user.Phone),
			user.PasswordHash,
			user.PasswordAlgo,
			user.DisplayName,
			user.PhotoURL,
			user.EmailVerified,
			user.PhoneVerified,
			user.CreatedAt,
			user.UpdatedAt,
			user.LastSignInAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert user sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert user: %w", repository.ErrDuplicate)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"email": strings.ToLower(strings.TrimSpace(email))})
}

func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"phone": strings.TrimSpace(phone)})
}

func (r *UserRepository) getOne(ctx context.Context, where squirrel.Eq) (*domain.User, error) {
	stmt, args, err := r.builder.Select(userColumns...).
		From(usersTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	var user domain.User
	err = r.exec.QueryRow(ctx, stmt, args...).Scan(
		&user.ID,
		&user.Email,
		&user.Phone,
		&user.PasswordHash,
		&user.PasswordAlgo,
		&user.DisplayName,
		&user.PhotoURL,
		&user.EmailVerified,
		&user.PhoneVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastSignInAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &user, nil
}

// UpdateProfile writes only the fields present in update.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, update domain.ProfileUpdate, at time.Time) error {
	query := r.builder.Update(usersTable).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id})
	if update.DisplayName != nil {
		query = query.Set("display_name", *update.DisplayName)
	}
	if update.PhotoURL != nil {
		query = query.Set("photo_url", *update.PhotoURL)
	}
	return r.execUpdate(ctx, query, "update profile")
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id string, passwordHash, passwordAlgo string, at time.Time) error {
	query := r.builder.Update(usersTable).
		Set("password_hash", passwordHash).
		Set("password_algo", passwordAlgo).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id})
	return r.execUpdate(ctx, query, "update password")
}

func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	query := r.builder.Update(usersTable).
		Set("email_verified", true).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id})
	return r.execUpdate(ctx, query, "mark email verified")
}

func (r *UserRepository) TouchSignIn(ctx context.Context, id string, at time.Time) error {
	query := r.builder.Update(usersTable).
		Set("last_sign_in_at", at).
		Where(squirrel.Eq{"id": id})
	return r.execUpdate(ctx, query, "touch sign in")
}

func (r *UserRepository) execUpdate(ctx context.Context, query squirrel.UpdateBuilder, op string) error {
	stmt, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build %s sql: %w", op, err)
	}
	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func nullableLower(v *string) any {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	return strings.ToLower(strings.TrimSpace(*v))
}

func nullableTrim(v *string) any {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	return strings.TrimSpace(*v)
}

var _ port.UserRepository = (*UserRepository)(nil)
