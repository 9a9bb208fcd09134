package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jjudge-oj/authserver/types"
	"github.com/lib/pq"
)

const userColumns = `first_name, last_name, email_id, password, roles, permissions, social_login_ids,
		created_by, created_on, last_updated_by, last_updated_on`

// UserRepository handles persistence for app_user rows.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Exists(ctx context.Context, email string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM app_user WHERE email_id = $1)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("check user %s: %w", email, err)
	}
	return exists, nil
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM app_user`
	var count int
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM app_user
		WHERE email_id = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, fmt.Errorf("get user %s: %w", email, err)
	}
	return user, nil
}

// List returns every user ordered by email.
func (r *UserRepository) List(ctx context.Context) ([]types.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM app_user
		ORDER BY email_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Create inserts user. PasswordHash must already be set. A unique violation
// on email_id is reported as ErrDuplicate.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	const query = `
		INSERT INTO app_user (first_name, last_name, email_id, password, roles, permissions,
			social_login_ids, created_by, created_on, last_updated_by, last_updated_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), $8, NOW())
		RETURNING id, created_on, last_updated_on`
	if user.CreatedBy == "" {
		user.CreatedBy = types.ActorSystem
	}
	user.LastUpdatedBy = user.CreatedBy

	var social sql.NullString
	if user.SocialLoginIDs != nil {
		social = sql.NullString{String: *user.SocialLoginIDs, Valid: true}
	}

	err := r.db.QueryRowContext(
		ctx,
		query,
		user.FirstName,
		user.LastName,
		user.Email,
		user.PasswordHash,
		JoinSet(user.Roles),
		JoinSet(user.Permissions),
		social,
		user.CreatedBy,
	).Scan(&user.ID, &user.CreatedOn, &user.LastUpdatedOn)
	if err != nil {
		return types.User{}, fmt.Errorf("insert user %s: %w", user.Email, mapWriteError(err))
	}
	user.Roles = NormalizeSet(user.Roles)
	user.Permissions = NormalizeSet(user.Permissions)
	return user, nil
}

// UpdateRoles replaces the stored role set.
func (r *UserRepository) UpdateRoles(ctx context.Context, email string, roles []string, actor string) error {
	const query = `
		UPDATE app_user
		SET roles = $1,
			last_updated_by = $2,
			last_updated_on = NOW()
		WHERE email_id = $3`
	return r.exec(ctx, "update roles", email, query, JoinSet(roles), actor, email)
}

// UpdatePermissions replaces the stored permission set.
func (r *UserRepository) UpdatePermissions(ctx context.Context, email string, permissions []string, actor string) error {
	const query = `
		UPDATE app_user
		SET permissions = $1,
			last_updated_by = $2,
			last_updated_on = NOW()
		WHERE email_id = $3`
	return r.exec(ctx, "update permissions", email, query, JoinSet(permissions), actor, email)
}

func (r *UserRepository) UpdatePassword(ctx context.Context, email, passwordHash, actor string) error {
	const query = `
		UPDATE app_user
		SET password = $1,
			last_updated_by = $2,
			last_updated_on = NOW()
		WHERE email_id = $3`
	return r.exec(ctx, "update password", email, query, passwordHash, actor, email)
}

func (r *UserRepository) exec(ctx context.Context, op, email, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, email, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, email, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var (
		user        types.User
		roles       string
		permissions string
		social      sql.NullString
	)
	err := row.Scan(
		&user.FirstName,
		&user.LastName,
		&user.Email,
		&user.PasswordHash,
		&roles,
		&permissions,
		&social,
		&user.CreatedBy,
		&user.CreatedOn,
		&user.LastUpdatedBy,
		&user.LastUpdatedOn,
	)
	if err != nil {
		return types.User{}, err
	}
	user.Roles = SplitSet(roles)
	user.Permissions = SplitSet(permissions)
	if social.Valid && social.String != "" {
		user.SocialLoginIDs = &social.String
	}
	return user, nil
}

func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation {
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	}
	return err
}
