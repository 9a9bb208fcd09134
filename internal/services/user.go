package services

import (
	"context"
	"errors"

	"github.com/jjudge-oj/authserver/internal/apperr"
	"github.com/jjudge-oj/authserver/internal/store"
	"github.com/jjudge-oj/authserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Exists(ctx context.Context, email string) (bool, error)
	Count(ctx context.Context) (int, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	List(ctx context.Context) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateRoles(ctx context.Context, email string, roles []string, actor string) error
	UpdatePermissions(ctx context.Context, email string, permissions []string, actor string) error
	UpdatePassword(ctx context.Context, email, passwordHash, actor string) error
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, candidate, hash string) bool
	DummyHash() string
}

// CredentialStore owns user records: email uniqueness, password hashing and
// the role/permission sets. Repository failures leave it as apperr values.
type CredentialStore struct {
	repo               UserRepository
	hasher             PasswordHasher
	allowedRoles       []string
	allowedPermissions []string
}

// NewCredentialStore builds a store. allowedRoles and allowedPermissions are
// comma separated lists as found in configuration.
func NewCredentialStore(repo UserRepository, hasher PasswordHasher, allowedRoles, allowedPermissions string) *CredentialStore {
	return &CredentialStore{
		repo:               repo,
		hasher:             hasher,
		allowedRoles:       store.SplitSet(allowedRoles),
		allowedPermissions: store.SplitSet(allowedPermissions),
	}
}

// UserExists reports whether an account with email is stored.
func (c *CredentialStore) UserExists(ctx context.Context, email string) (bool, error) {
	exists, err := c.repo.Exists(ctx, email)
	if err != nil {
		return false, apperr.Validation("failed to check user", err).WithOp("user exists", email)
	}
	return exists, nil
}

// CountUsers returns the number of stored accounts.
func (c *CredentialStore) CountUsers(ctx context.Context) (int, error) {
	count, err := c.repo.Count(ctx)
	if err != nil {
		return 0, apperr.Validation("failed to count users", err).WithOp("count users", "")
	}
	return count, nil
}

// CreateUser hashes user.Password and inserts the row. A unique violation
// from storage comes back as a Conflict.
func (c *CredentialStore) CreateUser(ctx context.Context, user types.User) (types.User, error) {
	const op = "create user"

	hash, err := c.hasher.Hash(ctx, user.Password)
	if err != nil {
		return types.User{}, apperr.Validation("failed to hash password", err).WithOp(op, user.Email)
	}
	user.Password = ""
	user.PasswordHash = hash

	created, err := c.repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			conflict := apperr.Conflictf("user with email '%s' already exists", user.Email)
			conflict.Cause = err
			return types.User{}, conflict.WithOp(op, user.Email)
		}
		return types.User{}, apperr.Validation("failed to create user", err).WithOp(op, user.Email)
	}
	return created, nil
}

// FetchUser returns the full record, password hash included.
func (c *CredentialStore) FetchUser(ctx context.Context, email string) (types.User, error) {
	user, err := c.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, userNotFound(email)
		}
		return types.User{}, apperr.Validation("failed to fetch user", err).WithOp("fetch user", email)
	}
	return user, nil
}

// ListUsers returns every user ordered by email.
func (c *CredentialStore) ListUsers(ctx context.Context) ([]types.User, error) {
	users, err := c.repo.List(ctx)
	if err != nil {
		return nil, apperr.Validation("failed to list users", err).WithOp("list users", "")
	}
	return users, nil
}

// AssignRoles replaces the role set of email.
func (c *CredentialStore) AssignRoles(ctx context.Context, email string, roles []string, actor string) error {
	return c.update(ctx, "assign roles", email, func() error {
		return c.repo.UpdateRoles(ctx, email, roles, actor)
	})
}

// AssignPermissions replaces the permission set of email.
func (c *CredentialStore) AssignPermissions(ctx context.Context, email string, permissions []string, actor string) error {
	return c.update(ctx, "assign permissions", email, func() error {
		return c.repo.UpdatePermissions(ctx, email, permissions, actor)
	})
}

// UpdatePassword re-hashes newPassword and stores it.
func (c *CredentialStore) UpdatePassword(ctx context.Context, email, newPassword string) error {
	const op = "update password"
	return c.update(ctx, op, email, func() error {
		hash, err := c.hasher.Hash(ctx, newPassword)
		if err != nil {
			return apperr.Validation("failed to hash password", err).WithOp(op, email)
		}
		return c.repo.UpdatePassword(ctx, email, hash, types.ActorSystem)
	})
}

// VerifyPassword compares candidate against storedHash using bcrypt.
func (c *CredentialStore) VerifyPassword(ctx context.Context, candidate, storedHash string) bool {
	return c.hasher.Verify(ctx, candidate, storedHash)
}

// VerifyUnknown spends the same effort as VerifyPassword for an account that
// does not exist. It always fails.
func (c *CredentialStore) VerifyUnknown(ctx context.Context, candidate string) bool {
	_ = c.hasher.Verify(ctx, candidate, c.hasher.DummyHash())
	return false
}

// AllowedRoles returns a copy of the configured role allow-list.
func (c *CredentialStore) AllowedRoles() []string {
	return append([]string{}, c.allowedRoles...)
}

// AllowedPermissions returns a copy of the configured permission allow-list.
func (c *CredentialStore) AllowedPermissions() []string {
	return append([]string{}, c.allowedPermissions...)
}

func (c *CredentialStore) update(ctx context.Context, op, email string, write func() error) error {
	exists, err := c.UserExists(ctx, email)
	if err != nil {
		return err
	}
	if !exists {
		return userNotFound(email)
	}

	if err := write(); err != nil {
		var appErr *apperr.Error
		switch {
		case errors.As(err, &appErr):
			return err
		case errors.Is(err, store.ErrNotFound):
			return userNotFound(email)
		default:
			return apperr.Validation("failed to "+op, err).WithOp(op, email)
		}
	}
	return nil
}

func userNotFound(email string) error {
	return apperr.NotFoundf("user with email '%s' not found", email)
}
