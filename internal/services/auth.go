package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jjudge-oj/authserver/internal/apperr"
	"github.com/jjudge-oj/authserver/internal/logging"
	"github.com/jjudge-oj/authserver/internal/store"
	"github.com/jjudge-oj/authserver/types"
)

const (
	msgUserRegistered         = "User registered successfully"
	msgUserLoggedOut          = "user logout successful"
	msgRolesAssigned          = "Roles assigned successfully"
	msgPermissionsAssigned    = "Permissions assigned successfully"
	msgPasswordChanged        = "Password changed successfully"
	msgInvalidCredentials     = "invalid credentials"
	msgInvalidToken           = "invalid or expired token"
	defaultEventPublishWindow = 5 * time.Second
)

// TokenService issues and validates access tokens.
type TokenService interface {
	Issue(subject, firstName string, roles, permissions []string) (string, error)
	IsValid(token string) bool
	Subject(token string) string
	FirstName(token string) string
	Roles(token string) []string
	Permissions(token string) []string
}

// AuthService coordinates the credential store and the token issuer. It is
// the only component that calls either of them.
type AuthService struct {
	credentials *CredentialStore
	tokens      TokenService
	events      EventPublisher
	logger      *slog.Logger
}

// NewAuthService wires an AuthService. A nil publisher drops events and a nil
// logger discards output.
func NewAuthService(credentials *CredentialStore, tokens TokenService, events EventPublisher, logger *slog.Logger) *AuthService {
	if events == nil {
		events = NopEventPublisher{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &AuthService{
		credentials: credentials,
		tokens:      tokens,
		events:      events,
		logger:      logger,
	}
}

// SignUp registers a new account. The very first account becomes an admin.
func (s *AuthService) SignUp(ctx context.Context, req types.SignUpRequest) (types.Acknowledgement, error) {
	const op = "sign up"

	req.Normalize()
	if err := req.Validate(); err != nil {
		return types.Acknowledgement{}, apperr.BadRequest(err.Error()).WithOp(op, req.Email)
	}

	exists, err := s.credentials.UserExists(ctx, req.Email)
	if err != nil {
		return types.Acknowledgement{}, err
	}
	if exists {
		return types.Acknowledgement{}, apperr.Conflictf("user with email '%s' already exists", req.Email).WithOp(op, req.Email)
	}

	// Read-then-act: concurrent first sign-ups may each see zero users.
	count, err := s.credentials.CountUsers(ctx)
	if err != nil {
		return types.Acknowledgement{}, err
	}
	role := types.RoleUser
	if count == 0 {
		role = types.RoleAdmin
	}

	created, err := s.credentials.CreateUser(ctx, types.User{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		Password:    req.Password,
		Roles:       []string{role},
		Permissions: []string{},
		CreatedBy:   types.ActorSystem,
	})
	if err != nil {
		return types.Acknowledgement{}, err
	}

	s.logger.InfoContext(ctx, "user registered", "email", created.Email, "role", role)
	s.publish(ctx, Event{
		Type:        EventUserRegistered,
		Email:       created.Email,
		Roles:       created.Roles,
		Permissions: created.Permissions,
		Actor:       types.ActorSystem,
	})

	return types.Acknowledgement{Message: msgUserRegistered, Status: types.StatusSuccess}, nil
}

// SignIn verifies the credentials and issues a token carrying the account's
// current roles and permissions. Unknown accounts and wrong passwords fail
// with the same error.
func (s *AuthService) SignIn(ctx context.Context, req types.SignInRequest) (types.AuthenticatedUser, error) {
	const op = "sign in"

	req.Normalize()
	if err := req.Validate(); err != nil {
		return types.AuthenticatedUser{}, apperr.Unauthorized(msgInvalidCredentials).WithOp(op, req.Email)
	}

	user, err := s.credentials.FetchUser(ctx, req.Email)
	if err != nil {
		if !apperr.IsNotFound(err) {
			return types.AuthenticatedUser{}, err
		}
		s.credentials.VerifyUnknown(ctx, req.Password)
		s.logger.InfoContext(ctx, "sign in rejected", "email", req.Email, "reason", "unknown account")
		return types.AuthenticatedUser{}, apperr.Unauthorized(msgInvalidCredentials).WithOp(op, req.Email)
	}

	if !s.credentials.VerifyPassword(ctx, req.Password, user.PasswordHash) {
		if err := ctx.Err(); err != nil {
			return types.AuthenticatedUser{}, apperr.Internal("sign in interrupted", err).WithOp(op, req.Email)
		}
		s.logger.InfoContext(ctx, "sign in rejected", "email", req.Email, "reason", "password mismatch")
		return types.AuthenticatedUser{}, apperr.Unauthorized(msgInvalidCredentials).WithOp(op, req.Email)
	}

	token, err := s.tokens.Issue(user.Email, user.FirstName, user.Roles, user.Permissions)
	if err != nil {
		return types.AuthenticatedUser{}, apperr.Internal("failed to issue token", err).WithOp(op, req.Email)
	}

	s.logger.InfoContext(ctx, "user signed in", "email", user.Email, "admin", user.HasRole(types.RoleAdmin))
	return types.AuthenticatedUser{
		FirstName:   user.FirstName,
		Email:       user.Email,
		Token:       token,
		Roles:       user.Roles,
		Permissions: user.Permissions,
	}, nil
}

// SignOut acknowledges the request. Tokens stay valid until they expire.
func (s *AuthService) SignOut(ctx context.Context, token string) types.Acknowledgement {
	if token != "" && s.tokens.IsValid(token) {
		s.logger.InfoContext(ctx, "user signed out", "email", s.tokens.Subject(token))
	} else {
		s.logger.DebugContext(ctx, "sign out without a valid token")
	}
	return types.Acknowledgement{Message: msgUserLoggedOut, Status: types.StatusSuccess}
}

// Permissions returns the claims of a valid token without touching storage.
func (s *AuthService) Permissions(ctx context.Context, token string) (types.AccessPermissions, error) {
	if !s.tokens.IsValid(token) {
		return types.AccessPermissions{}, apperr.Unauthorized(msgInvalidToken).WithOp("get permissions", "")
	}
	return types.AccessPermissions{
		FirstName:   s.tokens.FirstName(token),
		Email:       s.tokens.Subject(token),
		Roles:       s.tokens.Roles(token),
		Permissions: s.tokens.Permissions(token),
	}, nil
}

// AssignRoles replaces the role set of email. Names are not checked against
// the configured allow-list.
func (s *AuthService) AssignRoles(ctx context.Context, email string, roles []string, actor string) (types.Acknowledgement, error) {
	const op = "assign roles"

	roles, err := normalizeGrants(roles, "roles")
	if err != nil {
		return types.Acknowledgement{}, err.WithOp(op, email)
	}
	actor = actorOrSystem(actor)

	if err := s.credentials.AssignRoles(ctx, email, roles, actor); err != nil {
		return types.Acknowledgement{}, err
	}

	s.logger.InfoContext(ctx, "roles assigned", "email", email, "roles", roles, "actor", actor)
	s.publish(ctx, Event{Type: EventUserRolesAssigned, Email: email, Roles: roles, Actor: actor})

	return types.Acknowledgement{
		Message: msgRolesAssigned,
		Status:  types.StatusSuccess,
		Email:   email,
		Roles:   roles,
	}, nil
}

// AssignPermissions replaces the permission set of email.
func (s *AuthService) AssignPermissions(ctx context.Context, email string, permissions []string, actor string) (types.Acknowledgement, error) {
	const op = "assign permissions"

	permissions, err := normalizeGrants(permissions, "permissions")
	if err != nil {
		return types.Acknowledgement{}, err.WithOp(op, email)
	}
	actor = actorOrSystem(actor)

	if err := s.credentials.AssignPermissions(ctx, email, permissions, actor); err != nil {
		return types.Acknowledgement{}, err
	}

	s.logger.InfoContext(ctx, "permissions assigned", "email", email, "permissions", permissions, "actor", actor)
	s.publish(ctx, Event{Type: EventUserPermissionsAssigned, Email: email, Permissions: permissions, Actor: actor})

	return types.Acknowledgement{
		Message:     msgPermissionsAssigned,
		Status:      types.StatusSuccess,
		Email:       email,
		Permissions: permissions,
	}, nil
}

// ChangePassword replaces the password of email after checking the current one.
func (s *AuthService) ChangePassword(ctx context.Context, email string, req types.ChangePasswordRequest) (types.Acknowledgement, error) {
	const op = "change password"

	if err := req.Validate(); err != nil {
		return types.Acknowledgement{}, apperr.BadRequest(err.Error()).WithOp(op, email)
	}

	user, err := s.credentials.FetchUser(ctx, email)
	if err != nil {
		if !apperr.IsNotFound(err) {
			return types.Acknowledgement{}, err
		}
		s.credentials.VerifyUnknown(ctx, req.CurrentPassword)
		return types.Acknowledgement{}, apperr.Unauthorized(msgInvalidCredentials).WithOp(op, email)
	}
	if !s.credentials.VerifyPassword(ctx, req.CurrentPassword, user.PasswordHash) {
		return types.Acknowledgement{}, apperr.Unauthorized(msgInvalidCredentials).WithOp(op, email)
	}

	if err := s.credentials.UpdatePassword(ctx, email, req.NewPassword); err != nil {
		return types.Acknowledgement{}, err
	}

	s.logger.InfoContext(ctx, "password changed", "email", email)
	return types.Acknowledgement{Message: msgPasswordChanged, Status: types.StatusSuccess, Email: email}, nil
}

func (s *AuthService) AllowedRoles() []string {
	return s.credentials.AllowedRoles()
}

func (s *AuthService) AllowedPermissions() []string {
	return s.credentials.AllowedPermissions()
}

// publish never fails the caller; the account change is already committed.
func (s *AuthService) publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultEventPublishWindow)
	defer cancel()

	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish account event", "type", event.Type, "email", event.Email, "error", err)
	}
}

func normalizeGrants(values []string, field string) ([]string, *apperr.Error) {
	for _, value := range values {
		if strings.Contains(value, store.SetDelimiter) {
			return nil, apperr.BadRequest(field + " must not contain '" + store.SetDelimiter + "'")
		}
	}
	normalized := store.NormalizeSet(values)
	if len(normalized) == 0 {
		return nil, apperr.BadRequest(field + " list cannot be empty")
	}
	return normalized, nil
}

func actorOrSystem(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return types.ActorSystem
	}
	return actor
}
