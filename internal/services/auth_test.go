package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jjudge-oj/authserver/internal/apperr"
	"github.com/jjudge-oj/authserver/internal/store"
	"github.com/jjudge-oj/authserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignUp_FirstUserIsAdmin(t *testing.T) {
	f := newFixture(t)

	ack, err := f.svc.SignUp(context.Background(), types.SignUpRequest{
		FirstName: " Ada ",
		LastName:  "Lovelace",
		Email:     " ada@example.com ",
		Password:  "engine",
	})
	require.NoError(t, err)
	assert.Equal(t, "User registered successfully", ack.Message)
	assert.Equal(t, types.StatusSuccess, ack.Status)

	f.signUp(t, "charles@example.com", "difference")

	first, ok := f.repo.get("ada@example.com")
	require.True(t, ok)
	assert.Equal(t, "Ada", first.FirstName)
	assert.Equal(t, []string{types.RoleAdmin}, first.Roles)
	assert.Empty(t, first.Permissions)
	assert.Equal(t, types.ActorSystem, first.CreatedBy)

	second, ok := f.repo.get("charles@example.com")
	require.True(t, ok)
	assert.Equal(t, []string{types.RoleUser}, second.Roles)
}

func TestSignUp_StoresHashNotPassword(t *testing.T) {
	f := newFixture(t)
	f.signUp(t, "ada@example.com", "engine")

	stored, _ := f.repo.get("ada@example.com")
	assert.NotEmpty(t, stored.PasswordHash)
	assert.NotEqual(t, "engine", stored.PasswordHash)
	assert.Empty(t, stored.Password)
	assert.True(t, f.credentials.VerifyPassword(context.Background(), "engine", stored.PasswordHash))
}

func TestSignUp_DuplicateIsConflict(t *testing.T) {
	f := newFixture(t)
	f.signUp(t, "ada@example.com", "engine")

	_, err := f.svc.SignUp(context.Background(), types.SignUpRequest{
		FirstName: "Other",
		LastName:  "Person",
		Email:     "ada@example.com",
		Password:  "other",
	})
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))

	count, err := f.credentials.CountUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSignUp_ConcurrentDuplicateIsConflict(t *testing.T) {
	f := newFixture(t)
	f.signUp(t, "ada@example.com", "engine")
	// The existence check misses the row, the insert hits the unique constraint.
	f.repo.hideOnExists["ada@example.com"] = true

	_, err := f.svc.SignUp(context.Background(), types.SignUpRequest{
		FirstName: "Ada",
		LastName:  "Again",
		Email:     "ada@example.com",
		Password:  "engine",
	})
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.Equal(t, 409, apperr.HTTPStatus(err))
}

func TestSignUp_ConcurrentSameEmail(t *testing.T) {
	f := newFixture(t)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.SignUp(context.Background(), types.SignUpRequest{
				FirstName: "Ada",
				LastName:  "Lovelace",
				Email:     "race@example.com",
				Password:  "engine",
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperr.IsConflict(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
}

func TestSignUp_InvalidRequest(t *testing.T) {
	tests := map[string]types.SignUpRequest{
		"missing first name": {LastName: "L", Email: "a@example.com", Password: "pw"},
		"missing last name":  {FirstName: "F", Email: "a@example.com", Password: "pw"},
		"bad email":          {FirstName: "F", LastName: "L", Email: "not-an-email", Password: "pw"},
		"missing password":   {FirstName: "F", LastName: "L", Email: "a@example.com"},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.SignUp(context.Background(), req)
			require.Error(t, err)
			assert.True(t, apperr.IsBadRequest(err))
			assert.Zero(t, f.repo.writes)
		})
	}
}

func TestSignUp_PublishesEvent(t *testing.T) {
	f := newFixture(t)
	f.signUp(t, "ada@example.com", "engine")

	events := f.broker.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, EventUserRegistered, events[0].Type)
	assert.Equal(t, "ada@example.com", events[0].Email)
	assert.Equal(t, []string{types.RoleAdmin}, events[0].Roles)
	assert.Equal(t, types.ActorSystem, events[0].Actor)
	assert.False(t, events[0].OccurredAt.IsZero())
	assert.Equal(t, []string{"auth.account-events"}, f.broker.channel)
	assert.Equal(t, EventUserRegistered, f.broker.messages[0].Attributes[EventTypeAttribute])
}

func TestSignUp_PublishFailureDoesNotFail(t *testing.T) {
	f := newFixture(t)
	f.broker.err = errors.New("broker down")

	f.signUp(t, "ada@example.com", "engine")

	_, ok := f.repo.get("ada@example.com")
	assert.True(t, ok)
}

func TestSignIn_IssuesTokenWithCurrentGrants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.signUp(t, "ada@example.com", "engine")
	_, err := f.svc.AssignPermissions(ctx, "ada@example.com", []string{"write", "read"}, "root@example.com")
	require.NoError(t, err)

	result, err := f.svc.SignIn(ctx, types.SignInRequest{Email: "ada@example.com", Password: "engine"})
	require.NoError(t, err)

	assert.Equal(t, "Ada", result.FirstName)
	assert.Equal(t, "ada@example.com", result.Email)
	assert.Equal(t, []string{types.RoleAdmin}, result.Roles)
	assert.Equal(t, []string{"read", "write"}, result.Permissions)

	require.True(t, f.tokens.IsValid(result.Token))
	assert.Equal(t, "ada@example.com", f.tokens.Subject(result.Token))
	assert.Equal(t, result.Roles, f.tokens.Roles(result.Token))
	assert.Equal(t, result.Permissions, f.tokens.Permissions(result.Token))
}

func TestSignIn_UnknownEmailAndWrongPasswordLookAlike(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.signUp(t, "ada@example.com", "engine")

	_, wrongPassword := f.svc.SignIn(ctx, types.SignInRequest{Email: "ada@example.com", Password: "loom"})
	_, unknownEmail := f.svc.SignIn(ctx, types.SignInRequest{Email: "ghost@example.com", Password: "loom"})

	require.Error(t, wrongPassword)
	require.Error(t, unknownEmail)
	assert.True(t, apperr.IsUnauthorized(wrongPassword))
	assert.True(t, apperr.IsUnauthorized(unknownEmail))
	assert.Equal(t, apperr.PublicMessage(wrongPassword), apperr.PublicMessage(unknownEmail))
	assert.Equal(t, apperr.HTTPStatus(wrongPassword), apperr.HTTPStatus(unknownEmail))
}

func TestSignIn_StorageFailureIsNotUnauthorized(t *testing.T) {
	f := newFixture(t)
	f.repo.failWith = errors.New("connection refused")

	_, err := f.svc.SignIn(context.Background(), types.SignInRequest{Email: "ada@example.com", Password: "engine"})
	require.Error(t, err)
	assert.False(t, apperr.IsUnauthorized(err))
	assert.True(t, apperr.IsValidation(err))
}

func TestSignOut_IsStateless(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.signUp(t, "ada@example.com", "engine")
	result, err := f.svc.SignIn(ctx, types.SignInRequest{Email: "ada@example.com", Password: "engine"})
	require.NoError(t, err)

	ack := f.svc.SignOut(ctx, result.Token)
	assert.Equal(t, "user logout successful", ack.Message)
	assert.Equal(t, types.StatusSuccess, ack.Status)

	// The token keeps working until it expires.
	_, err = f.svc.Permissions(ctx, result.Token)
	assert.NoError(t, err)

	assert.Equal(t, ack, f.svc.SignOut(ctx, "garbage"))
}

func TestPermissions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.signUp(t, "ada@example.com", "engine")
	result, err := f.svc.SignIn(ctx, types.SignInRequest{Email: "ada@example.com", Password: "engine"})
	require.NoError(t, err)

	perms, err := f.svc.Permissions(ctx, result.Token)
	require.NoError(t, err)
	assert.Equal(t, types.AccessPermissions{
		FirstName:   "Ada",
		Email:       "ada@example.com",
		Roles:       []string{types.RoleAdmin},
		Permissions: []string{},
	}, perms)

	_, err = f.svc.Permissions(ctx, result.Token+"x")
	assert.True(t, apperr.IsUnauthorized(err))

	_, err = f.svc.Permissions(ctx, "")
	assert.True(t, apperr.IsUnauthorized(err))
}

func TestAssignRoles_ReplacesAndPublishes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.signUp(t, "ada@example.com", "engine")
	f.signUp(t, "bob@example.com", "builder")

	ack, err := f.svc.AssignRoles(ctx, "bob@example.com", []string{" ops", "auditor", "ops"}, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Roles assigned successfully", ack.Message)
	assert.Equal(t, "bob@example.com", ack.Email)
	assert.Equal(t, []string{"auditor", "ops"}, ack.Roles)

	stored, _ := f.repo.get("bob@example.com")
	assert.Equal(t, []string{"auditor", "ops"}, stored.Roles)
	assert.Equal(t, "ada@example.com", stored.LastUpdatedBy)

	events := f.broker.events(t)
	require.Len(t, events, 3)
	assert.Equal(t, EventUserRolesAssigned, events[2].Type)
	assert.Equal(t, "ada@example.com", events[2].Actor)
}

func TestAssignRoles_EmptyListIsBadRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.signUp(t, "ada@example.com", "engine")
	writes := f.repo.writes

	for _, roles := range [][]string{nil, {}, {"", "  "}} {
		_, err := f.svc.AssignRoles(ctx, "ada@example.com", roles, "root")
		require.Error(t, err)
		assert.True(t, apperr.IsBadRequest(err))
	}
	_, err := f.svc.AssignPermissions(ctx, "ada@example.com", nil, "root")
	assert.True(t, apperr.IsBadRequest(err))

	assert.Equal(t, writes, f.repo.writes)
	stored, _ := f.repo.get("ada@example.com")
	assert.Equal(t, []string{types.RoleAdmin}, stored.Roles)
}

func TestAssignRoles_RejectsDelimiterInName(t *testing.T) {
	f := newFixture(t)
	f.signUp(t, "ada@example.com", "engine")

	_, err := f.svc.AssignRoles(context.Background(), "ada@example.com", []string{"ops,admin"}, "root")
	assert.True(t, apperr.IsBadRequest(err))
}

func TestAssignRoles_UnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AssignRoles(context.Background(), "ghost@example.com", []string{"ops"}, "root")
	assert.True(t, apperr.IsNotFound(err))
	_, err = f.svc.AssignPermissions(context.Background(), "ghost@example.com", []string{"read"}, "root")
	assert.True(t, apperr.IsNotFound(err))
}

func TestAssign_AllowListIsNotEnforced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.signUp(t, "ada@example.com", "engine")
	require.NotContains(t, f.svc.AllowedRoles(), "wizard")

	_, err := f.svc.AssignRoles(ctx, "ada@example.com", []string{"wizard"}, "root")
	require.NoError(t, err)
	_, err = f.svc.AssignPermissions(ctx, "ada@example.com", []string{"time-travel"}, "")
	require.NoError(t, err)

	stored, _ := f.repo.get("ada@example.com")
	assert.Equal(t, []string{"wizard"}, stored.Roles)
	assert.Equal(t, []string{"time-travel"}, stored.Permissions)
	assert.Equal(t, types.ActorSystem, stored.LastUpdatedBy)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.signUp(t, "ada@example.com", "engine")

	_, err := f.svc.ChangePassword(ctx, "ada@example.com", types.ChangePasswordRequest{CurrentPassword: "wrong", NewPassword: "loom"})
	assert.True(t, apperr.IsUnauthorized(err))

	_, err = f.svc.ChangePassword(ctx, "ghost@example.com", types.ChangePasswordRequest{CurrentPassword: "engine", NewPassword: "loom"})
	assert.True(t, apperr.IsUnauthorized(err))

	_, err = f.svc.ChangePassword(ctx, "ada@example.com", types.ChangePasswordRequest{CurrentPassword: "engine"})
	assert.True(t, apperr.IsBadRequest(err))

	ack, err := f.svc.ChangePassword(ctx, "ada@example.com", types.ChangePasswordRequest{CurrentPassword: "engine", NewPassword: "loom"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, ack.Status)

	_, err = f.svc.SignIn(ctx, types.SignInRequest{Email: "ada@example.com", Password: "engine"})
	assert.True(t, apperr.IsUnauthorized(err))
	_, err = f.svc.SignIn(ctx, types.SignInRequest{Email: "ada@example.com", Password: "loom"})
	assert.NoError(t, err)
}

func TestAllowedLists(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{"admin", "ops", "user"}, f.svc.AllowedRoles())
	assert.Equal(t, []string{"read", "write"}, f.svc.AllowedPermissions())
}
