package types

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const (
	maxNameLength     = 200
	maxEmailLength    = 254
	maxPasswordLength = 72 // bcrypt ignores anything longer
)

// SignUpRequest is the payload for registering a new account.
type SignUpRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// Normalize trims surrounding whitespace from the identity fields.
// The password is left untouched.
func (r *SignUpRequest) Normalize() {
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.Email = strings.TrimSpace(r.Email)
}

func (r SignUpRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, maxNameLength)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, maxNameLength)),
		validation.Field(&r.Email, validation.Required, validation.Length(3, maxEmailLength), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(1, maxPasswordLength)),
	)
}

// SignInRequest is the payload for exchanging credentials for a token.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *SignInRequest) Normalize() {
	r.Email = strings.TrimSpace(r.Email)
}

func (r SignInRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// ChangePasswordRequest replaces the password of the authenticated account.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (r ChangePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(1, maxPasswordLength)),
	)
}

// AssignRolesRequest and AssignPermissionsRequest carry the full replacement set.
type AssignRolesRequest struct {
	Roles []string `json:"roles"`
}

type AssignPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

// AuthenticatedUser is returned by a successful sign-in.
type AuthenticatedUser struct {
	FirstName   string   `json:"firstName"`
	Email       string   `json:"email"`
	Token       string   `json:"token"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// AccessPermissions is the claim view of a valid token.
type AccessPermissions struct {
	FirstName   string   `json:"firstName"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// Acknowledgement confirms a write or a stateless operation.
type Acknowledgement struct {
	Message     string   `json:"message"`
	Status      string   `json:"status"`
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

const StatusSuccess = "success"
