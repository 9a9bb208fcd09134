package types

import "time"

const (
	// RoleAdmin is granted to the first account ever registered.
	RoleAdmin = "admin"
	// RoleUser is the default role for every other account.
	RoleUser = "user"

	// ActorSystem is recorded as the actor for writes not made by an administrator.
	ActorSystem = "system"
)

// User represents an account in the system.
// It contains identity, authorization grants and audit metadata.
type User struct {
	// ID is the surrogate key assigned by the database.
	ID int64 `json:"-" db:"id"`

	// FirstName and LastName are display strings.
	FirstName string `json:"firstName" db:"first_name"`
	LastName  string `json:"lastName" db:"last_name"`

	// Email is the unique identity of the account.
	Email string `json:"email" db:"email_id"`

	// Password is the plaintext submitted on sign-up. It only travels from the
	// orchestrator into the credential store and is never persisted.
	Password string `json:"-" db:"-"`

	// PasswordHash stores the bcrypt representation of the password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password"`

	// Roles and Permissions are unordered sets of grant names.
	Roles       []string `json:"roles" db:"roles"`
	Permissions []string `json:"permissions" db:"permissions"`

	// SocialLoginIDs is an opaque external identity reference. Nothing in this
	// service populates it.
	SocialLoginIDs *string `json:"socialLoginIds,omitempty" db:"social_login_ids"`

	CreatedBy     string    `json:"createdBy" db:"created_by"`
	CreatedOn     time.Time `json:"createdOn" db:"created_on"`
	LastUpdatedBy string    `json:"lastUpdatedBy" db:"last_updated_by"`
	LastUpdatedOn time.Time `json:"lastUpdatedOn" db:"last_updated_on"`
}

// HasRole reports whether the user holds role.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
