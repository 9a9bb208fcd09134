package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jjudge-oj/authserver/internal/apperr"
	"github.com/jjudge-oj/authserver/internal/auth"
	"github.com/jjudge-oj/authserver/internal/logging"
	"github.com/jjudge-oj/authserver/internal/services"
	"github.com/jjudge-oj/authserver/types"
)

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// AuthHandler exposes the authentication endpoints.
type AuthHandler struct {
	authService *services.AuthService
	tokens      TokenVerifier
	logger      *slog.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(authService *services.AuthService, tokens TokenVerifier, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &AuthHandler{
		authService: authService,
		tokens:      tokens,
		logger:      logger,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, authService *services.AuthService, tokens TokenVerifier, logger *slog.Logger) {
	handler := NewAuthHandler(authService, tokens, logger)

	r.Post("/signup", handler.SignUp)
	r.Post("/signin", handler.SignIn)
	r.Post("/signout", handler.SignOut)
	r.Get("/permissions", handler.Permissions)
	r.Get("/roles/allowed", handler.AllowedRoles)
	r.Get("/permissions/allowed", handler.AllowedPermissions)
	r.With(handler.RequireAuth).Put("/password", handler.ChangePassword)

	r.Group(func(r chi.Router) {
		r.Use(handler.RequireAdmin)
		r.Put("/users/{email}/roles", handler.AssignRoles)
		r.Put("/users/{email}/permissions", handler.AssignPermissions)
	})
}

// RequireAuth enforces a valid bearer token and injects its subject into context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return h.guard(nil, next)
}

// RequireAdmin additionally requires the admin role claim. The token subject
// becomes the acting administrator.
func (h *AuthHandler) RequireAdmin(next http.Handler) http.Handler {
	return h.guard(func(claims *auth.Claims) bool {
		for _, role := range claims.Roles {
			if role == types.RoleAdmin {
				return true
			}
		}
		return false
	}, next)
}

func (h *AuthHandler) guard(allow func(*auth.Claims) bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		claims, err := h.tokens.Verify(tokenString)
		if err != nil || strings.TrimSpace(claims.Subject) == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if allow != nil && !allow(claims) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}

		ctx := context.WithValue(r.Context(), contextSubjectKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SignUp registers a new account.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req types.SignUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	ack, err := h.authService.SignUp(r.Context(), req)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, ack)
}

// SignIn exchanges credentials for a token.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req types.SignInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	result, err := h.authService.SignIn(r.Context(), req)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SignOut acknowledges the request. A bearer token is optional.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	token, _ := bearerToken(r)
	writeJSON(w, http.StatusOK, h.authService.SignOut(r.Context(), token))
}

// Permissions returns the claims of the bearer token.
func (h *AuthHandler) Permissions(w http.ResponseWriter, r *http.Request) {
	token, err := bearerToken(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	perms, err := h.authService.Permissions(r.Context(), token)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

// ChangePassword replaces the password of the token subject.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req types.ChangePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	ack, err := h.authService.ChangePassword(r.Context(), subject, req)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (h *AuthHandler) AllowedRoles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"roles": h.authService.AllowedRoles()})
}

func (h *AuthHandler) AllowedPermissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"permissions": h.authService.AllowedPermissions()})
}

// AssignRoles replaces the role set of the account in the path.
func (h *AuthHandler) AssignRoles(w http.ResponseWriter, r *http.Request) {
	email, actor, ok := h.assignTarget(w, r)
	if !ok {
		return
	}

	var req types.AssignRolesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	ack, err := h.authService.AssignRoles(r.Context(), email, req.Roles, actor)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// AssignPermissions replaces the permission set of the account in the path.
func (h *AuthHandler) AssignPermissions(w http.ResponseWriter, r *http.Request) {
	email, actor, ok := h.assignTarget(w, r)
	if !ok {
		return
	}

	var req types.AssignPermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	ack, err := h.authService.AssignPermissions(r.Context(), email, req.Permissions, actor)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (h *AuthHandler) assignTarget(w http.ResponseWriter, r *http.Request) (email, actor string, ok bool) {
	actor, err := subjectFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}

	email, err = url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil || strings.TrimSpace(email) == "" {
		writeAppError(w, r, h.logger, apperr.BadRequest("invalid email"))
		return "", "", false
	}
	return strings.TrimSpace(email), actor, true
}
