package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/smarttutor-systems/trustcore/internal/httputil"
	"github.com/smarttutor-systems/trustcore/internal/models"
)

const (
	UserIDKey = contextKey("user-id")
	EmailKey  = contextKey("user-email")
	RoleKey   = contextKey("user-role")
)

// TokenChecker validates bearer tokens. Validity includes the account
// still being active, not just the signature.
type TokenChecker interface {
	ValidateToken(ctx context.Context, token string) (*models.ValidateTokenResponse, error)
}

type AuthMiddleware struct {
	tokens TokenChecker
}

func NewAuthMiddleware(tokens TokenChecker) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// RequireAuth validates the Bearer token and loads the identity into the
// request context. Token validity includes the account still being active.
func (m *AuthMiddleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		resp, err := m.tokens.ValidateToken(r.Context(), parts[1])
		if err != nil || !resp.Valid {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, resp.UserID)
		ctx = context.WithValue(ctx, EmailKey, resp.Email)
		ctx = context.WithValue(ctx, RoleKey, resp.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// RequireRole layers a role check on top of RequireAuth.
func (m *AuthMiddleware) RequireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return m.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		if GetRole(r.Context()) != role {
			httputil.WriteError(w, http.StatusForbidden, "insufficient role")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePrivileged admits operator and admin roles.
func (m *AuthMiddleware) RequirePrivileged(next http.HandlerFunc) http.HandlerFunc {
	return m.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		if !models.PrivilegedRoles[GetRole(r.Context())] {
			httputil.WriteError(w, http.StatusForbidden, "insufficient role")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}

func GetRole(ctx context.Context) string {
	if role, ok := ctx.Value(RoleKey).(string); ok {
		return role
	}
	return ""
}
