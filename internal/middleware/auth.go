package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/cassiomorais/eventpay/internal/domain/audit"
	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin may read the audit log and act on registrations.
const RoleAdmin = "admin"

type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// RequireAuth validates an HS256 bearer token and records the caller as the
// audit actor of the request. When roles are given the token role must be one of them.
func RequireAuth(jwtSecret string, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing authorization header", "auth_required")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeAuthError(w, http.StatusUnauthorized, "invalid authorization scheme", "auth_invalid_scheme")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method")
				}
				return []byte(jwtSecret), nil
			})

			if err != nil || !token.Valid || claims.UserID == "" {
				writeAuthError(w, http.StatusUnauthorized, "invalid token", "auth_invalid")
				return
			}

			if len(roles) > 0 && !slices.Contains(roles, claims.Role) {
				writeAuthError(w, http.StatusForbidden, "insufficient role", "auth_forbidden")
				return
			}

			// Transport metadata comes from RequestActor when it ran earlier in the chain.
			actor := audit.ActorFromContext(r.Context())
			actor.ID = claims.UserID
			actor.Email = claims.Email
			if actor.IPAddress == "" {
				actor.IPAddress = clientIP(r)
				actor.UserAgent = r.UserAgent()
			}

			ctx := audit.ContextWithActor(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID returns the authenticated caller id, if any.
func GetUserID(r *http.Request) (string, bool) {
	actor := audit.ActorFromContext(r.Context())
	return actor.ID, actor.ID != ""
}

func writeAuthError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
		"code":  code,
	})
}
