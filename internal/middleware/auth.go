package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rookgm/flyem/internal/models"
)

// AuthCookieName is the session cookie holding the token
const AuthCookieName = "jwt"

type contextKey int

const (
	contextKeyAuthPayload contextKey = iota
)

// TokenVerifier verifies auth token
type TokenVerifier interface {
	VerifyToken(tokenString string) (*models.TokenPayload, error)
}

// Auth gets the token from the cookie or the Authorization header and passes its payload to the context
func Auth(tv TokenVerifier) func(handler http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "not authorized, no token")
				return
			}

			payload, err := tv.VerifyToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "not authorized, token failed")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthPayload(r.Context(), payload)))
		})
	}
}

// Authorize allows request if actor is admin or has one of roles
func Authorize(roles ...string) func(handler http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			payload, ok := AuthPayload(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "not authorized")
				return
			}
			if !payload.HasRole(roles...) {
				writeError(w, http.StatusForbidden, "access denied: requires "+strings.Join(roles, " or ")+" role")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WithAuthPayload returns context carrying payload
func WithAuthPayload(ctx context.Context, payload *models.TokenPayload) context.Context {
	return context.WithValue(ctx, contextKeyAuthPayload, payload)
}

// AuthPayload extracts authorization token payload from context
func AuthPayload(ctx context.Context) (*models.TokenPayload, bool) {
	payload, ok := ctx.Value(contextKeyAuthPayload).(*models.TokenPayload)
	return payload, ok && payload != nil
}

func tokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(AuthCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.Header.Get("token")
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
