package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Rrens/meeting-assistant/internal/api/response"
	"github.com/Rrens/meeting-assistant/internal/security"
)

type contextKey string

const (
	UserIDKey   contextKey = "userID"
	UserNameKey contextKey = "userName"
)

// UserIDHeader carries the caller's id when token authentication is off
const UserIDHeader = "X-User-ID"

// AuthMiddleware resolves the calling user. With a JWT manager the user id
// is the token subject; without one it is read from the X-User-ID header
// set by a trusted gateway.
type AuthMiddleware struct {
	jwtManager *security.JWTManager
}

// NewAuthMiddleware creates a new auth middleware. jwtManager may be nil.
func NewAuthMiddleware(jwtManager *security.JWTManager) *AuthMiddleware {
	return &AuthMiddleware{jwtManager: jwtManager}
}

// Authenticate rejects requests without a valid identity
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.jwtManager == nil {
			userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
			if userID == "" {
				response.Unauthorized(w, "missing "+UserIDHeader+" header")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserIDKey, userID)))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			response.Error(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			response.Error(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		ctx, err := m.withClaims(r.Context(), parts[1])
		if err != nil {
			response.Unauthorized(w, "invalid or expired token: "+err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Identify attaches an identity when the request carries one and lets
// anonymous requests through. Browsers cannot set headers on websocket
// upgrades, so the token may also come from the access_token query.
func (m *AuthMiddleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.jwtManager == nil {
			userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
			if userID == "" {
				userID = strings.TrimSpace(r.URL.Query().Get("userId"))
			}
			if userID != "" {
				r = r.WithContext(context.WithValue(r.Context(), UserIDKey, userID))
			}
			next.ServeHTTP(w, r)
			return
		}

		token := r.URL.Query().Get("access_token")
		if parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2); len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			token = parts[1]
		}
		if token != "" {
			ctx, err := m.withClaims(r.Context(), token)
			if err != nil {
				response.Unauthorized(w, "invalid or expired token: "+err.Error())
				return
			}
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) withClaims(ctx context.Context, token string) (context.Context, error) {
	claims, err := m.jwtManager.ValidateAccessToken(token)
	if err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, UserIDKey, claims.UserID())
	ctx = context.WithValue(ctx, UserNameKey, claims.Name)
	return ctx, nil
}

// GetUserID gets the user ID from context
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}

// GetUserName gets the display name from context
func GetUserName(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(UserNameKey).(string)
	return name, ok
}
