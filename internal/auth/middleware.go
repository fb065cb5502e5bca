package auth

import (
	"context"
	"fmt"
	"net/http"

	"ms-events/internal/apperr"
	"ms-events/internal/logger"
	"ms-events/internal/models"
	"ms-events/internal/utils"
)

type contextKey string

const userKey contextKey = "user"

// UserLookup resolves token subjects to stored users.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

type Middleware struct {
	Tokens  *TokenService
	Users   UserLookup
	Logger  *logger.Logger
	DevMode bool
}

func NewMiddleware(tokens *TokenService, users UserLookup, log *logger.Logger, devMode bool) *Middleware {
	return &Middleware{Tokens: tokens, Users: users, Logger: log, DevMode: devMode}
}

// Protect rejects requests without a valid token for an active user.
func (m *Middleware) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.resolve(r)
		if err != nil {
			m.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// Optional lets anonymous requests through but still rejects a bad token.
func (m *Middleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, err := m.resolve(r)
		if err != nil {
			m.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// Authorize must run after Protect.
func (m *Middleware) Authorize(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := CurrentUser(r.Context())
			if !ok {
				m.reject(w, r, apperr.Unauthorized("Not authorized"))
				return
			}
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			m.Logger.LogSecurity("FORBIDDEN", fmt.Sprintf("user %s with role %s on %s %s", user.ID, user.Role, r.Method, r.URL.Path))
			utils.WriteError(w, apperr.Forbidden(fmt.Sprintf("User role %s is not authorized to access this route", user.Role)), m.DevMode)
		})
	}
}

func (m *Middleware) resolve(r *http.Request) (*models.User, error) {
	token, err := ExtractTokenFromRequest(r)
	if err != nil {
		return nil, err
	}

	claims, err := m.Tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	user, err := m.Users.GetUserByID(r.Context(), claims.UserID)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil, apperr.Unauthorized("Not authorized, user not found")
	}
	if err != nil {
		return nil, apperr.Internal("Failed to resolve user", err)
	}
	if !user.IsActive {
		return nil, apperr.Unauthorized("User account is deactivated")
	}
	return user, nil
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		m.Logger.Error("AUTH", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
	} else {
		m.Logger.LogSecurity(string(apperr.CodeOf(err)), fmt.Sprintf("%s %s", r.Method, r.URL.Path))
	}
	utils.WriteError(w, err, m.DevMode)
}

func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func CurrentUser(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userKey).(*models.User)
	return user, ok && user != nil
}

// UserID returns the authenticated user's id, or "" for anonymous requests.
func UserID(ctx context.Context) string {
	if user, ok := CurrentUser(ctx); ok {
		return user.ID
	}
	return ""
}
