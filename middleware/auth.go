package middleware

import (
	"boardsync/access"
	"boardsync/core"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	UserContextKey  = contextKey("user")
	GrantContextKey = contextKey("grant")
)

var (
	errMissingAuthHeader   = errors.New("authorization header is required")
	errMalformedAuthHeader = errors.New("authorization header format must be Bearer {token}")
)

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errMissingAuthHeader
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", errMalformedAuthHeader
	}
	return parts[1], nil
}

// ClientIP returns the remote host without its port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// AuthJWT rejects requests without a valid token for a known user.
func AuthJWT(gate *access.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r)
			if err != nil {
				renderError(w, r, http.StatusUnauthorized, err.Error())
				return
			}

			user, err := gate.Authenticate(r.Context(), token)
			if err != nil {
				writeAccessError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireBoardAccess authorizes the caller against the {boardID} route
// parameter and rejects callers below the required level.
func RequireBoardAccess(gate *access.Gate, action string, required core.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r)
			if err != nil {
				renderError(w, r, http.StatusUnauthorized, err.Error())
				return
			}

			grant, err := gate.Authorize(r.Context(), access.Request{
				Token:     token,
				BoardID:   chi.URLParam(r, "boardID"),
				Action:    action,
				IPAddress: ClientIP(r),
				UserAgent: r.UserAgent(),
			})
			if err != nil {
				writeAccessError(w, r, err)
				return
			}
			if required == core.PermissionEdit && !grant.Permission.CanEdit() {
				renderError(w, r, http.StatusForbidden, "Edit permission required")
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, &grant.User)
			ctx = context.WithValue(ctx, GrantContextKey, grant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func UserFromContext(ctx context.Context) (*core.User, bool) {
	user, ok := ctx.Value(UserContextKey).(*core.User)
	return user, ok
}

func GrantFromContext(ctx context.Context) (*core.Grant, bool) {
	grant, ok := ctx.Value(GrantContextKey).(*core.Grant)
	return grant, ok
}

func writeAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		renderError(w, r, http.StatusUnauthorized, "Invalid token")
	case errors.Is(err, core.ErrForbidden):
		renderError(w, r, http.StatusForbidden, "Access denied")
	default:
		logrus.WithError(err).Error("Access check failed")
		renderError(w, r, http.StatusInternalServerError, "Access check failed")
	}
}

func renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}
