package routes

import (
	"log/slog"
	"net/http"
	"net/url"

	"rental-portal/internal/access"
	"rental-portal/internal/session"

	"github.com/gin-gonic/gin"
)

// Roles maps a session state onto RBAC roles. Guests have none and get the
// policy's default role. Admin comes from the verified claim only.
func Roles(state session.State) []string {
	auth, ok := state.(session.Authenticated)
	if !ok {
		return nil
	}
	if auth.IsAdmin {
		return []string{access.ROLE_USER, access.ROLE_ADMIN}
	}
	return []string{access.ROLE_USER}
}

func loginURL(c *gin.Context) string {
	return "/login?next=" + url.QueryEscape(c.Request.URL.RequestURI())
}

// RequirePermission creates middleware that checks for specific permission.
// Signed-out visitors are sent to the login page, or get 401 on the API.
func RequirePermission(rbac *access.RBAC, resource, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := SessionState(c)
		roles := Roles(state)

		if rbac.Can(roles, resource, action) {
			c.Next()
			return
		}

		_, signedIn := state.(session.Authenticated)
		slog.Warn("Permission denied",
			"roles", roles,
			"resource", resource,
			"action", action,
			"path", c.Request.URL.Path)

		switch {
		case !signedIn && !wantsJSON(c):
			c.Redirect(http.StatusFound, loginURL(c))
			c.Abort()
		case !signedIn:
			AbortWithError(c, ErrUnauthorized)
		default:
			AbortWithError(c, ErrInsufficientPermissions)
		}
	}
}
