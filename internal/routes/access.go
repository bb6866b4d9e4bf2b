package routes

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"rental-portal/internal/config"
	"rental-portal/internal/jwt"

	"github.com/gin-gonic/gin"
)

const ENTRY_PAGE = "/enter"

// gateExempt reports whether path is reachable without the access cookie.
func gateExempt(path string) bool {
	switch {
	case path == ENTRY_PAGE,
		strings.HasPrefix(path, "/api/access"),
		strings.HasPrefix(path, "/api/logout"),
		strings.HasPrefix(path, "/assets/"),
		path == "/favicon.ico":
		return true
	}
	return false
}

// AccessGate redirects to the entry page unless the access cookie is
// present. Only presence is checked here: the cookie is signed and
// jwt.DecodeAccessJWT can verify it, but the gate does not.
func AccessGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if gateExempt(c.Request.URL.Path) {
			c.Next()
			return
		}
		if token, err := c.Cookie(config.ACCESS_COOKIE_NAME); err != nil || token == "" {
			c.Redirect(http.StatusFound, ENTRY_PAGE)
			c.Abort()
			return
		}
		c.Next()
	}
}

type accessRequest struct {
	Password string `json:"password"`
}

func setCookie(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", config.Cfg.CookieSecure, true)
}

func clearCookie(c *gin.Context, name string) {
	setCookie(c, name, "", -1)
}

// AccessRoutes serves the entry wall: the password exchange and the logout
// that clears every cookie.
func AccessRoutes(r *gin.RouterGroup) {
	r.POST("/access", func(c *gin.Context) {
		var req accessRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false})
			return
		}

		expected := config.Cfg.AccessPassword
		if expected == "" || subtle.ConstantTimeCompare([]byte(req.Password), []byte(expected)) != 1 {
			slog.Warn("Wrong access password", "ip", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false})
			return
		}

		token, err := jwt.GenerateJWT(jwt.NewAccessClaim())
		if err != nil {
			slog.Error("Failed to sign access token", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false})
			return
		}
		setCookie(c, config.ACCESS_COOKIE_NAME, token, config.ACCESS_TTL)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	r.POST("/logout", func(c *gin.Context) {
		revokeSessionCookie(c)
		clearCookie(c, config.ACCESS_COOKIE_NAME)
		clearCookie(c, config.SESSION_COOKIE_NAME)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
}
