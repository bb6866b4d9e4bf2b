package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"rental-portal/internal/access"
	"rental-portal/internal/config"
	"rental-portal/internal/identity"
	"rental-portal/internal/jwt"
	"rental-portal/internal/session"
	"rental-portal/internal/storage"

	"github.com/gin-gonic/gin"
)

const SESSION_KEY = "session"

// SessionMiddleware resolves the session cookie into a session.Context for
// the duration of the request. A missing, invalid or revoked cookie gives an
// unauthenticated session.
func SessionMiddleware(s *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(config.SESSION_COOKIE_NAME)
		id := sessionIdentity(token)

		sess := session.New(session.Static(id), s.Identities, s.Store, s.Config.AdminEmail)
		sess.Initialize(c.Request.Context())
		defer sess.Teardown()

		c.Set(SESSION_KEY, sess)
		c.Next()
	}
}

// sessionIdentity decodes a session cookie value. It is nil for a missing,
// expired or revoked session.
func sessionIdentity(token string) *identity.Identity {
	if token == "" {
		return nil
	}
	claims, err := jwt.DecodeSessionJWT(token)
	if err != nil {
		slog.Debug("Ignoring session cookie", "error", err)
		return nil
	}
	return &identity.Identity{UID: claims.UserID, Email: claims.Email, DisplayName: claims.Name}
}

// GetSession returns the session of the request, nil outside
// SessionMiddleware.
func GetSession(c *gin.Context) *session.Context {
	if v, ok := c.Get(SESSION_KEY); ok {
		if sess, ok := v.(*session.Context); ok {
			return sess
		}
	}
	return nil
}

// SessionState returns the resolved state, Unauthenticated when there is
// none.
func SessionState(c *gin.Context) session.State {
	if sess := GetSession(c); sess != nil {
		if state := sess.State(); state != nil {
			return state
		}
	}
	return session.Unauthenticated{}
}

type sessionInfo struct {
	Ready         bool   `json:"ready"`
	Authenticated bool   `json:"authenticated"`
	UID           string `json:"uid,omitempty"`
	Email         string `json:"email,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	IsAdmin       bool   `json:"isAdmin"`
	IsAdminEmail  bool   `json:"isAdminEmail"`
}

func sessionView(c *gin.Context) sessionInfo {
	sess := GetSession(c)
	info := sessionInfo{Ready: sess != nil && sess.Ready()}
	if auth, ok := SessionState(c).(session.Authenticated); ok {
		info.Authenticated = true
		info.UID = auth.Identity.UID
		info.Email = auth.Identity.Email
		info.DisplayName = auth.Identity.DisplayName
		info.IsAdmin = auth.IsAdmin
		info.IsAdminEmail = auth.IsAdminEmail
	}
	return info
}

func SessionInfo(c *gin.Context) {
	c.JSON(http.StatusOK, sessionView(c))
}

// issueSession signs a session token for id and sets it as cookie.
func issueSession(c *gin.Context, id *identity.Identity) error {
	claims, err := jwt.NewSessionClaim(id.UID, id.Email, id.DisplayName)
	if err != nil {
		return err
	}
	token, err := jwt.GenerateJWT(claims)
	if err != nil {
		return err
	}
	setCookie(c, config.SESSION_COOKIE_NAME, token, int(jwt.SessionTTL()))
	return nil
}

// revokeSessionCookie consumes the nonce of the session cookie, if any.
func revokeSessionCookie(c *gin.Context) {
	token, err := c.Cookie(config.SESSION_COOKIE_NAME)
	if err != nil || token == "" {
		return
	}
	claims, err := jwt.DecodeSessionJWT(token)
	if err != nil {
		return
	}
	if err := jwt.RevokeSession(c.Request.Context(), claims); err != nil {
		slog.Warn("Failed to revoke session", "uid", claims.UserID, "error", err)
	}
}

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type signupRequest struct {
	Email           string `json:"email" form:"email"`
	Password        string `json:"password" form:"password"`
	ConfirmPassword string `json:"confirmPassword" form:"confirmPassword"`
}

type approvalRequest struct {
	Email string `json:"email" form:"email"`
}

// knownAuthError reports whether err has its own message in errorInfoMap.
func knownAuthError(err error) bool {
	for _, known := range []error{
		identity.ErrInvalidEmail,
		identity.ErrUserNotFound,
		identity.ErrWrongPassword,
		identity.ErrTooManyRequests,
		identity.ErrEmailExists,
		identity.ErrWeakPassword,
		access.ErrInvalidEmail,
		access.ErrMissingEmail,
	} {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}

// safeRedirect allows only local absolute paths.
func safeRedirect(next, fallback string) string {
	if strings.HasPrefix(next, "/") && !strings.HasPrefix(next, "//") && !strings.Contains(next, "\\") {
		return next
	}
	return fallback
}

func AuthRoutes(r *gin.RouterGroup, s *Services) {
	r.POST("/login", func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBind(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		email := access.NormalizeEmail(req.Email)
		if email == "" || req.Password == "" {
			AbortWithHTTPError(c, http.StatusBadRequest, ErrMissingParameter, "メールアドレスとパスワードを入力してください", "MISSING_PARAMETER")
			return
		}

		id, err := s.Identities.SignIn(c.Request.Context(), email, req.Password)
		if err != nil {
			if knownAuthError(err) {
				AbortWithError(c, err)
			} else {
				AbortWithHTTPError(c, http.StatusInternalServerError, err, "ログインに失敗しました。")
			}
			return
		}

		loginEmail := access.NormalizeEmail(id.Email)
		if loginEmail == "" {
			AbortWithError(c, ErrMissingEmail)
			return
		}
		allowed, err := s.AllowList.IsAllowed(c.Request.Context(), loginEmail)
		if err != nil {
			AbortWithHTTPError(c, http.StatusInternalServerError, err, "ログインに失敗しました。")
			return
		}
		if !allowed {
			slog.Warn("Sign-in from address not on allow-list", "email", loginEmail)
			AbortWithHTTPError(c, http.StatusForbidden, ErrEmailNotAllowed, "このメールアドレスではログインできません。", "AUTH_NOT_ALLOWED")
			return
		}

		if err := issueSession(c, id); err != nil {
			AbortWithHTTPError(c, http.StatusInternalServerError, err, "ログインに失敗しました。")
			return
		}
		slog.Info("User signed in", "uid", id.UID)
		c.JSON(http.StatusOK, gin.H{"ok": true, "redirect": safeRedirect(c.Query("next"), "/admin")})
	})

	r.POST("/signup", func(c *gin.Context) {
		var req signupRequest
		if err := c.ShouldBind(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		if req.Password != req.ConfirmPassword {
			AbortWithError(c, ErrPasswordMismatch)
			return
		}

		email := access.NormalizeEmail(req.Email)
		allowed, err := s.AllowList.IsAllowed(c.Request.Context(), email)
		if err != nil {
			AbortWithHTTPError(c, http.StatusInternalServerError, err, "アカウント作成に失敗しました")
			return
		}
		if !allowed {
			AbortWithHTTPError(c, http.StatusForbidden, ErrEmailNotAllowed,
				"このメールアドレスでは現在登録できません。下の許可申請フォームから申請できます。", "SIGNUP_NOT_ALLOWED")
			return
		}

		id, err := s.Identities.SignUp(c.Request.Context(), email, req.Password)
		if err != nil {
			if knownAuthError(err) {
				AbortWithError(c, err)
			} else {
				AbortWithHTTPError(c, http.StatusInternalServerError, err, "アカウント作成に失敗しました")
			}
			return
		}

		if err := s.Store.UpsertUser(c.Request.Context(), storage.User{ID: id.UID, Email: email}); err != nil {
			slog.Error("Failed to write user profile", "uid", id.UID, "error", err)
		}
		if err := issueSession(c, id); err != nil {
			AbortWithHTTPError(c, http.StatusInternalServerError, err, "アカウント作成に失敗しました")
			return
		}
		slog.Info("User signed up", "uid", id.UID)
		c.JSON(http.StatusCreated, gin.H{"ok": true, "redirect": "/home"})
	})

	r.POST("/approval", func(c *gin.Context) {
		var req approvalRequest
		if err := c.ShouldBind(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		if access.NormalizeEmail(req.Email) == "" {
			AbortWithHTTPError(c, http.StatusBadRequest, access.ErrMissingEmail, "許可申請するメールアドレスを入力してください。", "EMAIL_REQUIRED")
			return
		}

		request, err := s.AllowList.Request(c.Request.Context(), req.Email)
		if err != nil {
			if knownAuthError(err) {
				AbortWithError(c, err)
			} else {
				AbortWithHTTPError(c, http.StatusInternalServerError, err, "許可申請の送信に失敗しました。")
			}
			return
		}
		if err := s.Notifier.AllowRequested(c.Request.Context(), request.Email); err != nil {
			slog.Warn("Failed to notify about allow request", "email", request.Email, "error", err)
		}
		c.JSON(http.StatusCreated, gin.H{
			"ok":      true,
			"message": "許可申請を送信しました。承認されると登録できるようになります。",
		})
	})

	r.POST("/logout", func(c *gin.Context) {
		revokeSessionCookie(c)
		clearCookie(c, config.SESSION_COOKIE_NAME)
		c.JSON(http.StatusOK, gin.H{"ok": true, "redirect": "/login"})
	})
}
