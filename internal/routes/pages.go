package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Pages serves the entry wall, the home menu and the sign-in forms.
func Pages(r *gin.Engine, s *Services) {
	r.GET(ENTRY_PAGE, func(c *gin.Context) {
		HTML(c, http.StatusOK, "enter.html.tmpl", gin.H{"Title": "入室"})
	})

	r.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/home")
	})

	r.GET("/home", func(c *gin.Context) {
		HTML(c, http.StatusOK, "home.html.tmpl", gin.H{"Title": "HOME"})
	})

	r.GET("/login", func(c *gin.Context) {
		HTML(c, http.StatusOK, "login.html.tmpl", gin.H{
			"Title": "ログイン",
			"Next":  safeRedirect(c.Query("next"), "/admin"),
		})
	})

	r.GET("/signup", func(c *gin.Context) {
		HTML(c, http.StatusOK, "signup.html.tmpl", gin.H{"Title": "アカウント作成"})
	})
}
