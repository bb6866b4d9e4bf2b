package app

import (
	"html/template"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"strings"

	"rental-portal/internal/config"
	"rental-portal/internal/routes"
	"rental-portal/internal/utils"
	"rental-portal/web"

	"github.com/gin-contrib/multitemplate"
	"github.com/gin-gonic/gin"
)

const LAYOUT_TEMPLATE = "templates/layouts/base.html.tmpl"

func securityHeaders(c *gin.Context) {
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")
	c.Header("Referrer-Policy", "same-origin")

	// Assets are fingerprinted by SRI, pages and API answers are per session.
	if !strings.HasPrefix(c.Request.URL.Path, "/assets/") {
		c.Header("Cache-Control", "no-store")
	}
	c.Next()
}

// Middleware to check if the IP is allowed.
func IPAccessControl(allowedCIDRs []string) gin.HandlerFunc {
	var parsedCIDRs []*net.IPNet

	// Allow local networks in debug mode
	if os.Getenv("GIN_MODE") != "release" {
		allowedCIDRs = append(allowedCIDRs, "127.0.0.1/8", "::1/128")
	}

	for _, cidr := range allowedCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			slog.Warn("Invalid CIDR", "cidr", cidr)
			continue
		}
		slog.Debug("Allowed CIDR", "cidr", cidr)
		parsedCIDRs = append(parsedCIDRs, network)
	}

	return func(c *gin.Context) {
		clientIP := net.ParseIP(c.ClientIP())
		if clientIP == nil {
			slog.Warn("Invalid client IP", "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"ok": false, "message": "Forbidden"})
			return
		}

		for _, cidr := range parsedCIDRs {
			if cidr.Contains(clientIP) {
				c.Next()
				return
			}
		}
		slog.Warn("IP not allowed", "ip", clientIP)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"ok": false, "message": "Forbidden"})
	}
}

// baseURL resolves the public URL once per request for templates and
// generated links.
func baseURL(c *gin.Context) {
	c.Set("BaseURL", utils.GetBaseURL(c, config.Cfg.BaseURL))
	c.Next()
}

// Renderer builds one template set per page, each page on top of the
// shared layout.
func Renderer(templates fs.FS) (multitemplate.Renderer, error) {
	renderer := multitemplate.NewRenderer()

	pages, err := fs.Glob(templates, "templates/*.html.tmpl")
	if err != nil {
		return nil, err
	}
	for _, page := range pages {
		name := path.Base(page)
		tmpl, err := template.New(path.Base(LAYOUT_TEMPLATE)).
			Funcs(routes.TemplateFuncs()).
			ParseFS(templates, LAYOUT_TEMPLATE, page)
		if err != nil {
			return nil, err
		}
		renderer.Add(name, tmpl)
		slog.Debug("Loaded template", "name", name)
	}
	return renderer, nil
}

func HTTPServer(s *routes.Services) (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	renderer, err := Renderer(web.Templates)
	if err != nil {
		return nil, err
	}
	r.HTMLRender = renderer

	if config.Cfg.AllowedNetworks != "" {
		slog.Debug("Enabling IP access control", "allowed_networks", config.Cfg.AllowedNetworks)
		var allowedCIDRs []string

		for cidr := range strings.SplitSeq(config.Cfg.AllowedNetworks, ",") {
			// Remove spaces and ignore empty sets
			if cidr := strings.TrimSpace(cidr); cidr != "" {
				allowedCIDRs = append(allowedCIDRs, cidr)
			}
		}

		r.Use(IPAccessControl(allowedCIDRs))
	}
	r.Use(securityHeaders)

	// Registered before the gate and session middleware, which assets skip.
	assets, err := fs.Sub(web.Assets, "assets")
	if err != nil {
		return nil, err
	}
	r.StaticFS("/assets", http.FS(assets))

	r.Use(baseURL)
	r.Use(routes.ErrorHandler())
	r.Use(routes.AccessGate())
	r.Use(routes.SessionMiddleware(s))

	routes.Register(r, s)

	r.NoRoute(func(c *gin.Context) {
		routes.AbortWithHTTPError(c, http.StatusNotFound, routes.ErrPageNotFound, "ページが見つかりません")
	})

	return r, nil
}
