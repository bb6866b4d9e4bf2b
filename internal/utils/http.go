package utils

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
)

func requestScheme(c *gin.Context) string {
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		return "https"
	}
	return "http"
}

// GetBaseURL returns configBaseURL, or the scheme and host of the request
// when it is empty.
func GetBaseURL(c *gin.Context, configBaseURL string) string {
	if configBaseURL != "" {
		return strings.TrimSuffix(configBaseURL, "/")
	}
	return fmt.Sprintf("%s://%s", requestScheme(c), c.Request.Host)
}
