package routes

import (
	"net/http"

	"rental-portal/internal/utils"

	"github.com/gin-gonic/gin"
)

func Health(r *gin.RouterGroup, s *Services) {
	r.GET("/health", func(c *gin.Context) {
		msg := c.Query("ping")
		if msg == "" {
			msg = "pong"
		}

		status := http.StatusOK
		schema, err := s.Store.GetSchemaVersion(c.Request.Context())
		if err != nil {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"message": msg,
			"version": utils.GetVersion(),
			"schema":  schema,
		})
	})
}
