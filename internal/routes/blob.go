package routes

import (
	"errors"
	"net/http"
	"strings"

	"rental-portal/internal/blob"

	"github.com/gin-gonic/gin"
)

// BlobRoutes serves stored images under the download URL shape shared by
// every blob backend. Hosted backends hand out their own URLs and never
// point here.
func BlobRoutes(r *gin.Engine, s *Services) {
	r.GET(blob.SERVE_PREFIX+"/v0/b/:bucket/o/*object", func(c *gin.Context) {
		if c.Param("bucket") != s.Config.Blob.Bucket {
			AbortWithError(c, ErrUnknownBucket)
			return
		}
		objectPath := strings.TrimPrefix(c.Param("object"), "/")

		obj, err := s.Blobs.Open(c.Request.Context(), objectPath)
		if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidPath) {
			AbortWithHTTPError(c, http.StatusNotFound, err, "見つかりません")
			return
		} else if err != nil {
			AbortWithError(c, err)
			return
		}
		defer obj.Body.Close()

		c.Header("Cache-Control", "private, max-age=86400")
		c.DataFromReader(http.StatusOK, obj.Size, obj.ContentType, obj.Body, nil)
	})
}
