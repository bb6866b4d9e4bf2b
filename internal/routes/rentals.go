package routes

import (
	"errors"
	"log/slog"
	"net/http"

	"rental-portal/internal/config"
	"rental-portal/internal/rentals"
	"rental-portal/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
)

// RentalRoutes serves the public listing, detail pages and their JSON.
func RentalRoutes(r *gin.Engine, s *Services) {
	read := RequirePermission(s.RBAC, "rentals", "read")

	r.GET("/rentals", read, func(c *gin.Context) {
		list, err := s.Rentals.List(c.Request.Context())
		if err != nil {
			AbortWithHTTPError(c, http.StatusInternalServerError, err, "一覧の取得に失敗しました")
			return
		}
		HTML(c, http.StatusOK, "rentals.html.tmpl", gin.H{
			"Title":   "レンタル商品一覧",
			"Rentals": list,
		})
	})

	r.GET("/rentals/:id", read, func(c *gin.Context) {
		rental, err := s.Rentals.Get(c.Request.Context(), c.Param("id"))
		switch {
		case errors.Is(err, rentals.ErrMissingID):
			c.Redirect(http.StatusFound, "/rentals")
			return
		case errors.Is(err, rentals.ErrRentalNotFound):
			HTML(c, http.StatusNotFound, "rental.html.tmpl", gin.H{"Title": "商品詳細"})
			return
		case err != nil:
			AbortWithHTTPError(c, http.StatusInternalServerError, err, "商品の取得に失敗しました")
			return
		}
		HTML(c, http.StatusOK, "rental.html.tmpl", gin.H{
			"Title":  rental.Name,
			"Rental": rental,
		})
	})

	api := r.Group("/api/rentals", read)

	api.GET("", func(c *gin.Context) {
		list, err := s.Rentals.List(c.Request.Context())
		if err != nil {
			AbortWithHTTPError(c, http.StatusInternalServerError, err, "一覧の取得に失敗しました")
			return
		}
		if list == nil {
			list = []storage.Rental{}
		}
		c.JSON(http.StatusOK, list)
	})

	api.GET("/:id", func(c *gin.Context) {
		rental, err := s.Rentals.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, rental)
	})

	// Printable label linking to the request form of a rental.
	api.GET("/:id/qr.png", func(c *gin.Context) {
		rental, err := s.Rentals.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		target := c.GetString("BaseURL") + "/rentals/" + rental.ID
		png, err := qrcode.Encode(target, qrcode.Medium, config.QR_IMAGE_SIZE)
		if err != nil {
			slog.Error("Failed to encode QR code", "rental", rental.ID, "error", err)
			AbortWithError(c, err)
			return
		}
		c.Header("Cache-Control", "public, max-age=3600")
		c.Data(http.StatusOK, "image/png", png)
	})
}

// RequestRoutes serves the request form and accepts submissions.
func RequestRoutes(r *gin.Engine, s *Services) {
	create := RequirePermission(s.RBAC, "requests", "create")

	r.GET("/request", create, func(c *gin.Context) {
		rentalID := c.Query("rentalId")
		if rentalID == "" {
			c.Redirect(http.StatusFound, "/rentals")
			return
		}
		rental, err := s.Rentals.Get(c.Request.Context(), rentalID)
		if errors.Is(err, rentals.ErrRentalNotFound) {
			HTML(c, http.StatusNotFound, "request.html.tmpl", gin.H{"Title": "レンタル申込み"})
			return
		} else if err != nil {
			AbortWithHTTPError(c, http.StatusInternalServerError, err, "商品の取得に失敗しました")
			return
		}
		HTML(c, http.StatusOK, "request.html.tmpl", gin.H{
			"Title":  "レンタル申込み",
			"Rental": rental,
		})
	})

	r.POST("/api/requests", create, func(c *gin.Context) {
		var in rentals.RequestInput
		if err := c.ShouldBind(&in); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		request, err := s.Rentals.SubmitRequest(c.Request.Context(), in)
		if err != nil {
			abortWithMessage(c, err, "送信に失敗しました")
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"ok":      true,
			"id":      request.ID,
			"status":  request.Status,
			"message": "申込みを送信しました",
		})
	})
}
