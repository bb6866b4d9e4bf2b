package routes

import (
	"rental-portal/internal/access"
	"rental-portal/internal/blob"
	"rental-portal/internal/config"
	"rental-portal/internal/email"
	"rental-portal/internal/identity"
	"rental-portal/internal/rentals"
	"rental-portal/internal/storage"
	"rental-portal/internal/utils"

	"github.com/gin-gonic/gin"
)

// Services are the backends the handlers work on.
type Services struct {
	Config     *config.Config
	Store      storage.Provider
	Identities identity.Provider
	Blobs      blob.Store
	Rentals    *rentals.Service
	AllowList  *access.AllowList
	Notifier   *email.Notifier
	RBAC       *access.RBAC
}

// Merge into existing gin.H
func H(c *gin.Context, data gin.H) gin.H {
	if data == nil {
		data = gin.H{}
	}
	data["BaseURL"] = c.GetString("BaseURL")
	data["AppVersion"] = utils.GetVersion()
	data["Session"] = sessionView(c)
	return data
}

// Returns a HTML response with merged data
func HTML(c *gin.Context, code int, name string, data gin.H) {
	c.HTML(code, name, H(c, data))
}

// Register mounts every page and API route on r.
func Register(r *gin.Engine, s *Services) {
	api := r.Group("/api")
	Health(api, s)
	AccessRoutes(api)
	AuthRoutes(api.Group("/auth"), s)
	api.GET("/session", SessionInfo)

	Pages(r, s)
	RentalRoutes(r, s)
	RequestRoutes(r, s)
	TalkRoutes(r, s)
	AdminRoutes(r, s)
	BlobRoutes(r, s)
}

// offerLatest hands v to the consumer of the single-slot ch without
// waiting, replacing a value the consumer has not picked up yet. It must
// have one producer at a time.
func offerLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
