package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"rental-portal/internal/rentals"
	"rental-portal/internal/session"
	"rental-portal/internal/storage"

	"github.com/gin-gonic/gin"
)

const (
	// Interval of SSE comments keeping idle streams open through proxies.
	STREAM_KEEPALIVE = 30 * time.Second
	// A stream whose client stops reading for this long is closed.
	STREAM_WRITE_TIMEOUT = 10 * time.Second
)

type adminUser struct {
	storage.User
	TalkURL string `json:"talkUrl"`
}

func adminUsers(users []storage.User) []adminUser {
	out := make([]adminUser, 0, len(users))
	for _, u := range users {
		out = append(out, adminUser{User: u, TalkURL: "/talk/" + u.ID})
	}
	return out
}

// imageUpload returns the "image" file of a multipart form, nil when none
// was sent. The caller closes the file.
func imageUpload(c *gin.Context) (*rentals.Upload, multipart.File, error) {
	header, err := c.FormFile("image")
	if err == http.ErrMissingFile {
		return nil, nil, nil
	} else if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	f, err := header.Open()
	if err != nil {
		return nil, nil, err
	}
	return &rentals.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        f,
	}, f, nil
}

// abortWithMessage shows client errors as they are and everything else
// with the failure message of the operation.
func abortWithMessage(c *gin.Context, err error, message string) {
	if GetErrorStatus(err) >= 500 {
		AbortWithHTTPError(c, http.StatusInternalServerError, err, message)
		return
	}
	AbortWithError(c, err)
}

// streamWriteDeadline bounds the next write to a stream. Writers without
// deadline support, such as test recorders, are left as they are.
func streamWriteDeadline(c *gin.Context) {
	rc := http.NewResponseController(c.Writer)
	if err := rc.SetWriteDeadline(time.Now().Add(STREAM_WRITE_TIMEOUT)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Debug("Failed to set stream write deadline", "error", err)
	}
}

// eventMessage writes one server-sent event and flushes it.
func eventMessage(c *gin.Context, event string, data any) error {
	serialized, err := json.Marshal(data)
	if err != nil {
		slog.Error("Failed to marshal SSE event message", "error", err)
		return err
	}
	streamWriteDeadline(c)
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, serialized); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

// streamRequests pushes the request list on every change until the client
// goes away.
func streamRequests(c *gin.Context, store storage.Provider) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The first snapshot arrives before SubscribeRentalRequests returns.
	snapshots := make(chan []storage.RentalRequest, 1)
	failures := make(chan error, 1)

	unsubscribe, err := store.SubscribeRentalRequests(ctx,
		func(requests []storage.RentalRequest) {
			offerLatest(snapshots, requests)
		},
		func(err error) {
			select {
			case failures <- err:
			default:
			}
		})
	if err != nil {
		AbortWithHTTPError(c, http.StatusInternalServerError, err, "一覧の取得に失敗しました")
		return
	}
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	keepalive := time.NewTicker(STREAM_KEEPALIVE)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case requests := <-snapshots:
			if requests == nil {
				requests = []storage.RentalRequest{}
			}
			if err := eventMessage(c, "snapshot", requests); err != nil {
				return
			}
		case err := <-failures:
			slog.Error("Request stream failed", "error", err)
			eventMessage(c, "alert", gin.H{"message": "一覧の取得に失敗しました"})
			return
		case <-keepalive.C:
			streamWriteDeadline(c)
			if _, err := fmt.Fprint(c.Writer, ": keepalive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// AdminRoutes serves the admin pages and API. Every route requires the
// verified admin claim.
func AdminRoutes(r *gin.Engine, s *Services) {
	read := RequirePermission(s.RBAC, "admin", "read")
	write := RequirePermission(s.RBAC, "admin", "write")

	pages := r.Group("/admin", read)
	pages.GET("", func(c *gin.Context) {
		HTML(c, http.StatusOK, "admin.html.tmpl", gin.H{"Title": "管理画面"})
	})
	pages.GET("/rentals", func(c *gin.Context) {
		list, err := s.Rentals.AdminList(c.Request.Context())
		if err != nil {
			AbortWithHTTPError(c, http.StatusInternalServerError, err, "一覧の取得に失敗しました")
			return
		}
		HTML(c, http.StatusOK, "admin_rentals.html.tmpl", gin.H{
			"Title":   "レンタル商品登録",
			"Rentals": list,
		})
	})
	pages.GET("/requests", func(c *gin.Context) {
		requests, err := s.Rentals.Requests(c.Request.Context())
		if err != nil {
			AbortWithHTTPError(c, http.StatusInternalServerError, err, "一覧の取得に失敗しました")
			return
		}
		HTML(c, http.StatusOK, "admin_requests.html.tmpl", gin.H{
			"Title":    "レンタルリクエスト一覧",
			"Requests": requests,
		})
	})
	pages.GET("/users", func(c *gin.Context) {
		users, err := s.Store.ListUsers(c.Request.Context())
		if err != nil {
			AbortWithHTTPError(c, http.StatusInternalServerError, err, "ユーザー一覧の取得に失敗しました")
			return
		}
		allowed, err := s.AllowList.List(c.Request.Context())
		if err != nil {
			AbortWithHTTPError(c, http.StatusInternalServerError, err, "ユーザー一覧の取得に失敗しました")
			return
		}
		allowRequests, err := s.Store.ListAllowRequests(c.Request.Context())
		if err != nil {
			AbortWithHTTPError(c, http.StatusInternalServerError, err, "ユーザー一覧の取得に失敗しました")
			return
		}
		HTML(c, http.StatusOK, "admin_users.html.tmpl", gin.H{
			"Title":         "ユーザー一覧",
			"Users":         adminUsers(users),
			"AllowedEmails": allowed,
			"AllowRequests": allowRequests,
		})
	})

	api := r.Group("/api/admin")

	api.GET("/rentals", read, func(c *gin.Context) {
		list, err := s.Rentals.AdminList(c.Request.Context())
		if err != nil {
			AbortWithHTTPError(c, http.StatusInternalServerError, err, "一覧の取得に失敗しました")
			return
		}
		if list == nil {
			list = []storage.Rental{}
		}
		c.JSON(http.StatusOK, list)
	})

	api.POST("/rentals", write, func(c *gin.Context) {
		var in rentals.RentalInput
		if err := c.ShouldBind(&in); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		image, f, err := imageUpload(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if f != nil {
			defer f.Close()
		}
		rental, err := s.Rentals.Create(c.Request.Context(), in, image)
		if err != nil {
			abortWithMessage(c, err, "登録に失敗しました")
			return
		}
		c.JSON(http.StatusCreated, rental)
	})

	api.PUT("/rentals/:id", write, func(c *gin.Context) {
		var in rentals.RentalInput
		if err := c.ShouldBind(&in); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		image, f, err := imageUpload(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if f != nil {
			defer f.Close()
		}
		rental, err := s.Rentals.Update(c.Request.Context(), c.Param("id"), in, image)
		if err != nil {
			abortWithMessage(c, err, "更新に失敗しました")
			return
		}
		c.JSON(http.StatusOK, rental)
	})

	api.DELETE("/rentals/:id", write, func(c *gin.Context) {
		if err := s.Rentals.Delete(c.Request.Context(), c.Param("id")); err != nil {
			abortWithMessage(c, err, "削除に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api.GET("/requests", read, func(c *gin.Context) {
		requests, err := s.Rentals.Requests(c.Request.Context())
		if err != nil {
			AbortWithHTTPError(c, http.StatusInternalServerError, err, "一覧の取得に失敗しました")
			return
		}
		if requests == nil {
			requests = []storage.RentalRequest{}
		}
		c.JSON(http.StatusOK, requests)
	})

	api.GET("/requests/stream", read, func(c *gin.Context) {
		streamRequests(c, s.Store)
	})

	api.GET("/users", read, func(c *gin.Context) {
		users, err := s.Store.ListUsers(c.Request.Context())
		if err != nil {
			AbortWithHTTPError(c, http.StatusInternalServerError, err, "ユーザー一覧の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, adminUsers(users))
	})

	api.GET("/allowed-emails", read, func(c *gin.Context) {
		list, err := s.AllowList.List(c.Request.Context())
		if err != nil {
			AbortWithHTTPError(c, http.StatusInternalServerError, err, "一覧の取得に失敗しました")
			return
		}
		if list == nil {
			list = []storage.AllowedEmail{}
		}
		c.JSON(http.StatusOK, list)
	})

	api.POST("/allowed-emails", write, func(c *gin.Context) {
		var req approvalRequest
		if err := c.ShouldBind(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		addedBy := ""
		if auth, ok := SessionState(c).(session.Authenticated); ok {
			addedBy = auth.Identity.Email
		}
		if err := s.AllowList.Add(c.Request.Context(), req.Email, addedBy); err != nil {
			abortWithMessage(c, err, "登録に失敗しました")
			return
		}
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	api.DELETE("/allowed-emails/:email", write, func(c *gin.Context) {
		if err := s.AllowList.Remove(c.Request.Context(), c.Param("email")); err != nil {
			abortWithMessage(c, err, "削除に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api.GET("/allow-requests", read, func(c *gin.Context) {
		requests, err := s.Store.ListAllowRequests(c.Request.Context())
		if err != nil {
			AbortWithHTTPError(c, http.StatusInternalServerError, err, "一覧の取得に失敗しました")
			return
		}
		if requests == nil {
			requests = []storage.AllowRequest{}
		}
		c.JSON(http.StatusOK, requests)
	})
}
