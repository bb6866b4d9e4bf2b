package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"rental-portal/internal/chat"
	"rental-portal/internal/config"
	"rental-portal/internal/session"
	"rental-portal/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsReadLimit     = 64 << 10
	wsReadDeadline  = 120 * time.Second
	wsWriteDeadline = 5 * time.Second
	wsPingInterval  = 30 * time.Second
	// Used when talk_session_recheck is not set.
	wsSessionRecheck = 30 * time.Second
)

// Same-origin only, the default of a zero CheckOrigin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type talkMessage struct {
	Text string `json:"text" form:"text"`
}

// abortTalkError turns a controller error into a response. Open failures
// other than access decisions are remote failures.
func abortTalkError(c *gin.Context, err error) {
	status := GetErrorStatus(err)
	if status >= 500 {
		AbortWithHTTPError(c, http.StatusInternalServerError, err, chat.Alert(err))
		return
	}
	AbortWithError(c, err)
}

func TalkRoutes(r *gin.Engine, s *Services) {
	read := RequirePermission(s.RBAC, "talk", "read")
	write := RequirePermission(s.RBAC, "talk", "write")

	r.GET("/talk", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/rentals")
	})

	r.GET("/talk/:roomId", read, func(c *gin.Context) {
		roomID := c.Param("roomId")
		if roomID == "" {
			c.Redirect(http.StatusFound, "/rentals")
			return
		}
		status := http.StatusOK
		allowed := chat.CanAccess(SessionState(c), roomID)
		if !allowed {
			status = http.StatusForbidden
		}
		HTML(c, status, "talk.html.tmpl", gin.H{
			"Title":   "トーク",
			"RoomID":  roomID,
			"Allowed": allowed,
		})
	})

	api := r.Group("/api/talk/:roomId")

	api.GET("/messages", read, func(c *gin.Context) {
		ctrl := chat.NewController(GetSession(c), s.Store, c.Param("roomId"))
		defer ctrl.Close()
		if err := ctrl.Open(c.Request.Context()); err != nil {
			abortTalkError(c, err)
			return
		}
		messages, err := s.Store.ListMessages(c.Request.Context(), ctrl.RoomID())
		if err != nil {
			AbortWithHTTPError(c, http.StatusInternalServerError, err, "データ取得に失敗しました")
			return
		}
		if messages == nil {
			messages = []storage.Message{}
		}
		c.JSON(http.StatusOK, messages)
	})

	api.POST("/messages", write, func(c *gin.Context) {
		var in talkMessage
		if err := c.ShouldBind(&in); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		ctrl := chat.NewController(GetSession(c), s.Store, c.Param("roomId"))
		defer ctrl.Close()
		if err := ctrl.Open(c.Request.Context()); err != nil {
			abortTalkError(c, err)
			return
		}
		if err := ctrl.Send(c.Request.Context(), in.Text); err != nil {
			abortTalkError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api.GET("/ws", write, func(c *gin.Context) {
		serveTalk(c, s)
	})
}

// serveTalk opens the room and then upgrades. The client gets
// {"type":"snapshot","messages":[...]} for every change of the room and
// {"type":"alert","message":...} for every failed send. The connection is
// closed with an alert once its session no longer grants the room.
func serveTalk(c *gin.Context, s *Services) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The connection outlives the request, so it follows a session of its
	// own fed from the cookie it was opened with.
	token, _ := c.Cookie(config.SESSION_COOKIE_NAME)
	hub := session.NewHub(sessionIdentity(token))
	sess := session.New(hub, s.Identities, s.Store, s.Config.AdminEmail)
	sess.Initialize(ctx)
	defer sess.Teardown()

	ctrl := chat.NewController(sess, s.Store, c.Param("roomId"))
	defer ctrl.Close()

	snapshots := make(chan []storage.Message, 1)
	disposeListener := ctrl.OnMessages(func(messages []storage.Message) {
		offerLatest(snapshots, messages)
	})
	defer disposeListener()

	if err := ctrl.Open(ctx); err != nil {
		abortTalkError(c, err)
		return
	}

	revoked := make(chan error, 1)
	disposeWatch := sess.Subscribe(func(state session.State) {
		if _, ok := state.(session.Authenticated); !ok {
			offerLatest(revoked, chat.ErrNotSignedIn)
		} else if !chat.CanAccess(state, ctrl.RoomID()) {
			offerLatest(revoked, chat.ErrAccessDenied)
		}
	})
	defer disposeWatch()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "room", ctrl.RoomID(), "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	alerts := make(chan string, 4)
	go func() {
		defer cancel()
		for {
			var in talkMessage
			if err := conn.ReadJSON(&in); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Debug("WebSocket read ended", "room", ctrl.RoomID(), "error", err)
				}
				return
			}
			if err := ctrl.Send(ctx, in.Text); err != nil {
				select {
				case alerts <- chat.Alert(err):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	interval := s.Config.TalkSessionRecheck
	if interval <= 0 {
		interval = wsSessionRecheck
	}
	recheck := time.NewTicker(interval)
	defer recheck.Stop()

	write := func(event gin.H) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
		return conn.WriteJSON(event)
	}
	closeWith := func(code int) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""),
			time.Now().Add(wsWriteDeadline))
	}

	for {
		var err error
		select {
		case <-ctx.Done():
			closeWith(websocket.CloseNormalClosure)
			return
		case messages := <-snapshots:
			if messages == nil {
				messages = []storage.Message{}
			}
			err = write(gin.H{"type": "snapshot", "messages": messages})
		case message := <-alerts:
			err = write(gin.H{"type": "alert", "message": message})
		case reason := <-revoked:
			slog.Info("Closing chat connection", "room", ctrl.RoomID(), "reason", reason)
			write(gin.H{"type": "alert", "message": chat.Alert(reason)})
			closeWith(websocket.ClosePolicyViolation)
			return
		case <-recheck.C:
			// Signing out revokes the cookie, and the claim may have changed.
			hub.Set(sessionIdentity(token))
		case <-ping.C:
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteDeadline))
		}
		if err != nil {
			slog.Debug("WebSocket write failed", "room", ctrl.RoomID(), "error", err)
			return
		}
	}
}
