// Package http wires the gin router: both socket endpoints, the session
// lifecycle API and the read-only query surface computed straight from
// registry state.
package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/trendke/livehub/internal/adapters/ws"
	"github.com/trendke/livehub/internal/auth"
	"github.com/trendke/livehub/internal/config"
	"github.com/trendke/livehub/internal/core"
	"github.com/trendke/livehub/internal/domain"
	"github.com/trendke/livehub/internal/live"
)

type Deps struct {
	Cfg      *config.Config
	Verifier *auth.Verifier
	Conns    *core.ConnectionRegistry
	Rooms    *core.RoomDirectory
	Live     *live.Handler
	WS       *ws.Controller
}

// bearerAuth resolves the Authorization header to a subject id.
func bearerAuth(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		subject, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}
		c.Set("subject", string(subject))
		c.Next()
	}
}

func SetupRouter(ctx context.Context, deps Deps) *gin.Engine {
	if deps.Cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if deps.Cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/ws/connect", func(c *gin.Context) {
		deps.WS.HandleConnect(ctx, c)
	})
	r.GET("/ws/live/:session_id", func(c *gin.Context) {
		deps.WS.HandleLive(ctx, c)
	})

	api := r.Group("/api")

	authed := api.Group("/live", bearerAuth(deps.Verifier))
	authed.POST("/start", startSession(deps.Live))
	authed.POST("/:session_id/end", endSession(deps.Live))

	api.GET("/live/active", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": deps.Live.Registry().ActiveSessions()})
	})
	api.GET("/live/:session_id/stats", func(c *gin.Context) {
		sessionID := c.Param("session_id")
		if !deps.Live.Registry().Has(sessionID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id":   sessionID,
			"viewer_count": deps.Live.Registry().ViewerCount(sessionID),
			"participants": deps.Live.Registry().Roster(sessionID),
		})
	})

	api.POST("/notify/:user_id", bearerAuth(deps.Verifier), notifyUser(deps.Conns))

	api.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"online_users":      deps.Conns.OnlineCount(),
			"total_connections": deps.Conns.ConnectionCount(),
			"active_rooms":      deps.Rooms.RoomCount(),
		})
	})
	api.GET("/rooms/:room/members", func(c *gin.Context) {
		room := c.Param("room")
		members := deps.Rooms.Members(room)
		c.JSON(http.StatusOK, gin.H{
			"room":       room,
			"user_count": len(members),
			"users":      members,
		})
	})
	api.GET("/videos/:video_id/viewers", func(c *gin.Context) {
		videoID := c.Param("video_id")
		c.JSON(http.StatusOK, gin.H{
			"video_id":     videoID,
			"viewer_count": deps.Rooms.MemberCount("video:" + videoID),
		})
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

type startSessionRequest struct {
	Title    string `json:"title" binding:"required,max=120"`
	HostName string `json:"host_name" binding:"required,max=36"`
}

func startSession(handler *live.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req startSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid fields"})
			return
		}
		hostID := domain.UserID(c.GetString("subject"))
		host, err := domain.NewUser(hostID, req.HostName)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sessionID := uuid.NewString()
		if err := handler.Registry().Create(sessionID, host); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "session already exists"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"session_id": sessionID,
			"host_id":    hostID,
			"title":      req.Title,
		})
	}
}

type notifyRequest struct {
	NotificationType string         `json:"notification_type" binding:"required,max=64"`
	Data             map[string]any `json:"data"`
}

// notifyUser pushes a notification frame to every open connection of a
// subject. Offline subjects are not an error; the frame is simply dropped.
func notifyUser(conns *core.ConnectionRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req notifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid fields"})
			return
		}
		target := domain.UserID(c.Param("user_id"))
		delivered := conns.SubjectConnectionCount(target) > 0
		conns.Notify(target, req.NotificationType, req.Data)
		c.JSON(http.StatusOK, gin.H{
			"status":    "success",
			"user_id":   target,
			"delivered": delivered,
		})
	}
}

// endSession is best-effort cleanup: an already-gone session is logged,
// not surfaced.
func endSession(handler *live.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("session_id")
		if err := handler.End(sessionID); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Str("session", sessionID).Msg("end session")
		}
		c.JSON(http.StatusOK, gin.H{
			"status":     "success",
			"session_id": sessionID,
		})
	}
}
