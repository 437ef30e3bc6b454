package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/trendke/livehub/internal/auth"
	"github.com/trendke/livehub/internal/config"
	"github.com/trendke/livehub/internal/core"
	"github.com/trendke/livehub/internal/live"
	"github.com/trendke/livehub/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller serves both socket endpoints: the general-purpose one
// (rooms, video presence, pings) and the live session one.
type Controller struct {
	cfg      *config.Config
	verifier *auth.Verifier
	conns    *core.ConnectionRegistry
	rooms    *core.RoomDirectory
	live     *live.Handler
	limiter  *chatRateLimiter
}

func NewController(cfg *config.Config, verifier *auth.Verifier, conns *core.ConnectionRegistry, rooms *core.RoomDirectory, liveHandler *live.Handler) *Controller {
	return &Controller{
		cfg:      cfg,
		verifier: verifier,
		conns:    conns,
		rooms:    rooms,
		live:     liveHandler,
		limiter:  newChatRateLimiter(cfg.ChatRateLimit, cfg.ChatRateWindow),
	}
}

func (ctl *Controller) upgrade(c *gin.Context) (*websocket.Conn, bool) {
	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("upgrade failed")
		return nil, false
	}
	sock.SetReadLimit(ctl.cfg.ReadLimit)
	return sock, true
}

func (ctl *Controller) sendEvent(conn *wsConn, event any) {
	data, ok := protocol.Marshal(event)
	if !ok {
		return
	}
	if err := conn.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "ws").Msg("event send failed")
	}
}

func (ctl *Controller) sendError(conn *wsConn, msg string) {
	ctl.sendEvent(conn, protocol.ErrorEvent{Header: protocol.NewHeader("error"), Message: msg})
}
