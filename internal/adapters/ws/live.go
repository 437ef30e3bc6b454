package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/trendke/livehub/internal/domain"
	"github.com/trendke/livehub/internal/protocol"
)

// HandleLive serves the live session socket. The token and display name
// are verified before the participant touches any session state; after the
// join, every decoded frame goes through the session protocol handler.
func (ctl *Controller) HandleLive(ctx context.Context, c *gin.Context) {
	sessionID := c.Param("session_id")

	sock, ok := ctl.upgrade(c)
	if !ok {
		return
	}

	subject, err := ctl.verifier.Verify(c.Query("token"))
	if err != nil {
		log.Warn().Err(err).Str("module", "ws.live").Str("session", sessionID).Msg("authentication failed")
		refuse(sock, "authentication failed")
		return
	}
	user, err := domain.NewUser(subject, c.Query("username"))
	if err != nil {
		refuse(sock, "invalid credentials")
		return
	}

	conn := newWSConn(sock, ctl.cfg.SendBuffer, ctl.cfg.WriteTimeout, ctl.cfg.PingPeriod)

	// The write pump starts only after a successful join; the roster push
	// queued during Join sits in the send buffer until then.
	if err := ctl.live.Join(sessionID, user, conn); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			refuse(sock, "session not found")
			return
		}
		refuse(sock, "join failed")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	go conn.writePump(ctx)
	log.Info().Str("module", "ws.live").Str("session", sessionID).Str("user", string(subject)).Msg("joined live session")

	// Leave must fire exactly once even when a network error races an
	// explicit close.
	var cleanup sync.Once
	teardown := func() {
		cleanup.Do(func() {
			cancel()
			conn.Close()
			ctl.live.Leave(sessionID, subject)
			ctl.limiter.Forget(subject)
			log.Info().Str("module", "ws.live").Str("session", sessionID).Str("user", string(subject)).Msg("left live session")
		})
	}

	go func() {
		defer teardown()
		conn.readPump(ctx, func(data []byte) {
			ctl.handleLiveFrame(sessionID, subject, conn, data)
		})
	}()
}

func (ctl *Controller) handleLiveFrame(sessionID string, subject domain.UserID, conn *wsConn, data []byte) {
	act, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "ws.live").Str("user", string(subject)).Msg("bad frame")
		ctl.sendError(conn, "malformed message")
		return
	}

	if _, isChat := act.(protocol.Chat); isChat && !ctl.limiter.Allow(subject) {
		ctl.sendError(conn, "rate limit exceeded, slow down")
		return
	}

	ctl.live.Dispatch(sessionID, subject, conn, act)
}
