package ws

import (
	"context"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/trendke/livehub/internal/domain"
	"github.com/trendke/livehub/internal/protocol"
)

// videoRoom maps a video id onto the room namespace used for viewer
// presence counting.
func videoRoom(videoID string) string {
	return "video:" + videoID
}

// HandleConnect serves the general-purpose socket: generic rooms, video
// viewer presence and room chat. The connection is refused before any
// registration when the token does not verify.
func (ctl *Controller) HandleConnect(ctx context.Context, c *gin.Context) {
	sock, ok := ctl.upgrade(c)
	if !ok {
		return
	}

	subject, err := ctl.verifier.Verify(c.Query("token"))
	if err != nil {
		log.Warn().Err(err).Str("module", "ws.connect").Msg("authentication failed")
		refuse(sock, "authentication failed")
		return
	}

	conn := newWSConn(sock, ctl.cfg.SendBuffer, ctl.cfg.WriteTimeout, ctl.cfg.PingPeriod)
	connID := ctl.conns.Register(subject, conn)

	ctx, cancel := context.WithCancel(ctx)
	var cleanup sync.Once
	teardown := func() {
		cleanup.Do(func() {
			cancel()
			conn.Close()
			ctl.conns.Unregister(subject, connID)
			if ctl.conns.SubjectConnectionCount(subject) == 0 {
				ctl.rooms.LeaveAll(subject)
				ctl.limiter.Forget(subject)
			}
			log.Info().Str("module", "ws.connect").Str("user", string(subject)).Str("conn", connID).Msg("socket closed")
		})
	}

	go conn.writePump(ctx)
	go func() {
		defer teardown()
		conn.readPump(ctx, func(data []byte) {
			ctl.handleConnectFrame(subject, conn, data)
		})
	}()
}

func (ctl *Controller) handleConnectFrame(subject domain.UserID, conn *wsConn, data []byte) {
	act, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "ws.connect").Str("user", string(subject)).Msg("bad frame")
		ctl.sendError(conn, "malformed message")
		return
	}

	switch a := act.(type) {
	case protocol.Ping:
		ctl.sendEvent(conn, protocol.Pong{Header: protocol.NewHeader("pong")})

	case protocol.JoinRoom:
		if a.Room == "" {
			return
		}
		ctl.rooms.Join(subject, a.Room)
		ctl.sendEvent(conn, protocol.RoomJoined{Header: protocol.NewHeader("room_joined"), Room: a.Room})

	case protocol.LeaveRoom:
		if a.Room == "" {
			return
		}
		ctl.rooms.Leave(subject, a.Room)
		ctl.sendEvent(conn, protocol.RoomLeft{Header: protocol.NewHeader("room_left"), Room: a.Room})

	case protocol.JoinVideo:
		if a.VideoID == "" {
			return
		}
		ctl.rooms.Join(subject, videoRoom(a.VideoID))
		ctl.broadcastViewerCount(a.VideoID)

	case protocol.LeaveVideo:
		if a.VideoID == "" {
			return
		}
		ctl.rooms.Leave(subject, videoRoom(a.VideoID))
		ctl.broadcastViewerCount(a.VideoID)

	case protocol.RoomChat:
		if a.Room == "" || a.Message == "" {
			return
		}
		if !ctl.limiter.Allow(subject) {
			ctl.sendError(conn, "rate limit exceeded, slow down")
			return
		}
		event := protocol.ChatMessage{
			Header:  protocol.NewHeader("chat_message"),
			Room:    a.Room,
			UserID:  subject,
			Message: a.Message,
		}
		if data, ok := protocol.Marshal(event); ok {
			ctl.rooms.BroadcastToRoom(a.Room, data, "")
		}

	case protocol.Chat, protocol.Reaction, protocol.RequestGuest, protocol.RespondGuest,
		protocol.ParticipantAction, protocol.WebRTCSignal, protocol.UpdateMediaStatus:
		ctl.sendError(conn, "action requires a live session socket")

	case protocol.Unknown:
		ctl.sendError(conn, fmt.Sprintf("Unknown action: %s", a.Name))
	}
}

// broadcastViewerCount pushes the current viewer count to everyone still
// watching the video.
func (ctl *Controller) broadcastViewerCount(videoID string) {
	count := ctl.rooms.MemberCount(videoRoom(videoID))
	if count == 0 {
		return
	}
	event := protocol.ViewerUpdate{
		Header:      protocol.NewHeader("viewer_update"),
		VideoID:     videoID,
		ViewerCount: count,
	}
	if data, ok := protocol.Marshal(event); ok {
		ctl.rooms.BroadcastToRoom(videoRoom(videoID), data, "")
	}
}
