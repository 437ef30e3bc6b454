package live

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/trendke/livehub/internal/core"
	"github.com/trendke/livehub/internal/domain"
	"github.com/trendke/livehub/internal/notify"
	"github.com/trendke/livehub/internal/protocol"
)

// Handler interprets inbound session actions, enforces authority rules and
// produces outbound events. Actions referencing a session or participant
// that no longer exists are dropped without a reply; moderation attempts by
// non-moderators are dropped the same way.
type Handler struct {
	registry *Registry
	notifier notify.Notifier
}

func NewHandler(registry *Registry, notifier notify.Notifier) *Handler {
	return &Handler{registry: registry, notifier: notifier}
}

func (h *Handler) Registry() *Registry { return h.registry }

// Join attaches the user's connection to the session and pushes the
// current roster back on it.
func (h *Handler) Join(sessionID string, user *domain.User, c core.Conn) error {
	res, err := h.registry.Join(sessionID, user, c)
	if err != nil {
		return err
	}
	if data, ok := protocol.Marshal(protocol.CurrentParticipants{
		Header:       protocol.NewHeader("current_participants"),
		Participants: res.Participants,
		ViewerCount:  res.ViewerCount,
	}); ok {
		if err := c.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "live.handler").Str("session", sessionID).Msg("roster push failed")
		}
	}
	h.notifier.Publish(context.Background(), "live.user_joined", map[string]any{
		"session_id": sessionID,
		"user_id":    user.ID,
	})
	return nil
}

// Leave detaches a participant, e.g. on socket close.
func (h *Handler) Leave(sessionID string, subject domain.UserID) {
	h.registry.Leave(sessionID, subject)
	h.notifier.Publish(context.Background(), "live.user_left", map[string]any{
		"session_id": sessionID,
		"user_id":    subject,
	})
}

// End tears the session down on behalf of the HTTP API.
func (h *Handler) End(sessionID string) error {
	err := h.registry.End(sessionID)
	if err == nil {
		h.notifier.Publish(context.Background(), "live.session_ended", map[string]any{
			"session_id": sessionID,
		})
	}
	return err
}

// Dispatch routes one decoded action from a session participant. The conn
// is the sender's own socket, used only for sender-scoped replies (pong
// and error events); everything else flows through the session.
func (h *Handler) Dispatch(sessionID string, from domain.UserID, c core.Conn, act protocol.Action) {
	switch a := act.(type) {
	case protocol.Ping:
		h.reply(c, protocol.Pong{Header: protocol.NewHeader("pong")})
	case protocol.Chat:
		h.chat(sessionID, from, a.Message)
	case protocol.Reaction:
		h.reaction(sessionID, from, a.Reaction)
	case protocol.RequestGuest:
		h.requestGuest(sessionID, from)
	case protocol.RespondGuest:
		h.respondGuest(sessionID, from, a)
	case protocol.ParticipantAction:
		h.participantAction(sessionID, from, a)
	case protocol.WebRTCSignal:
		h.signal(sessionID, from, a)
	case protocol.UpdateMediaStatus:
		h.updateMedia(sessionID, from, a)
	case protocol.JoinRoom, protocol.LeaveRoom, protocol.JoinVideo, protocol.LeaveVideo, protocol.RoomChat:
		// Room actions belong to the general-purpose socket.
		h.replyError(c, "action not supported on a live session socket")
	case protocol.Unknown:
		h.replyError(c, fmt.Sprintf("Unknown action: %s", a.Name))
	}
}

func (h *Handler) reply(c core.Conn, event any) {
	data, ok := protocol.Marshal(event)
	if !ok {
		return
	}
	if err := c.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "live.handler").Msg("reply send failed")
	}
}

func (h *Handler) replyError(c core.Conn, msg string) {
	h.reply(c, protocol.ErrorEvent{Header: protocol.NewHeader("error"), Message: msg})
}

// chat is stateless: any current participant, broadcast to all.
func (h *Handler) chat(sessionID string, from domain.UserID, text string) {
	if text == "" {
		return
	}
	_ = h.registry.update(sessionID, func(s *session) error {
		m, ok := s.get(from)
		if !ok {
			return nil
		}
		s.broadcast(protocol.ChatMessage{
			Header:   protocol.NewHeader("chat_message"),
			UserID:   from,
			Username: m.participant.User.DisplayName,
			Message:  text,
		}, "")
		return nil
	})
}

func (h *Handler) reaction(sessionID string, from domain.UserID, reaction string) {
	_ = h.registry.update(sessionID, func(s *session) error {
		m, ok := s.get(from)
		if !ok {
			return nil
		}
		s.broadcast(protocol.ReactionEvent{
			Header:   protocol.NewHeader("reaction"),
			UserID:   from,
			Username: m.participant.User.DisplayName,
			Reaction: reaction,
		}, "")
		return nil
	})
}

// requestGuest notifies the host and cohosts only; the pending request is
// not session state.
func (h *Handler) requestGuest(sessionID string, from domain.UserID) {
	_ = h.registry.update(sessionID, func(s *session) error {
		m, ok := s.get(from)
		if !ok {
			return nil
		}
		s.sendToModerators(protocol.GuestRequest{
			Header:   protocol.NewHeader("guest_request"),
			UserID:   from,
			Username: m.participant.User.DisplayName,
		})
		return nil
	})
}

func (h *Handler) respondGuest(sessionID string, from domain.UserID, a protocol.RespondGuest) {
	_ = h.registry.update(sessionID, func(s *session) error {
		approver, ok := s.get(from)
		if !ok || !approver.participant.Role.Moderator() {
			return nil
		}
		target, ok := s.get(a.TargetUserID)
		if !ok {
			return nil
		}

		if !a.Approved {
			s.sendTo(a.TargetUserID, protocol.GuestRejected{
				Header:     protocol.NewHeader("guest_rejected"),
				RejectedBy: approver.participant.User.DisplayName,
			})
			return nil
		}

		target.participant.Role = domain.RoleGuest
		target.participant.VideoEnabled = true
		s.sendTo(a.TargetUserID, protocol.GuestApproved{
			Header:     protocol.NewHeader("guest_approved"),
			ApprovedBy: approver.participant.User.DisplayName,
		})
		s.broadcast(protocol.GuestJoined{
			Header:   protocol.NewHeader("guest_joined"),
			UserID:   a.TargetUserID,
			Username: target.participant.User.DisplayName,
		}, "")
		return nil
	})
}

func (h *Handler) participantAction(sessionID string, from domain.UserID, a protocol.ParticipantAction) {
	var kicked core.Conn
	_ = h.registry.update(sessionID, func(s *session) error {
		actor, ok := s.get(from)
		if !ok || !actor.participant.Role.Moderator() {
			return nil
		}
		target, ok := s.get(a.TargetUserID)
		if !ok {
			return nil
		}
		by := actor.participant.User.DisplayName

		switch a.ActionType {
		case protocol.ActionMuteAudio:
			target.participant.AudioEnabled = false
			s.sendTo(a.TargetUserID, protocol.ForceMuteAudio{
				Header: protocol.NewHeader("force_mute_audio"),
				By:     by,
			})
			s.broadcast(protocol.ParticipantAudioChanged{
				Header: protocol.NewHeader("participant_audio_changed"),
				UserID: a.TargetUserID,
			}, "")

		case protocol.ActionMuteVideo:
			target.participant.VideoEnabled = false
			s.sendTo(a.TargetUserID, protocol.ForceMuteVideo{
				Header: protocol.NewHeader("force_mute_video"),
				By:     by,
			})
			s.broadcast(protocol.ParticipantVideoChanged{
				Header: protocol.NewHeader("participant_video_changed"),
				UserID: a.TargetUserID,
			}, "")

		case protocol.ActionKick:
			reason := a.Reason
			if reason == "" {
				reason = "Removed by host"
			}
			s.sendTo(a.TargetUserID, protocol.Kicked{
				Header: protocol.NewHeader("kicked"),
				By:     by,
				Reason: reason,
			})
			kicked = target.conn
			delete(s.participants, a.TargetUserID)
			s.broadcast(protocol.UserLeft{
				Header:      protocol.NewHeader("user_left"),
				UserID:      a.TargetUserID,
				Username:    target.participant.User.DisplayName,
				ViewerCount: s.count(),
			}, a.TargetUserID)
			log.Info().Str("module", "live.handler").Str("session", sessionID).Str("user", string(a.TargetUserID)).Str("by", string(from)).Msg("participant kicked")

		case protocol.ActionPromote:
			newRole := a.NewRole
			if newRole == "" {
				newRole = domain.RoleCohost
			}
			if !newRole.Valid() || newRole == domain.RoleHost {
				return nil
			}
			target.participant.Role = newRole
			s.sendTo(a.TargetUserID, protocol.Promoted{
				Header:  protocol.NewHeader("promoted"),
				NewRole: newRole,
				By:      by,
			})
			s.broadcast(protocol.ParticipantRoleChanged{
				Header:  protocol.NewHeader("participant_role_changed"),
				UserID:  a.TargetUserID,
				NewRole: newRole,
			}, "")
		}
		return nil
	})

	if kicked != nil {
		kicked.Close()
	}
}

// signal is a pure relay: targeted to one subject, or fanned out to every
// other signaling peer when the target is "all". Payloads stay opaque.
func (h *Handler) signal(sessionID string, from domain.UserID, a protocol.WebRTCSignal) {
	_ = h.registry.update(sessionID, func(s *session) error {
		if _, ok := s.get(from); !ok {
			return nil
		}
		event := protocol.WebRTCSignalEvent{
			Header:     protocol.NewHeader("webrtc_signal"),
			SignalType: a.SignalType,
			FromUserID: from,
			SignalData: a.SignalData,
		}
		if a.ToUserID == protocol.SignalTargetAll {
			for _, peer := range s.signalingPeers() {
				if peer == from {
					continue
				}
				s.sendTo(peer, event)
			}
			return nil
		}
		s.sendTo(domain.UserID(a.ToUserID), event)
		return nil
	})
}

// updateMedia lets a participant flip their own audio/video flags.
func (h *Handler) updateMedia(sessionID string, from domain.UserID, a protocol.UpdateMediaStatus) {
	_ = h.registry.update(sessionID, func(s *session) error {
		m, ok := s.get(from)
		if !ok {
			return nil
		}
		if a.AudioEnabled != nil {
			m.participant.AudioEnabled = *a.AudioEnabled
		}
		if a.VideoEnabled != nil {
			m.participant.VideoEnabled = *a.VideoEnabled
		}
		s.broadcast(protocol.ParticipantMediaChanged{
			Header:       protocol.NewHeader("participant_media_changed"),
			UserID:       from,
			AudioEnabled: a.AudioEnabled,
			VideoEnabled: a.VideoEnabled,
		}, "")
		return nil
	})
}
