package protocol

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trendke/livehub/internal/domain"
)

// Header is embedded in every outbound event.
type Header struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

func NewHeader(eventType string) Header {
	return Header{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

type ConnectionEstablished struct {
	Header
	UserID       domain.UserID `json:"user_id"`
	ConnectionID string        `json:"connection_id"`
}

type Pong struct {
	Header
}

type RoomJoined struct {
	Header
	Room string `json:"room"`
}

type RoomLeft struct {
	Header
	Room string `json:"room"`
}

// ViewerUpdate carries the live viewer count of a video room.
type ViewerUpdate struct {
	Header
	VideoID     string `json:"video_id"`
	ViewerCount int    `json:"viewer_count"`
}

type ChatMessage struct {
	Header
	Room     string        `json:"room,omitempty"`
	UserID   domain.UserID `json:"user_id"`
	Username string        `json:"username,omitempty"`
	Message  string        `json:"message"`
}

type ReactionEvent struct {
	Header
	UserID   domain.UserID `json:"user_id"`
	Username string        `json:"username"`
	Reaction string        `json:"reaction"`
}

type GuestRequest struct {
	Header
	UserID   domain.UserID `json:"user_id"`
	Username string        `json:"username"`
}

type GuestApproved struct {
	Header
	ApprovedBy string `json:"approved_by"`
}

type GuestRejected struct {
	Header
	RejectedBy string `json:"rejected_by"`
}

type GuestJoined struct {
	Header
	UserID   domain.UserID `json:"user_id"`
	Username string        `json:"username"`
}

type UserJoined struct {
	Header
	UserID      domain.UserID `json:"user_id"`
	Username    string        `json:"username"`
	Role        domain.Role   `json:"role"`
	ViewerCount int           `json:"viewer_count"`
}

type UserLeft struct {
	Header
	UserID      domain.UserID `json:"user_id"`
	Username    string        `json:"username"`
	ViewerCount int           `json:"viewer_count"`
}

type CurrentParticipants struct {
	Header
	Participants []domain.ParticipantInfo `json:"participants"`
	ViewerCount  int                      `json:"viewer_count"`
}

type ParticipantAudioChanged struct {
	Header
	UserID       domain.UserID `json:"user_id"`
	AudioEnabled bool          `json:"audio_enabled"`
}

type ParticipantVideoChanged struct {
	Header
	UserID       domain.UserID `json:"user_id"`
	VideoEnabled bool          `json:"video_enabled"`
}

type ParticipantMediaChanged struct {
	Header
	UserID       domain.UserID `json:"user_id"`
	AudioEnabled *bool         `json:"audio_enabled,omitempty"`
	VideoEnabled *bool         `json:"video_enabled,omitempty"`
}

type ParticipantRoleChanged struct {
	Header
	UserID  domain.UserID `json:"user_id"`
	NewRole domain.Role   `json:"new_role"`
}

type ForceMuteAudio struct {
	Header
	By string `json:"by"`
}

type ForceMuteVideo struct {
	Header
	By string `json:"by"`
}

type Kicked struct {
	Header
	By     string `json:"by"`
	Reason string `json:"reason"`
}

type Promoted struct {
	Header
	NewRole domain.Role `json:"new_role"`
	By      string      `json:"by"`
}

type WebRTCSignalEvent struct {
	Header
	SignalType string          `json:"signal_type"`
	FromUserID domain.UserID   `json:"from_user_id"`
	SignalData json.RawMessage `json:"signal_data"`
}

type SessionEnded struct {
	Header
	Message string `json:"message"`
}

type ErrorEvent struct {
	Header
	Message string `json:"message"`
}

type Notification struct {
	Header
	NotificationType string `json:"notification_type"`
	Data             any    `json:"data"`
}

// Marshal encodes an outbound event, logging instead of failing: a frame
// that cannot be encoded is dropped like any other transport failure.
func Marshal(event any) ([]byte, bool) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("module", "protocol").Msg("marshal event")
		return nil, false
	}
	return data, true
}
