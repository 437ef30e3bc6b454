// Package protocol defines the wire envelope: inbound actions decoded into
// a closed set of variants and outbound events stamped with a type and
// timestamp. Payloads of signaling messages stay opaque.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/trendke/livehub/internal/domain"
)

// Action is the closed set of inbound messages. Every recognized action
// name decodes to exactly one variant; anything else decodes to Unknown.
type Action interface {
	isAction()
}

type Ping struct{}

type JoinRoom struct {
	Room string `json:"room"`
}

type LeaveRoom struct {
	Room string `json:"room"`
}

type JoinVideo struct {
	VideoID string `json:"video_id"`
}

type LeaveVideo struct {
	VideoID string `json:"video_id"`
}

// RoomChat is room-scoped chat on the general-purpose socket.
type RoomChat struct {
	Room    string `json:"room"`
	Message string `json:"message"`
}

type Chat struct {
	Message string `json:"message"`
}

type Reaction struct {
	Reaction string `json:"reaction"`
}

type RequestGuest struct{}

type RespondGuest struct {
	TargetUserID domain.UserID `json:"target_user_id"`
	Approved     bool          `json:"approved"`
}

const (
	ActionMuteAudio = "mute_audio"
	ActionMuteVideo = "mute_video"
	ActionKick      = "kick"
	ActionPromote   = "promote"
)

type ParticipantAction struct {
	TargetUserID domain.UserID `json:"target_user_id"`
	ActionType   string        `json:"action_type"`
	NewRole      domain.Role   `json:"new_role,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}

// SignalTargetAll fans a signal out to every other signaling peer.
const SignalTargetAll = "all"

type WebRTCSignal struct {
	ToUserID   string          `json:"to_user_id"`
	SignalType string          `json:"signal_type"`
	SignalData json.RawMessage `json:"signal_data"`
}

type UpdateMediaStatus struct {
	AudioEnabled *bool `json:"audio_enabled"`
	VideoEnabled *bool `json:"video_enabled"`
}

// Unknown is the explicit error variant for unrecognized action names.
type Unknown struct {
	Name string
}

func (Ping) isAction()              {}
func (JoinRoom) isAction()          {}
func (LeaveRoom) isAction()         {}
func (JoinVideo) isAction()         {}
func (LeaveVideo) isAction()        {}
func (RoomChat) isAction()          {}
func (Chat) isAction()              {}
func (Reaction) isAction()          {}
func (RequestGuest) isAction()      {}
func (RespondGuest) isAction()      {}
func (ParticipantAction) isAction() {}
func (WebRTCSignal) isAction()      {}
func (UpdateMediaStatus) isAction() {}
func (Unknown) isAction()           {}

// Decode parses an inbound envelope {"action": ...} into its variant.
// A malformed frame is an error; an unrecognized action is not, it is the
// Unknown variant so the dispatcher can answer with a scoped error event.
func Decode(data []byte) (Action, error) {
	var env struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Action {
	case "ping":
		return Ping{}, nil
	case "join_room":
		return decodeAs[JoinRoom](data, env.Action)
	case "leave_room":
		return decodeAs[LeaveRoom](data, env.Action)
	case "join_video":
		return decodeAs[JoinVideo](data, env.Action)
	case "leave_video":
		return decodeAs[LeaveVideo](data, env.Action)
	case "chat_message":
		return decodeAs[RoomChat](data, env.Action)
	case "chat":
		return decodeAs[Chat](data, env.Action)
	case "reaction":
		return decodeAs[Reaction](data, env.Action)
	case "request_guest":
		return RequestGuest{}, nil
	case "respond_guest":
		return decodeAs[RespondGuest](data, env.Action)
	case "participant_action":
		return decodeAs[ParticipantAction](data, env.Action)
	case "webrtc_signal":
		act, err := decodeAs[WebRTCSignal](data, env.Action)
		if err != nil {
			return nil, err
		}
		sig := act.(WebRTCSignal)
		if sig.ToUserID == "" {
			sig.ToUserID = SignalTargetAll
		}
		return sig, nil
	case "update_media_status":
		return decodeAs[UpdateMediaStatus](data, env.Action)
	default:
		return Unknown{Name: env.Action}, nil
	}
}

func decodeAs[T Action](data []byte, name string) (Action, error) {
	var a T
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode %q payload: %w", name, err)
	}
	return a, nil
}
