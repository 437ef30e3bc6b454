package domain

import "time"

type Role string

const (
	RoleHost   Role = "host"
	RoleCohost Role = "cohost"
	RoleGuest  Role = "guest"
	RoleViewer Role = "viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleCohost, RoleGuest, RoleViewer:
		return true
	}
	return false
}

// Moderator roles may mute, kick, promote and answer guest requests.
func (r Role) Moderator() bool {
	return r == RoleHost || r == RoleCohost
}

// SignalingPeer reports whether the role takes part in connection
// negotiation. Derived from the role on every call, never stored.
func (r Role) SignalingPeer() bool {
	return r != RoleViewer
}

// Participant represents a user's membership within one live session.
// Owned by the session's participant map; the connection is referenced,
// not owned.
type Participant struct {
	User         *User
	Role         Role
	AudioEnabled bool
	VideoEnabled bool
	JoinedAt     time.Time
}

func NewParticipant(user *User, role Role) *Participant {
	return &Participant{
		User:         user,
		Role:         role,
		AudioEnabled: true,
		VideoEnabled: role != RoleViewer,
		JoinedAt:     time.Now(),
	}
}

// ParticipantInfo is the wire-facing roster entry.
type ParticipantInfo struct {
	UserID       UserID `json:"user_id"`
	Username     string `json:"username"`
	Role         Role   `json:"role"`
	AudioEnabled bool   `json:"audio_enabled"`
	VideoEnabled bool   `json:"video_enabled"`
}

func (p *Participant) Info() ParticipantInfo {
	return ParticipantInfo{
		UserID:       p.User.ID,
		Username:     p.User.DisplayName,
		Role:         p.Role,
		AudioEnabled: p.AudioEnabled,
		VideoEnabled: p.VideoEnabled,
	}
}
