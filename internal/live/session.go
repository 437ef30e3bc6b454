// Package live owns the in-memory state of active live sessions and the
// protocol handler that drives it. Each session carries its own lock, so
// actions within a session are linearized while sessions never contend
// with each other.
package live

import (
	"sync"
	"time"

	"github.com/trendke/livehub/internal/core"
	"github.com/trendke/livehub/internal/domain"
	"github.com/trendke/livehub/internal/protocol"
)

// member pairs a participant record with the connection used to reach it.
// The connection is referenced, not owned: the registry that accepted it
// stays responsible for its lifecycle, except for the forced close on kick
// and session end.
type member struct {
	participant *domain.Participant
	conn        core.Conn
}

type session struct {
	id        string
	hostID    domain.UserID
	createdAt time.Time

	mu           sync.Mutex
	closed       bool
	participants map[domain.UserID]*member
	// dead collects subjects whose connection failed during the op in
	// flight; drained by the registry after the lock is released.
	dead []domain.UserID
}

func newSession(id string, host *domain.User) *session {
	s := &session{
		id:           id,
		hostID:       host.ID,
		createdAt:    time.Now(),
		participants: make(map[domain.UserID]*member),
	}
	p := domain.NewParticipant(host, domain.RoleHost)
	s.participants[host.ID] = &member{participant: p}
	return s
}

// All methods below assume s.mu is held.

func (s *session) get(subject domain.UserID) (*member, bool) {
	m, ok := s.participants[subject]
	return m, ok
}

func (s *session) count() int {
	return len(s.participants)
}

// roster snapshots every participant except the excluded subject.
func (s *session) roster(exclude domain.UserID) []domain.ParticipantInfo {
	out := make([]domain.ParticipantInfo, 0, len(s.participants))
	for subject, m := range s.participants {
		if subject == exclude {
			continue
		}
		out = append(out, m.participant.Info())
	}
	return out
}

// signalingPeers derives the peer set from roles on every call.
func (s *session) signalingPeers() []domain.UserID {
	out := make([]domain.UserID, 0, len(s.participants))
	for subject, m := range s.participants {
		if m.participant.Role.SignalingPeer() {
			out = append(out, subject)
		}
	}
	return out
}

// broadcast fans an event out to every participant except the excluded
// subject. Failed connections are recorded for cleanup, never surfaced.
func (s *session) broadcast(event any, exclude domain.UserID) {
	data, ok := protocol.Marshal(event)
	if !ok {
		return
	}
	for subject, m := range s.participants {
		if subject == exclude || m.conn == nil {
			continue
		}
		if err := m.conn.TrySend(data); err != nil {
			s.dead = append(s.dead, subject)
		}
	}
}

// sendTo delivers an event to a single participant.
func (s *session) sendTo(subject domain.UserID, event any) {
	m, ok := s.participants[subject]
	if !ok || m.conn == nil {
		return
	}
	data, ok := protocol.Marshal(event)
	if !ok {
		return
	}
	if err := m.conn.TrySend(data); err != nil {
		s.dead = append(s.dead, subject)
	}
}

// sendToModerators delivers an event to the host and every cohost.
func (s *session) sendToModerators(event any) {
	for subject, m := range s.participants {
		if m.participant.Role.Moderator() {
			s.sendTo(subject, event)
		}
	}
}
