package live

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trendke/livehub/internal/core"
	"github.com/trendke/livehub/internal/domain"
	"github.com/trendke/livehub/internal/protocol"
)

// Registry is the authoritative in-memory state of all active sessions.
// Its own lock only guards the session map; every mutation of a session's
// participants happens under that session's lock. No code path acquires
// two session locks, so sessions can never deadlock against each other.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session)}
}

// JoinResult is what a joiner needs to render its own roster.
type JoinResult struct {
	ViewerCount  int
	Participants []domain.ParticipantInfo
}

// SessionSummary is the read-only listing entry for a session.
type SessionSummary struct {
	SessionID   string        `json:"session_id"`
	HostID      domain.UserID `json:"host_id"`
	ViewerCount int           `json:"viewer_count"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Create registers a new session with the host as its sole participant,
// role host, both media flags on. The host's connection is attached when
// its socket joins.
func (r *Registry) Create(sessionID string, host *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; ok {
		return domain.ErrSessionExists
	}
	r.sessions[sessionID] = newSession(sessionID, host)
	log.Info().Str("module", "live.registry").Str("session", sessionID).Str("host", string(host.ID)).Msg("session created")
	return nil
}

func (r *Registry) get(sessionID string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// update runs fn with the session lock held, then performs the deferred
// cleanup that must not happen under the lock: pruning participants whose
// connection died during fn's sends, and deleting the session if fn left
// it empty.
func (r *Registry) update(sessionID string, fn func(s *session) error) error {
	s, ok := r.get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	err := fn(s)
	dead := s.dead
	s.dead = nil
	empty := len(s.participants) == 0
	s.mu.Unlock()

	for _, subject := range dead {
		log.Warn().Str("module", "live.registry").Str("session", sessionID).Str("user", string(subject)).Msg("dropping unreachable participant")
		r.Leave(sessionID, subject)
	}
	if empty {
		r.deleteIfEmpty(sessionID)
	}
	return err
}

// deleteIfEmpty removes the session entry the moment its participant set
// is empty. Rechecked under both locks so a concurrent join wins the race
// cleanly on either side.
func (r *Registry) deleteIfEmpty(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	s.mu.Lock()
	if len(s.participants) == 0 && !s.closed {
		s.closed = true
		delete(r.sessions, sessionID)
		log.Info().Str("module", "live.registry").Str("session", sessionID).Msg("empty session removed")
	}
	s.mu.Unlock()
}

// Join adds the user as a viewer, or refreshes the connection of a
// returning participant (the host reconnecting keeps role host). It
// broadcasts user_joined to everyone else and returns the roster snapshot
// for the joiner.
func (r *Registry) Join(sessionID string, user *domain.User, c core.Conn) (JoinResult, error) {
	var res JoinResult
	err := r.update(sessionID, func(s *session) error {
		m, ok := s.get(user.ID)
		if ok {
			// Reconnect: keep role and media state, swap the conn.
			m.conn = c
			m.participant.User.DisplayName = user.DisplayName
		} else {
			role := domain.RoleViewer
			if user.ID == s.hostID {
				role = domain.RoleHost
			}
			m = &member{participant: domain.NewParticipant(user, role), conn: c}
			s.participants[user.ID] = m
		}

		s.broadcast(protocol.UserJoined{
			Header:      protocol.NewHeader("user_joined"),
			UserID:      user.ID,
			Username:    user.DisplayName,
			Role:        m.participant.Role,
			ViewerCount: s.count(),
		}, user.ID)

		res = JoinResult{
			ViewerCount:  s.count(),
			Participants: s.roster(user.ID),
		}
		return nil
	})
	if err != nil {
		return JoinResult{}, err
	}
	log.Info().Str("module", "live.registry").Str("session", sessionID).Str("user", string(user.ID)).Msg("participant joined")
	return res, nil
}

// Leave removes the participant and tells the rest. A no-op when the
// session or the participant is already gone.
func (r *Registry) Leave(sessionID string, subject domain.UserID) {
	_ = r.update(sessionID, func(s *session) error {
		m, ok := s.get(subject)
		if !ok {
			return nil
		}
		delete(s.participants, subject)
		s.broadcast(protocol.UserLeft{
			Header:      protocol.NewHeader("user_left"),
			UserID:      subject,
			Username:    m.participant.User.DisplayName,
			ViewerCount: s.count(),
		}, subject)
		log.Info().Str("module", "live.registry").Str("session", sessionID).Str("user", string(subject)).Msg("participant left")
		return nil
	})
}

// End broadcasts session_ended, force-closes every participant connection
// and removes the session. The second of two racing ends reports
// ErrSessionNotFound; callers treat it as best-effort cleanup.
func (r *Registry) End(sessionID string) error {
	s, ok := r.get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	s.closed = true
	s.broadcast(protocol.SessionEnded{
		Header:  protocol.NewHeader("session_ended"),
		Message: "The live session has ended",
	}, "")
	conns := make([]core.Conn, 0, len(s.participants))
	for _, m := range s.participants {
		if m.conn != nil {
			conns = append(conns, m.conn)
		}
	}
	s.participants = make(map[domain.UserID]*member)
	s.dead = nil
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	log.Info().Str("module", "live.registry").Str("session", sessionID).Msg("session ended")
	return nil
}

// ViewerCount counts all participants; viewers are participants too.
func (r *Registry) ViewerCount(sessionID string) int {
	s, ok := r.get(sessionID)
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count()
}

// Roster snapshots the full participant list of a session.
func (r *Registry) Roster(sessionID string) []domain.ParticipantInfo {
	s, ok := r.get(sessionID)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster("")
}

// Has reports whether a session currently exists.
func (r *Registry) Has(sessionID string) bool {
	_, ok := r.get(sessionID)
	return ok
}

// ActiveSessions lists all current sessions.
func (r *Registry) ActiveSessions() []SessionSummary {
	r.mu.RLock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		out = append(out, SessionSummary{
			SessionID:   s.id,
			HostID:      s.hostID,
			ViewerCount: s.count(),
			CreatedAt:   s.createdAt,
		})
		s.mu.Unlock()
	}
	return out
}
