package core

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/trendke/livehub/internal/domain"
	"github.com/trendke/livehub/internal/protocol"
)

// ConnectionRegistry tracks every live connection per subject. A subject
// may hold several connections at once (multi-tab, multi-device); a
// subject with zero connections is removed entirely.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[domain.UserID]map[string]Conn
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[domain.UserID]map[string]Conn),
	}
}

// Register adds a connection under the subject and acknowledges it on the
// new connection only. Pure bookkeeping, never fails.
func (r *ConnectionRegistry) Register(subject domain.UserID, c Conn) string {
	connID := uuid.NewString()

	r.mu.Lock()
	set, ok := r.conns[subject]
	if !ok {
		set = make(map[string]Conn)
		r.conns[subject] = set
	}
	set[connID] = c
	r.mu.Unlock()

	ack := protocol.ConnectionEstablished{
		Header:       protocol.NewHeader("connection_established"),
		UserID:       subject,
		ConnectionID: connID,
	}
	if data, ok := protocol.Marshal(ack); ok {
		if err := c.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "core.connections").Str("user", string(subject)).Msg("ack send failed")
		}
	}

	log.Info().Str("module", "core.connections").Str("user", string(subject)).Str("conn", connID).Msg("connection registered")
	return connID
}

// Unregister removes the (subject, connection) pair. Idempotent; removes
// the subject entry when its last connection goes.
func (r *ConnectionRegistry) Unregister(subject domain.UserID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[subject]
	if !ok {
		return
	}
	if _, ok := set[connID]; !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.conns, subject)
	}
	log.Info().Str("module", "core.connections").Str("user", string(subject)).Str("conn", connID).Msg("connection unregistered")
}

// SendToSubject delivers data to every live connection of the subject.
// A connection that fails to receive is treated as dead and pruned as a
// side effect; failures never reach the caller.
func (r *ConnectionRegistry) SendToSubject(subject domain.UserID, data []byte) {
	r.mu.RLock()
	set := r.conns[subject]
	snapshot := make(map[string]Conn, len(set))
	for id, c := range set {
		snapshot[id] = c
	}
	r.mu.RUnlock()

	for id, c := range snapshot {
		if err := c.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "core.connections").Str("user", string(subject)).Str("conn", id).Msg("send failed, pruning connection")
			c.Close()
			r.Unregister(subject, id)
		}
	}
}

// Notify pushes a personal notification event to all of a subject's
// connections.
func (r *ConnectionRegistry) Notify(subject domain.UserID, notificationType string, payload any) {
	event := protocol.Notification{
		Header:           protocol.NewHeader("notification"),
		NotificationType: notificationType,
		Data:             payload,
	}
	if data, ok := protocol.Marshal(event); ok {
		r.SendToSubject(subject, data)
	}
}

// Broadcast delivers to every registered subject except the excluded one.
func (r *ConnectionRegistry) Broadcast(data []byte, exclude domain.UserID) {
	for _, subject := range r.OnlineSubjects() {
		if subject == exclude {
			continue
		}
		r.SendToSubject(subject, data)
	}
}

func (r *ConnectionRegistry) OnlineSubjects() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.conns))
	for subject := range r.conns {
		out = append(out, subject)
	}
	return out
}

// OnlineCount is the number of distinct subjects with at least one
// connection.
func (r *ConnectionRegistry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ConnectionCount is the total number of live connections.
func (r *ConnectionRegistry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.conns {
		n += len(set)
	}
	return n
}

// SubjectConnectionCount reports how many connections one subject holds.
func (r *ConnectionRegistry) SubjectConnectionCount(subject domain.UserID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[subject])
}
