package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/trendke/livehub/internal/domain"
)

// subjectSender is the delivery path the directory fans out through.
// Satisfied by *ConnectionRegistry.
type subjectSender interface {
	SendToSubject(subject domain.UserID, data []byte)
}

// RoomDirectory is a generic named-group membership tracker: lightweight
// broadcast groups and per-video viewer sets. A room with zero members is
// pruned immediately.
type RoomDirectory struct {
	mu     sync.RWMutex
	rooms  map[string]map[domain.UserID]struct{}
	sender subjectSender
}

func NewRoomDirectory(sender subjectSender) *RoomDirectory {
	return &RoomDirectory{
		rooms:  make(map[string]map[domain.UserID]struct{}),
		sender: sender,
	}
}

// Join is an idempotent set mutation.
func (d *RoomDirectory) Join(subject domain.UserID, room string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	members, ok := d.rooms[room]
	if !ok {
		members = make(map[domain.UserID]struct{})
		d.rooms[room] = members
	}
	members[subject] = struct{}{}
	log.Info().Str("module", "core.rooms").Str("user", string(subject)).Str("room", room).Msg("joined room")
}

// Leave is idempotent; the room is pruned on last leave.
func (d *RoomDirectory) Leave(subject domain.UserID, room string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.leaveLocked(subject, room)
}

// LeaveAll drops the subject from every room. Called when a subject's last
// connection goes away.
func (d *RoomDirectory) LeaveAll(subject domain.UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for room, members := range d.rooms {
		if _, ok := members[subject]; ok {
			d.leaveLocked(subject, room)
		}
	}
}

func (d *RoomDirectory) leaveLocked(subject domain.UserID, room string) {
	members, ok := d.rooms[room]
	if !ok {
		return
	}
	if _, ok := members[subject]; !ok {
		return
	}
	delete(members, subject)
	if len(members) == 0 {
		delete(d.rooms, room)
	}
	log.Info().Str("module", "core.rooms").Str("user", string(subject)).Str("room", room).Msg("left room")
}

// BroadcastToRoom delivers to the members present when the snapshot is
// taken. At-most-once, best-effort; no ordering relative to concurrent
// membership changes.
func (d *RoomDirectory) BroadcastToRoom(room string, data []byte, exclude domain.UserID) {
	for _, subject := range d.Members(room) {
		if subject == exclude {
			continue
		}
		d.sender.SendToSubject(subject, data)
	}
}

func (d *RoomDirectory) Members(room string) []domain.UserID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	members := d.rooms[room]
	out := make([]domain.UserID, 0, len(members))
	for subject := range members {
		out = append(out, subject)
	}
	return out
}

func (d *RoomDirectory) MemberCount(room string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms[room])
}

// RoomCount is the number of non-empty rooms.
func (d *RoomDirectory) RoomCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}
