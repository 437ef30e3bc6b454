package live_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendke/livehub/internal/domain"
	"github.com/trendke/livehub/internal/live"
	"github.com/trendke/livehub/internal/notify"
	"github.com/trendke/livehub/internal/protocol"
)

// liveFixture is a session with a connected host and one viewer.
type liveFixture struct {
	handler    *live.Handler
	registry   *live.Registry
	hostConn   *fakeConn
	viewerConn *fakeConn
}

func newLiveFixture(t *testing.T) *liveFixture {
	t.Helper()
	registry := live.NewRegistry()
	handler := live.NewHandler(registry, notify.Nop{})

	require.NoError(t, registry.Create("s1", mustUser(t, "h1", "Host")))
	hostConn := &fakeConn{}
	require.NoError(t, handler.Join("s1", mustUser(t, "h1", "Host"), hostConn))
	viewerConn := &fakeConn{}
	require.NoError(t, handler.Join("s1", mustUser(t, "u1", "Alice"), viewerConn))

	return &liveFixture{
		handler:    handler,
		registry:   registry,
		hostConn:   hostConn,
		viewerConn: viewerConn,
	}
}

func (f *liveFixture) roleOf(t *testing.T, subject domain.UserID) domain.Role {
	t.Helper()
	for _, p := range f.registry.Roster("s1") {
		if p.UserID == subject {
			return p.Role
		}
	}
	t.Fatalf("participant %s not in roster", subject)
	return ""
}

func (f *liveFixture) infoOf(t *testing.T, subject domain.UserID) domain.ParticipantInfo {
	t.Helper()
	for _, p := range f.registry.Roster("s1") {
		if p.UserID == subject {
			return p
		}
	}
	t.Fatalf("participant %s not in roster", subject)
	return domain.ParticipantInfo{}
}

func TestHandler_Join(t *testing.T) {
	t.Run("joiner receives the current roster", func(t *testing.T) {
		f := newLiveFixture(t)

		var roster map[string]any
		for _, e := range f.viewerConn.events(t) {
			if e["type"] == "current_participants" {
				roster = e
			}
		}
		require.NotNil(t, roster)
		assert.Equal(t, float64(2), roster["viewer_count"])
		participants := roster["participants"].([]any)
		require.Len(t, participants, 1)
		assert.Equal(t, "h1", participants[0].(map[string]any)["user_id"])
	})

	t.Run("join of a missing session is refused", func(t *testing.T) {
		registry := live.NewRegistry()
		handler := live.NewHandler(registry, notify.Nop{})
		err := handler.Join("nope", mustUser(t, "u1", "Alice"), &fakeConn{})
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})
}

func TestHandler_ChatAndReaction(t *testing.T) {
	t.Run("chat reaches every participant", func(t *testing.T) {
		f := newLiveFixture(t)

		f.handler.Dispatch("s1", "u1", f.viewerConn, protocol.Chat{Message: "hello"})

		assert.Equal(t, 1, countType(t, f.hostConn, "chat_message"))
		assert.Equal(t, 1, countType(t, f.viewerConn, "chat_message"))

		var msg map[string]any
		for _, e := range f.hostConn.events(t) {
			if e["type"] == "chat_message" {
				msg = e
			}
		}
		assert.Equal(t, "u1", msg["user_id"])
		assert.Equal(t, "Alice", msg["username"])
		assert.Equal(t, "hello", msg["message"])
	})

	t.Run("reaction reaches every participant", func(t *testing.T) {
		f := newLiveFixture(t)

		f.handler.Dispatch("s1", "u1", f.viewerConn, protocol.Reaction{Reaction: "fire"})

		assert.Equal(t, 1, countType(t, f.hostConn, "reaction"))
		assert.Equal(t, 1, countType(t, f.viewerConn, "reaction"))
	})

	t.Run("chat from a non-participant is dropped", func(t *testing.T) {
		f := newLiveFixture(t)

		f.handler.Dispatch("s1", "stranger", &fakeConn{}, protocol.Chat{Message: "hi"})

		assert.Equal(t, 0, countType(t, f.hostConn, "chat_message"))
	})

	t.Run("chat to a missing session is dropped", func(t *testing.T) {
		f := newLiveFixture(t)
		sender := &fakeConn{}

		f.handler.Dispatch("gone", "u1", sender, protocol.Chat{Message: "hi"})

		assert.Empty(t, sender.events(t))
	})
}

func TestHandler_GuestFlow(t *testing.T) {
	t.Run("request then approval promotes the viewer to guest", func(t *testing.T) {
		f := newLiveFixture(t)

		f.handler.Dispatch("s1", "u1", f.viewerConn, protocol.RequestGuest{})

		assert.Equal(t, 1, countType(t, f.hostConn, "guest_request"))
		assert.Equal(t, 0, countType(t, f.viewerConn, "guest_request"))

		f.handler.Dispatch("s1", "h1", f.hostConn, protocol.RespondGuest{
			TargetUserID: "u1",
			Approved:     true,
		})

		assert.Equal(t, 1, countType(t, f.viewerConn, "guest_approved"))
		assert.Equal(t, 1, countType(t, f.hostConn, "guest_joined"))
		assert.Equal(t, 1, countType(t, f.viewerConn, "guest_joined"))

		info := f.infoOf(t, "u1")
		assert.Equal(t, domain.RoleGuest, info.Role)
		assert.True(t, info.VideoEnabled)
	})

	t.Run("rejection notifies the requester only", func(t *testing.T) {
		f := newLiveFixture(t)

		f.handler.Dispatch("s1", "h1", f.hostConn, protocol.RespondGuest{
			TargetUserID: "u1",
			Approved:     false,
		})

		assert.Equal(t, 1, countType(t, f.viewerConn, "guest_rejected"))
		assert.Equal(t, 0, countType(t, f.hostConn, "guest_rejected"))
		assert.Equal(t, 0, countType(t, f.hostConn, "guest_joined"))
		assert.Equal(t, domain.RoleViewer, f.roleOf(t, "u1"))
	})

	t.Run("response from a viewer is ignored", func(t *testing.T) {
		f := newLiveFixture(t)
		otherConn := &fakeConn{}
		require.NoError(t, f.handler.Join("s1", mustUser(t, "u2", "Bob"), otherConn))

		f.handler.Dispatch("s1", "u2", otherConn, protocol.RespondGuest{
			TargetUserID: "u1",
			Approved:     true,
		})

		assert.Equal(t, domain.RoleViewer, f.roleOf(t, "u1"))
		assert.Equal(t, 0, countType(t, f.viewerConn, "guest_approved"))
	})
}

func TestHandler_ParticipantAction(t *testing.T) {
	t.Run("viewer moderation attempts are dropped silently", func(t *testing.T) {
		f := newLiveFixture(t)
		otherConn := &fakeConn{}
		require.NoError(t, f.handler.Join("s1", mustUser(t, "u2", "Bob"), otherConn))

		f.handler.Dispatch("s1", "u2", otherConn, protocol.ParticipantAction{
			TargetUserID: "u1",
			ActionType:   protocol.ActionKick,
		})
		f.handler.Dispatch("s1", "u2", otherConn, protocol.ParticipantAction{
			TargetUserID: "u1",
			ActionType:   protocol.ActionMuteAudio,
		})

		info := f.infoOf(t, "u1")
		assert.True(t, info.AudioEnabled)
		assert.Equal(t, 0, countType(t, f.viewerConn, "kicked"))
		assert.Equal(t, 0, countType(t, f.hostConn, "participant_audio_changed"))
		assert.Equal(t, 0, countType(t, otherConn, "error"))
		assert.Equal(t, 3, f.registry.ViewerCount("s1"))
	})

	t.Run("host kick removes the target and closes its connection", func(t *testing.T) {
		f := newLiveFixture(t)

		f.handler.Dispatch("s1", "h1", f.hostConn, protocol.ParticipantAction{
			TargetUserID: "u1",
			ActionType:   protocol.ActionKick,
		})

		assert.Equal(t, 1, countType(t, f.viewerConn, "kicked"))
		assert.True(t, f.viewerConn.isClosed())
		assert.Equal(t, 1, f.registry.ViewerCount("s1"))
		assert.Equal(t, 1, countType(t, f.hostConn, "user_left"))
	})

	t.Run("host mute flips the flag and notifies everyone", func(t *testing.T) {
		f := newLiveFixture(t)

		f.handler.Dispatch("s1", "h1", f.hostConn, protocol.ParticipantAction{
			TargetUserID: "u1",
			ActionType:   protocol.ActionMuteAudio,
		})

		info := f.infoOf(t, "u1")
		assert.False(t, info.AudioEnabled)
		assert.Equal(t, 1, countType(t, f.viewerConn, "force_mute_audio"))
		assert.Equal(t, 1, countType(t, f.hostConn, "participant_audio_changed"))
		assert.Equal(t, 1, countType(t, f.viewerConn, "participant_audio_changed"))
	})

	t.Run("promote defaults to cohost", func(t *testing.T) {
		f := newLiveFixture(t)

		f.handler.Dispatch("s1", "h1", f.hostConn, protocol.ParticipantAction{
			TargetUserID: "u1",
			ActionType:   protocol.ActionPromote,
		})

		assert.Equal(t, domain.RoleCohost, f.roleOf(t, "u1"))
		assert.Equal(t, 1, countType(t, f.viewerConn, "promoted"))
		assert.Equal(t, 1, countType(t, f.hostConn, "participant_role_changed"))
	})

	t.Run("promotion to host is never granted", func(t *testing.T) {
		f := newLiveFixture(t)

		f.handler.Dispatch("s1", "h1", f.hostConn, protocol.ParticipantAction{
			TargetUserID: "u1",
			ActionType:   protocol.ActionPromote,
			NewRole:      domain.RoleHost,
		})

		assert.Equal(t, domain.RoleViewer, f.roleOf(t, "u1"))
	})

	t.Run("cohost can moderate", func(t *testing.T) {
		f := newLiveFixture(t)
		cohostConn := &fakeConn{}
		require.NoError(t, f.handler.Join("s1", mustUser(t, "u2", "Bob"), cohostConn))
		f.handler.Dispatch("s1", "h1", f.hostConn, protocol.ParticipantAction{
			TargetUserID: "u2",
			ActionType:   protocol.ActionPromote,
		})

		f.handler.Dispatch("s1", "u2", cohostConn, protocol.ParticipantAction{
			TargetUserID: "u1",
			ActionType:   protocol.ActionMuteVideo,
		})

		info := f.infoOf(t, "u1")
		assert.False(t, info.VideoEnabled)
	})
}

func TestHandler_Signal(t *testing.T) {
	payload := json.RawMessage(`{"sdp":"opaque"}`)

	t.Run("targeted signal reaches the target only", func(t *testing.T) {
		f := newLiveFixture(t)

		f.handler.Dispatch("s1", "u1", f.viewerConn, protocol.WebRTCSignal{
			ToUserID:   "h1",
			SignalType: "offer",
			SignalData: payload,
		})

		assert.Equal(t, 1, countType(t, f.hostConn, "webrtc_signal"))
		assert.Equal(t, 0, countType(t, f.viewerConn, "webrtc_signal"))

		var sig map[string]any
		for _, e := range f.hostConn.events(t) {
			if e["type"] == "webrtc_signal" {
				sig = e
			}
		}
		assert.Equal(t, "offer", sig["signal_type"])
		assert.Equal(t, "u1", sig["from_user_id"])
	})

	t.Run("signal to all goes to the other signaling peers only", func(t *testing.T) {
		f := newLiveFixture(t)
		guestConn := &fakeConn{}
		require.NoError(t, f.handler.Join("s1", mustUser(t, "u2", "Bob"), guestConn))
		f.handler.Dispatch("s1", "h1", f.hostConn, protocol.RespondGuest{TargetUserID: "u2", Approved: true})

		f.handler.Dispatch("s1", "u2", guestConn, protocol.WebRTCSignal{
			ToUserID:   protocol.SignalTargetAll,
			SignalType: "offer",
			SignalData: payload,
		})

		assert.Equal(t, 1, countType(t, f.hostConn, "webrtc_signal"))
		// u1 is still a viewer, not a signaling peer; the sender is
		// excluded from its own fan-out.
		assert.Equal(t, 0, countType(t, f.viewerConn, "webrtc_signal"))
		assert.Equal(t, 0, countType(t, guestConn, "webrtc_signal"))
	})
}

func TestHandler_UpdateMediaStatus(t *testing.T) {
	t.Run("participant updates own flags", func(t *testing.T) {
		f := newLiveFixture(t)
		audio := false

		f.handler.Dispatch("s1", "u1", f.viewerConn, protocol.UpdateMediaStatus{AudioEnabled: &audio})

		info := f.infoOf(t, "u1")
		assert.False(t, info.AudioEnabled)
		assert.False(t, info.VideoEnabled) // untouched viewer default
		assert.Equal(t, 1, countType(t, f.hostConn, "participant_media_changed"))
	})
}

func TestHandler_UnknownAction(t *testing.T) {
	f := newLiveFixture(t)

	f.handler.Dispatch("s1", "u1", f.viewerConn, protocol.Unknown{Name: "dance"})

	events := f.viewerConn.events(t)
	last := events[len(events)-1]
	assert.Equal(t, "error", last["type"])
	assert.Contains(t, last["message"], "dance")
	assert.Equal(t, 0, countType(t, f.hostConn, "error"))
}

func TestHandler_Ping(t *testing.T) {
	f := newLiveFixture(t)

	f.handler.Dispatch("s1", "u1", f.viewerConn, protocol.Ping{})

	assert.Equal(t, 1, countType(t, f.viewerConn, "pong"))
	assert.Equal(t, 0, countType(t, f.hostConn, "pong"))
}
