package core_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendke/livehub/internal/core"
	"github.com/trendke/livehub/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
}

func (c *fakeConn) TrySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("transport failure")
	}
	c.frames = append(c.frames, data)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) events(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

func eventTypes(t *testing.T, c *fakeConn) []string {
	t.Helper()
	var types []string
	for _, e := range c.events(t) {
		types = append(types, e["type"].(string))
	}
	return types
}

func TestConnectionRegistry_RegisterUnregister(t *testing.T) {
	t.Run("register sends acknowledgement on the new connection", func(t *testing.T) {
		reg := core.NewConnectionRegistry()
		conn := &fakeConn{}

		connID := reg.Register("u1", conn)

		require.NotEmpty(t, connID)
		events := conn.events(t)
		require.Len(t, events, 1)
		assert.Equal(t, "connection_established", events[0]["type"])
		assert.Equal(t, "u1", events[0]["user_id"])
		assert.Equal(t, connID, events[0]["connection_id"])
		assert.NotEmpty(t, events[0]["timestamp"])
	})

	t.Run("subject with zero connections is absent", func(t *testing.T) {
		reg := core.NewConnectionRegistry()
		id1 := reg.Register("u1", &fakeConn{})
		id2 := reg.Register("u1", &fakeConn{})

		assert.Equal(t, 1, reg.OnlineCount())
		assert.Equal(t, 2, reg.SubjectConnectionCount("u1"))

		reg.Unregister("u1", id1)
		assert.Equal(t, 1, reg.OnlineCount())
		assert.Equal(t, 1, reg.SubjectConnectionCount("u1"))

		reg.Unregister("u1", id2)
		assert.Equal(t, 0, reg.OnlineCount())
		assert.Equal(t, 0, reg.SubjectConnectionCount("u1"))
		assert.Empty(t, reg.OnlineSubjects())
	})

	t.Run("unregister of unknown pair is a no-op", func(t *testing.T) {
		reg := core.NewConnectionRegistry()
		reg.Unregister("ghost", "nope")
		assert.Equal(t, 0, reg.OnlineCount())

		id := reg.Register("u1", &fakeConn{})
		reg.Unregister("u1", "wrong-id")
		assert.Equal(t, 1, reg.SubjectConnectionCount("u1"))
		reg.Unregister("u1", id)
		reg.Unregister("u1", id)
		assert.Equal(t, 0, reg.OnlineCount())
	})
}

func TestConnectionRegistry_SendToSubject(t *testing.T) {
	t.Run("delivers to every connection of the subject", func(t *testing.T) {
		reg := core.NewConnectionRegistry()
		c1 := &fakeConn{}
		c2 := &fakeConn{}
		reg.Register("u3", c1)
		id2 := reg.Register("u3", c2)

		reg.SendToSubject("u3", []byte(`{"type":"x"}`))

		assert.Len(t, c1.events(t), 2) // ack + message
		assert.Len(t, c2.events(t), 2)

		// Closing one connection leaves the other receiving and the
		// subject registered.
		reg.Unregister("u3", id2)
		reg.SendToSubject("u3", []byte(`{"type":"y"}`))
		assert.Len(t, c1.events(t), 3)
		assert.Len(t, c2.events(t), 2)
		assert.Equal(t, 1, reg.OnlineCount())
	})

	t.Run("failed connection is pruned without affecting the rest", func(t *testing.T) {
		reg := core.NewConnectionRegistry()
		healthy := &fakeConn{}
		dead := &fakeConn{fail: true}
		reg.Register("u1", healthy)
		reg.Register("u1", dead)

		reg.SendToSubject("u1", []byte(`{"type":"x"}`))

		assert.True(t, dead.closed)
		assert.Equal(t, 1, reg.SubjectConnectionCount("u1"))
		assert.Len(t, healthy.events(t), 2)
	})

	t.Run("send to unknown subject is a no-op", func(t *testing.T) {
		reg := core.NewConnectionRegistry()
		reg.SendToSubject("nobody", []byte(`{}`))
	})
}

func TestConnectionRegistry_Notify(t *testing.T) {
	reg := core.NewConnectionRegistry()
	c1 := &fakeConn{}
	c2 := &fakeConn{}
	reg.Register("u1", c1)
	reg.Register("u1", c2)

	reg.Notify("u1", "new_follower", map[string]string{"follower_id": "u9"})

	for _, c := range []*fakeConn{c1, c2} {
		events := c.events(t)
		require.Len(t, events, 2)
		assert.Equal(t, "notification", events[1]["type"])
		assert.Equal(t, "new_follower", events[1]["notification_type"])
		data := events[1]["data"].(map[string]any)
		assert.Equal(t, "u9", data["follower_id"])
	}
}

func TestConnectionRegistry_Broadcast(t *testing.T) {
	reg := core.NewConnectionRegistry()
	a := &fakeConn{}
	b := &fakeConn{}
	c := &fakeConn{}
	reg.Register("a", a)
	reg.Register("b", b)
	reg.Register("c", c)

	reg.Broadcast([]byte(`{"type":"news"}`), domain.UserID("b"))

	assert.Len(t, a.events(t), 2)
	assert.Len(t, b.events(t), 1) // only the ack
	assert.Len(t, c.events(t), 2)
}
