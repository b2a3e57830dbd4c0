package realtime

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcoot/scoreroom/internal/testutil"
)

func drain(c *Client) []string {
	var out []string
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestHubBroadcastRespectsGroupsAndExclusion(t *testing.T) {
	hub := NewHub(testutil.NopLogger())
	a := NewClient("a", "", nil)
	b := NewClient("b", "", nil)
	other := NewClient("other", "", nil)
	for _, c := range []*Client{a, b, other} {
		hub.Register(c)
	}
	hub.JoinRoom(a, "ROOM01")
	hub.JoinRoom(b, "ROOM01")
	hub.JoinRoom(other, "ROOM02")

	hub.Broadcast("ROOM01", []byte("everyone"), "")
	hub.Broadcast("ROOM01", []byte("not-a"), "a")

	assert.Equal(t, []string{"everyone"}, drain(a))
	assert.Equal(t, []string{"everyone", "not-a"}, drain(b))
	assert.Empty(t, drain(other))
}

func TestHubJoinRoomLeavesPreviousGroup(t *testing.T) {
	hub := NewHub(testutil.NopLogger())
	c := NewClient("c", "", nil)
	hub.Register(c)

	hub.JoinRoom(c, "ROOM01")
	hub.JoinRoom(c, "ROOM02")

	assert.Equal(t, 0, hub.RoomSize("ROOM01"))
	assert.Equal(t, 1, hub.RoomSize("ROOM02"))
	code, ok := hub.RoomOf("c")
	assert.True(t, ok)
	assert.Equal(t, "ROOM02", string(code))
}

func TestHubUnregisterClosesQueue(t *testing.T) {
	hub := NewHub(testutil.NopLogger())
	c := NewClient("c", "", nil)
	hub.Register(c)
	hub.JoinRoom(c, "ROOM01")

	hub.Unregister(c)
	hub.Unregister(c) // second call is a no-op

	_, open := <-c.send
	assert.False(t, open)
	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, 0, hub.RoomSize("ROOM01"))
	assert.False(t, hub.SendTo("c", []byte("late")))

	// Broadcasting to the room after the client left must not panic
	hub.Broadcast("ROOM01", []byte("late"), "")
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	logger, logs := testutil.CaptureLogger()
	hub := NewHub(logger)
	c := NewClient("c", "", nil)
	hub.Register(c)

	for i := 0; i < sendBufferSize; i++ {
		assert.True(t, hub.SendTo("c", []byte("x")))
	}
	assert.False(t, hub.SendTo("c", []byte("overflow")))
	assert.Len(t, drain(c), sendBufferSize)
	assert.Contains(t, logs.String(), "client buffer full")
	assert.Contains(t, logs.String(), `"conn_id":"c"`)
}

func TestHubClose(t *testing.T) {
	hub := NewHub(testutil.NopLogger())
	a := NewClient("a", "", nil)
	b := NewClient("b", "", nil)
	hub.Register(a)
	hub.Register(b)

	hub.Close()

	assert.Equal(t, 0, hub.ClientCount())
	_, open := <-a.send
	assert.False(t, open)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name      string
		remote    string
		forwarded string
		expected  string
	}{
		{"remote addr", "10.0.0.1:5555", "", "10.0.0.1"},
		{"forwarded first hop", "10.0.0.1:5555", "203.0.113.7, 10.0.0.2", "203.0.113.7"},
		{"remote without port", "10.0.0.1", "", "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			r.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.expected, ClientIP(r))
		})
	}
}
