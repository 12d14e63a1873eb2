package realtime

import (
	"encoding/json"
	"io"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

func drain(t *testing.T, s *Session) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case frame := <-s.Outbound():
			var env Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func events(envs []Envelope) []string {
	names := make([]string, 0, len(envs))
	for _, e := range envs {
		names = append(names, e.Event)
	}
	return names
}

func TestConnectSubscribesUserTopic(t *testing.T) {
	hub := NewHub(8, quietLogger())
	s := hub.Connect("u1")

	hub.Publish(UserTopic("u1"), "new_notification", map[string]string{"id": "n1"})
	hub.Publish(UserTopic("u2"), "new_notification", map[string]string{"id": "n2"})

	got := drain(t, s)
	require.Len(t, got, 1)
	assert.Equal(t, "new_notification", got[0].Event)
}

func TestPublishPreservesOrderWithinTopic(t *testing.T) {
	hub := NewHub(16, quietLogger())
	a := hub.Connect("u1")
	b := hub.Connect("u2")
	hub.Subscribe(BoardTopic("b1"), a)
	hub.Subscribe(BoardTopic("b1"), b)

	for _, ev := range []string{"listChanged", "taskChanged", "boardChanged"} {
		hub.Publish(BoardTopic("b1"), ev, nil)
	}

	want := []string{"listChanged", "taskChanged", "boardChanged"}
	assert.Equal(t, want, events(drain(t, a)))
	assert.Equal(t, want, events(drain(t, b)))
}

func TestUnsubscribeAndDisconnect(t *testing.T) {
	hub := NewHub(8, quietLogger())
	s := hub.Connect("u1")
	hub.Subscribe(BoardTopic("b1"), s)
	hub.Subscribe(BoardTopic("b2"), s)

	hub.Unsubscribe(BoardTopic("b1"), s)
	hub.Publish(BoardTopic("b1"), "taskChanged", nil)
	assert.Empty(t, drain(t, s))
	assert.Equal(t, 1, hub.Subscribers(BoardTopic("b2")))

	hub.Disconnect(s)
	assert.Equal(t, 0, hub.Subscribers(BoardTopic("b2")))
	assert.Equal(t, 0, hub.Subscribers(UserTopic("u1")))
	select {
	case <-s.Done():
	default:
		t.Fatal("expected session to be closed")
	}
	hub.Disconnect(s)
}

func TestEvictUserOnlyDropsThatUser(t *testing.T) {
	hub := NewHub(8, quietLogger())
	bob1 := hub.Connect("bob")
	bob2 := hub.Connect("bob")
	alice := hub.Connect("alice")
	for _, s := range []*Session{bob1, bob2, alice} {
		hub.Subscribe(BoardTopic("b1"), s)
	}

	assert.Equal(t, 2, hub.EvictUser(BoardTopic("b1"), "bob"))
	hub.Publish(BoardTopic("b1"), "boardChanged", nil)

	assert.Empty(t, drain(t, bob1))
	assert.Empty(t, drain(t, bob2))
	assert.Len(t, drain(t, alice), 1)
	assert.Equal(t, 2, hub.Subscribers(UserTopic("bob")))
}

func TestFullBufferDropsWithoutBlocking(t *testing.T) {
	hub := NewHub(2, quietLogger())
	s := hub.Connect("u1")
	for i := 0; i < 5; i++ {
		hub.Publish(UserTopic("u1"), "new_notification", i)
	}
	got := drain(t, s)
	require.Len(t, got, 2)
	assert.EqualValues(t, 0, got[0].Data)
	assert.EqualValues(t, 1, got[1].Data)
}
