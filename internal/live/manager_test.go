package live

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-transcript-server/internal/transcript"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func dialSubscriber(t *testing.T, m *Manager, sessionID, language string) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.Subscribe(sessionID, language, conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// The server registers the subscription after the handshake; wait for
	// it so publishes in the test body cannot race the registration.
	key := subscriberKey{sessionID: sessionID, language: language}
	deadline := time.Now().Add(2 * time.Second)
	for {
		m.mu.RLock()
		registered := len(m.subscribers[key]) > 0
		m.mu.RUnlock()
		if registered {
			break
		}
		require.True(t, time.Now().Before(deadline), "subscriber never registered")
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestPublishChunkReachesSubscriber(t *testing.T) {
	m := NewManager()
	conn := dialSubscriber(t, m, "s", "en")

	m.PublishChunk("s", "en", transcript.ChunkUpdate{ChunkID: 3, Version: 1, Text: "hello"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ChunkMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "s", msg.SessionID)
	assert.Equal(t, "en", msg.Language)
	assert.Equal(t, 3, msg.ChunkID)
	assert.Equal(t, 1, msg.Version)
	assert.Equal(t, "hello", msg.Text)
}

func TestPublishChunkIgnoresOtherSessionsAndLanguages(t *testing.T) {
	m := NewManager()
	conn := dialSubscriber(t, m, "s", "en")

	m.PublishChunk("other", "en", transcript.ChunkUpdate{ChunkID: 0, Text: "nope"})
	m.PublishChunk("s", "de", transcript.ChunkUpdate{ChunkID: 0, Text: "nein"})
	m.PublishChunk("s", "en", transcript.ChunkUpdate{ChunkID: 0, Text: "yes"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ChunkMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "yes", msg.Text)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m := NewManager()
	key := subscriberKey{sessionID: "s", language: "en"}

	conn := dialSubscriber(t, m, "s", "en")
	_ = conn

	m.mu.RLock()
	subs := append([]*websocket.Conn(nil), m.subscribers[key]...)
	m.mu.RUnlock()
	require.Len(t, subs, 1)

	m.Unsubscribe("s", "en", subs[0])

	m.mu.RLock()
	_, ok := m.subscribers[key]
	m.mu.RUnlock()
	assert.False(t, ok, "empty subscriber lists are removed")
}
