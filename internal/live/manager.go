// Package live pushes transcript chunks to WebSocket viewers as they
// are committed or edited, so browsers do not have to poll
// get_latest_text_chunks.
package live

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"live-transcript-server/internal/transcript"
)

// ChunkMessage is the wire form of one pushed chunk.
type ChunkMessage struct {
	SessionID string `json:"session_id"`
	Language  string `json:"language"`
	ChunkID   int    `json:"timestamp"`
	Version   int    `json:"version"`
	Text      string `json:"text"`
}

type subscriberKey struct {
	sessionID string
	language  string
}

// Manager fans committed chunks out to WebSocket subscribers, keyed by
// session and language. It implements the dispatcher's Broadcaster
// interface.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[subscriberKey][]*websocket.Conn
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		subscribers: make(map[subscriberKey][]*websocket.Conn),
	}
}

// Subscribe registers a connection for one session and language.
func (m *Manager) Subscribe(sessionID, language string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := subscriberKey{sessionID: sessionID, language: language}
	m.subscribers[key] = append(m.subscribers[key], conn)
	log.Printf("[Session %s] Live subscriber added for %s (total: %d)", sessionID, language, len(m.subscribers[key]))
}

// Unsubscribe removes a connection.
func (m *Manager) Unsubscribe(sessionID, language string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := subscriberKey{sessionID: sessionID, language: language}
	subs := m.subscribers[key]
	for i, sub := range subs {
		if sub == conn {
			m.subscribers[key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(m.subscribers[key]) == 0 {
		delete(m.subscribers, key)
	}
}

// PublishChunk sends one committed or edited chunk to every subscriber
// of the session and language. Failed connections are dropped.
func (m *Manager) PublishChunk(sessionID, language string, update transcript.ChunkUpdate) {
	data, err := json.Marshal(ChunkMessage{
		SessionID: sessionID,
		Language:  language,
		ChunkID:   update.ChunkID,
		Version:   update.Version,
		Text:      update.Text,
	})
	if err != nil {
		log.Printf("[Session %s] Failed to marshal live chunk: %v", sessionID, err)
		return
	}

	key := subscriberKey{sessionID: sessionID, language: language}
	m.mu.RLock()
	subs := make([]*websocket.Conn, len(m.subscribers[key]))
	copy(subs, m.subscribers[key])
	m.mu.RUnlock()

	for _, conn := range subs {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("[Session %s] Dropping live subscriber: %v", sessionID, err)
			m.Unsubscribe(sessionID, language, conn)
		}
	}
}
