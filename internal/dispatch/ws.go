// Package dispatch fans live events out to connected watchers: family
// members holding a websocket open, and an optional guardian webhook.
package dispatch

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/itsshri/NightSafe/internal/models"
	"github.com/itsshri/NightSafe/internal/observability"
)

// WSEvent is the envelope pushed to websocket watchers.
type WSEvent struct {
	Type     string                 `json:"type"` // alert, presence
	Alert    *models.Alert          `json:"alert,omitempty"`
	Presence *models.PresenceRecord `json:"presence,omitempty"`
}

// WSSession is one connected watcher. Writes are serialized per
// connection; gorilla/websocket allows only one concurrent writer.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(ev WSEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// WSRegistry holds watcher sessions keyed by identity.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

func (r *WSRegistry) Add(identity string, conn *websocket.Conn) {
	r.mu.Lock()
	replaced := false
	if old, ok := r.sessions[identity]; ok {
		_ = old.conn.Close()
		replaced = true
	}
	r.sessions[identity] = &WSSession{conn: conn}
	r.mu.Unlock()
	if !replaced {
		observability.WatchersConnected.Inc()
	}
}

// Remove drops the session only while it still owns the identity's
// slot. A reader goroutine left over from a replaced connection calls
// in with the old conn and must not tear down the replacement.
func (r *WSRegistry) Remove(identity string, conn *websocket.Conn) {
	r.mu.Lock()
	s, ok := r.sessions[identity]
	if ok && s.conn == conn {
		delete(r.sessions, identity)
	} else {
		ok = false
	}
	r.mu.Unlock()
	if ok {
		_ = s.conn.Close()
		observability.WatchersConnected.Dec()
	}
}

// Broadcast sends the event to every connected watcher. Failed
// sessions are dropped; the client reconnects and resyncs from
// storage.
func (r *WSRegistry) Broadcast(ev WSEvent) {
	r.mu.RLock()
	targets := make(map[string]*WSSession, len(r.sessions))
	for id, s := range r.sessions {
		targets[id] = s
	}
	r.mu.RUnlock()
	for id, s := range targets {
		if err := s.Send(ev); err != nil {
			r.logger.Warn("ws send failed, dropping watcher", "identity", id, "error", err)
			r.Remove(id, s.conn)
		}
	}
}

// NotifyAlert implements alerts.Notifier.
func (r *WSRegistry) NotifyAlert(a models.Alert) {
	r.Broadcast(WSEvent{Type: "alert", Alert: &a})
}

// NotifyPresence pushes a presence overwrite to watchers.
func (r *WSRegistry) NotifyPresence(rec models.PresenceRecord) {
	r.Broadcast(WSEvent{Type: "presence", Presence: &rec})
}
