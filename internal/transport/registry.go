// Package transport serves the chat over WebSocket.
package transport

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// peer is the subset of *websocket.Conn the registry needs.
type peer interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Registry tracks open sockets per session token. One visitor may have the
// chat open in several tabs; each tab is one connection.
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[string]peer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]map[string]peer),
	}
}

// Register adds a connection for a session tab. A connection the tab held
// before, left over from a reload or reconnect, is closed in the background
// since Close waits for the peer's handshake.
func (r *Registry) Register(sessionID, tabID string, conn peer) {
	r.mu.Lock()
	if _, exists := r.active[sessionID]; !exists {
		r.active[sessionID] = make(map[string]peer)
	}
	replaced, exists := r.active[sessionID][tabID]
	r.active[sessionID][tabID] = conn
	r.mu.Unlock()

	if exists && replaced != conn {
		go func() { _ = replaced.Close(websocket.StatusNormalClosure, "session replaced") }()
		slog.Debug("Chat socket replaced", "session_id", sessionID, "tab_id", tabID)
		return
	}
	slog.Debug("Chat socket registered", "session_id", sessionID, "tab_id", tabID)
}

// Unregister removes a connection if it is still the one held by the tab.
func (r *Registry) Unregister(sessionID, tabID string, conn peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tabs, ok := r.active[sessionID]
	if !ok {
		return
	}
	if current, exists := tabs[tabID]; exists && current == conn {
		delete(tabs, tabID)
		if len(tabs) == 0 {
			delete(r.active, sessionID)
		}
		slog.Debug("Chat socket unregistered", "session_id", sessionID, "tab_id", tabID)
	}
}

// Count returns the number of open connections for a session.
func (r *Registry) Count(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active[sessionID])
}

// Broadcast writes data to every tab of a session except skipTab. Write
// failures are logged; the failing tab's reader loop cleans it up.
func (r *Registry) Broadcast(ctx context.Context, sessionID, skipTab string, data []byte) {
	r.mu.RLock()
	targets := make(map[string]peer, len(r.active[sessionID]))
	for tab, conn := range r.active[sessionID] {
		if tab != skipTab {
			targets[tab] = conn
		}
	}
	r.mu.RUnlock()

	for tab, conn := range targets {
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("Chat broadcast failed", "session_id", sessionID, "tab_id", tab, "error", err)
		}
	}
}

// CloseAll terminates every open connection.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for sid, tabs := range r.active {
		for _, conn := range tabs {
			_ = conn.Close(websocket.StatusGoingAway, reason)
		}
		delete(r.active, sid)
	}
}
