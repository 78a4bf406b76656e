package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/tfiber/tera-assist/internal/chat"
	"github.com/tfiber/tera-assist/internal/domain"
	"github.com/tfiber/tera-assist/internal/identity"
)

const (
	maxFrameBytes       = 64 << 10
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 10 * time.Second
	tabQueryParam       = "tab_id"
)

var tabIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// tabIDFromRequest returns the id the page keeps for its browser tab, so a
// reconnecting tab replaces its previous socket. Pages that send none get a
// fresh id per connection.
func tabIDFromRequest(r *http.Request) string {
	if id := r.URL.Query().Get(tabQueryParam); tabIDPattern.MatchString(id) {
		return id
	}
	return uuid.NewString()
}

// Sessions is the chat session service driven by the socket.
type Sessions interface {
	Start(ctx context.Context, sessionID string, lang domain.Language) (chat.Turn, error)
	Send(ctx context.Context, sessionID, text string) (chat.Turn, error)
	SetLanguage(ctx context.Context, sessionID string, lang domain.Language) (chat.Turn, error)
	Snapshot(ctx context.Context, sessionID string) (chat.Turn, error)
}

// Client frame types.
const (
	frameStart    = "start"
	frameMessage  = "message"
	frameLanguage = "language"
	frameSync     = "sync"
	framePing     = "ping"
)

// Server frame types.
const (
	frameTurn  = "turn"
	framePong  = "pong"
	frameError = "error"
)

// wsMessage is a frame sent by the browser.
type wsMessage struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
}

// wsReply is a frame sent to the browser.
type wsReply struct {
	Type  string     `json:"type"`
	Error string     `json:"error,omitempty"`
	Turn  *chat.Turn `json:"turn,omitempty"`
}

// WebSocketHandler serves one chat session per connection.
type WebSocketHandler struct {
	sessions       Sessions
	registry       *Registry
	allowedOrigins []string
	isDev          bool
	pingInterval   time.Duration
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(sessions Sessions, registry *Registry, allowedOrigins []string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		sessions:       sessions,
		registry:       registry,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
		pingInterval:   defaultPingInterval,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	tabID := tabIDFromRequest(r)
	slog.Info("WebSocket connection request", "session_id", sessionID, "tab_id", tabID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()
	ws.SetReadLimit(maxFrameBytes)

	h.registry.Register(sessionID, tabID, ws)
	defer h.registry.Unregister(sessionID, tabID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.pingLoop(ctx, cancel, ws, sessionID)

	h.inputLoop(ctx, ws, sessionID, tabID)
	slog.Info("Chat socket closed", "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *WebSocketHandler) pingLoop(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, sessionID string) {
	if h.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Ping(pingCtx)
			pingCancel()
			if err != nil {
				slog.Debug("WebSocket ping failed", "error", err, "session_id", sessionID)
				cancel()
				return
			}
		}
	}
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, sessionID, tabID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.reply(ctx, ws, wsReply{Type: frameError, Error: "invalid frame"})
			continue
		}

		var (
			turn   chat.Turn
			opErr  error
			shared = true
		)
		switch msg.Type {
		case framePing:
			h.reply(ctx, ws, wsReply{Type: framePong})
			continue
		case frameStart:
			turn, opErr = h.sessions.Start(ctx, sessionID, domain.ParseLanguage(msg.Language))
		case frameMessage:
			turn, opErr = h.sessions.Send(ctx, sessionID, msg.Text)
		case frameLanguage:
			lang := domain.Language(msg.Language)
			if !lang.Valid() {
				h.reply(ctx, ws, wsReply{Type: frameError, Error: "unsupported language"})
				continue
			}
			turn, opErr = h.sessions.SetLanguage(ctx, sessionID, lang)
		case frameSync:
			turn, opErr = h.sessions.Snapshot(ctx, sessionID)
			shared = false
		default:
			h.reply(ctx, ws, wsReply{Type: frameError, Error: "unknown frame type"})
			continue
		}

		if opErr != nil {
			if errors.Is(opErr, chat.ErrClosed) || ctx.Err() != nil {
				return
			}
			h.reply(ctx, ws, wsReply{Type: frameError, Error: errorCode(opErr), Turn: &turn})
			continue
		}

		h.reply(ctx, ws, wsReply{Type: frameTurn, Turn: &turn})
		if shared {
			h.broadcast(ctx, sessionID, tabID, turn)
		}
	}
}

// broadcast keeps the visitor's other tabs in sync. Notices belong to the
// tab that caused them.
func (h *WebSocketHandler) broadcast(ctx context.Context, sessionID, tabID string, turn chat.Turn) {
	if h.registry.Count(sessionID) < 2 {
		return
	}
	turn.Notices = nil
	data, err := json.Marshal(wsReply{Type: frameTurn, Turn: &turn})
	if err != nil {
		slog.Error("Failed to encode broadcast", "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	h.registry.Broadcast(writeCtx, sessionID, tabID, data)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, chat.ErrNotReady):
		return "not_ready"
	case errors.Is(err, chat.ErrEmptyMessage):
		return "empty_message"
	default:
		return "internal_error"
	}
}

func (h *WebSocketHandler) reply(ctx context.Context, ws *websocket.Conn, v wsReply) {
	if err := h.writeJSON(ctx, ws, v); err != nil {
		slog.Debug("Failed to write frame", "type", v.Type, "error", err)
	}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
