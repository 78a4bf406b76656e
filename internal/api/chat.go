package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tfiber/tera-assist/internal/chat"
	"github.com/tfiber/tera-assist/internal/domain"
	"github.com/tfiber/tera-assist/internal/identity"
)

// ChatHandler serves the chat session endpoints.
type ChatHandler struct {
	*Handler
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(base *Handler) *ChatHandler {
	return &ChatHandler{Handler: base}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/session", h.StartSession)
		r.Post("/messages", h.SendMessage)
		r.Put("/language", h.SetLanguage)
		r.Get("/transcript", h.Transcript)
		r.Get("/history", h.History)
	})
}

type startRequest struct {
	Language string `json:"language"`
}

type messageRequest struct {
	Text string `json:"text"`
}

type languageRequest struct {
	Language string `json:"language"`
}

// turnError carries the session view alongside a refusal so clients can
// still render the notices raised by the failed operation.
type turnError struct {
	Error string    `json:"error"`
	Turn  chat.Turn `json:"turn"`
}

// StartSession opens the chat for the caller's session token.
func (h *ChatHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID := identity.SessionIDFromContext(r.Context())
	turn, err := h.sessions.Start(r.Context(), sessionID, domain.ParseLanguage(req.Language))
	if err != nil {
		h.sessionError(w, sessionID, err)
		return
	}

	JSON(w, http.StatusOK, turn)
}

// SendMessage delivers one visitor message and returns the updated session.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID := identity.SessionIDFromContext(r.Context())
	turn, err := h.sessions.Send(r.Context(), sessionID, req.Text)
	switch {
	case err == nil:
		JSON(w, http.StatusOK, turn)
	case errors.Is(err, chat.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, "message text is required")
	case errors.Is(err, chat.ErrNotReady):
		JSON(w, http.StatusConflict, turnError{Error: "chat not ready", Turn: turn})
	default:
		h.sessionError(w, sessionID, err)
	}
}

// SetLanguage switches the session language.
func (h *ChatHandler) SetLanguage(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	lang := domain.Language(req.Language)
	if !lang.Valid() {
		Error(w, http.StatusBadRequest, "unsupported language")
		return
	}

	sessionID := identity.SessionIDFromContext(r.Context())
	turn, err := h.sessions.SetLanguage(r.Context(), sessionID, lang)
	if err != nil {
		h.sessionError(w, sessionID, err)
		return
	}

	JSON(w, http.StatusOK, turn)
}

// Transcript returns the live session view.
func (h *ChatHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	turn, err := h.sessions.Snapshot(r.Context(), sessionID)
	if err != nil {
		h.sessionError(w, sessionID, err)
		return
	}

	JSON(w, http.StatusOK, turn)
}

// History returns the persisted messages of the caller's conversation.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := identity.SessionIDFromContext(ctx)

	conv, err := h.repo.GetConversationBySession(ctx, sessionID)
	if err != nil {
		slog.Error("Failed to load conversation", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if conv == nil {
		JSON(w, http.StatusOK, map[string]interface{}{
			"conversation": nil,
			"messages":     []*domain.Message{},
		})
		return
	}

	msgs, err := h.repo.ListMessages(ctx, conv.ID)
	if err != nil {
		slog.Error("Failed to list messages", "error", err, "conversation_id", conv.ID)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"conversation": conv,
		"messages":     msgs,
	})
}

func (h *ChatHandler) sessionError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, chat.ErrClosed):
		Error(w, http.StatusServiceUnavailable, "server shutting down")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		Error(w, http.StatusGatewayTimeout, "request timed out")
	default:
		slog.Error("Chat request failed", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
