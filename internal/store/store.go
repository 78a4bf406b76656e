// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/tfiber/tera-assist/internal/domain"
)

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting conversations, messages and leads.
type Repository interface {
	// ResolveConversation returns the conversation for a session, creating it
	// with the given initial language when none exists. Repeated calls with the
	// same session ID return the same conversation and bump its last activity.
	ResolveConversation(ctx context.Context, sessionID string, lang domain.Language) (*domain.Conversation, error)

	// GetConversation retrieves a conversation by ID. Returns nil, nil when absent.
	GetConversation(ctx context.Context, id int64) (*domain.Conversation, error)

	// GetConversationBySession retrieves a conversation by session ID. Returns nil, nil when absent.
	GetConversationBySession(ctx context.Context, sessionID string) (*domain.Conversation, error)

	// AppendMessage inserts a message and sets its ID and store-assigned timestamp.
	AppendMessage(ctx context.Context, msg *domain.Message) error

	// ListMessages returns a conversation's messages in timestamp order.
	ListMessages(ctx context.Context, conversationID int64) ([]*domain.Message, error)

	// UpsertLead creates a lead or updates name and language for an existing
	// phone number. Sets lead.ID.
	UpsertLead(ctx context.Context, lead *domain.Lead) error

	// LinkLead attaches a lead to a conversation.
	LinkLead(ctx context.Context, leadID, conversationID int64) error

	// SaveOnboarding records the lead capture state and captured name of a
	// conversation.
	SaveOnboarding(ctx context.Context, conversationID int64, state, name string) error

	// GetLeadByPhone retrieves a lead by phone number. Returns nil, nil when absent.
	GetLeadByPhone(ctx context.Context, phone string) (*domain.Lead, error)

	// ListLeads returns the most recently updated leads.
	ListLeads(ctx context.Context, limit int) ([]*domain.Lead, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
