// Package domain contains core domain types for the TeRA support assistant.
package domain

import (
	"strings"
	"time"
)

// Language is a supported conversation language.
type Language string

const (
	// LanguageEnglish is the default language.
	LanguageEnglish Language = "en"
	// LanguageTelugu is the secondary supported language.
	LanguageTelugu Language = "te"
)

// ParseLanguage normalizes a language code, falling back to English.
func ParseLanguage(s string) Language {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case LanguageTelugu:
		return LanguageTelugu
	default:
		return LanguageEnglish
	}
}

// Valid reports whether l is one of the supported languages.
func (l Language) Valid() bool {
	return l == LanguageEnglish || l == LanguageTelugu
}

// Conversation is the durable record of one chat session.
type Conversation struct {
	ID              int64     `json:"id"`
	SessionID       string    `json:"session_id"`
	LeadID          *int64    `json:"lead_id,omitempty"`
	InitialLanguage Language  `json:"initial_language"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`

	// OnboardingState and CapturedName record lead capture progress so an
	// evicted or restarted session resumes where the visitor left off.
	OnboardingState string `json:"onboarding_state,omitempty"`
	CapturedName    string `json:"captured_name,omitempty"`
}

// HasLead returns true if a captured lead is linked to the conversation.
func (c *Conversation) HasLead() bool {
	return c.LeadID != nil
}
