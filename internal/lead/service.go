// Package lead persists captured contact identities.
package lead

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/tfiber/tera-assist/internal/domain"
)

var (
	// ErrMissingFields is returned when name or phone is blank.
	ErrMissingFields = errors.New("name and phone number are required")
	// ErrInvalidPhone is returned when the phone is not exactly ten digits.
	ErrInvalidPhone = errors.New("phone number must be exactly 10 digits")
)

var phonePattern = regexp.MustCompile(`^\d{10}$`)

// ValidPhone reports whether s, after trimming surrounding whitespace, is
// exactly ten ASCII digits.
func ValidPhone(s string) bool {
	return phonePattern.MatchString(strings.TrimSpace(s))
}

// Repository is the subset of the store the lead service needs.
type Repository interface {
	UpsertLead(ctx context.Context, lead *domain.Lead) error
	LinkLead(ctx context.Context, leadID, conversationID int64) error
}

// Input is a lead submission.
type Input struct {
	Name           string
	Phone          string
	Language       domain.Language
	ConversationID int64
}

// Service validates and stores leads.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService creates a lead service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Save upserts the lead keyed by phone number and links it to the
// conversation when one is given. A failed link is logged and does not fail
// the save; the lead itself is durable at that point.
func (s *Service) Save(ctx context.Context, in Input) (*domain.Lead, error) {
	name := strings.TrimSpace(in.Name)
	phone := strings.TrimSpace(in.Phone)
	if name == "" || phone == "" {
		return nil, ErrMissingFields
	}
	if !ValidPhone(phone) {
		return nil, ErrInvalidPhone
	}

	lang := in.Language
	if !lang.Valid() {
		lang = domain.LanguageEnglish
	}

	lead := &domain.Lead{
		Name:               name,
		PhoneNumber:        phone,
		LanguagePreference: lang,
	}
	if err := s.repo.UpsertLead(ctx, lead); err != nil {
		return nil, fmt.Errorf("save lead: %w", err)
	}

	if in.ConversationID > 0 {
		if err := s.repo.LinkLead(ctx, lead.ID, in.ConversationID); err != nil {
			s.logger.Warn("Failed to link lead to conversation",
				"lead_id", lead.ID,
				"conversation_id", in.ConversationID,
				"error", err,
			)
		}
	}

	s.logger.Info("Lead saved", "lead_id", lead.ID, "conversation_id", in.ConversationID)
	return lead, nil
}
