// Package oracle defines the answer sources consulted for every visitor
// query and provides their backends.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tfiber/tera-assist/internal/domain"
)

// EligibilityChecker decides whether service is available at a location
// mentioned in free text. When no location can be found the details carry
// guidance asking the visitor for a PIN code or city.
type EligibilityChecker interface {
	CheckEligibility(ctx context.Context, location string) (domain.Eligibility, error)
}

// FAQAnswerer answers a query from the given FAQ corpus.
type FAQAnswerer interface {
	AnswerFAQ(ctx context.Context, query, faq string) (string, error)
}

// ContentRetriever answers open-ended queries.
type ContentRetriever interface {
	RetrieveContent(ctx context.Context, query string) (string, error)
}

// Set groups the three oracles consulted per query.
type Set struct {
	Eligibility EligibilityChecker
	FAQ         FAQAnswerer
	Content     ContentRetriever

	close func() error
}

// Close releases backend resources.
func (s *Set) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// Health checks the backend when it runs out of process. In-process
// backends are always healthy.
func (s *Set) Health(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if h, ok := s.Eligibility.(interface{ Health(context.Context) error }); ok {
		return h.Health(ctx)
	}
	return nil
}

// Backend names.
const (
	BackendStatic = "static"
	BackendGemini = "gemini"
	BackendGRPC   = "grpc"
)

// Config selects and configures a backend.
type Config struct {
	Backend           string
	GeminiAPIKey      string
	GeminiModel       string
	GRPCAddr          string
	ConnectTimeout    time.Duration
	ServiceAreasFile  string
	WatchServiceAreas bool // reload ServiceAreasFile when it changes
}

// New builds the oracle set for the configured backend.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case "", BackendStatic:
		areas, err := LoadServiceAreas(cfg.ServiceAreasFile)
		if err != nil {
			return nil, err
		}
		st := NewStatic(areas)
		logger.Info("Using static oracle backend", "areas", len(areas.Areas))
		set := &Set{Eligibility: st, FAQ: st, Content: st}
		if cfg.WatchServiceAreas && cfg.ServiceAreasFile != "" {
			w, err := WatchServiceAreas(cfg.ServiceAreasFile, st, logger)
			if err != nil {
				return nil, err
			}
			set.close = w.Close
		}
		return set, nil

	case BackendGemini:
		g, err := NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Using Gemini oracle backend", "model", g.model)
		return &Set{Eligibility: g, FAQ: g, Content: g}, nil

	case BackendGRPC:
		r, err := DialRemote(ctx, cfg.GRPCAddr, cfg.ConnectTimeout, logger)
		if err != nil {
			return nil, err
		}
		return &Set{Eligibility: r, FAQ: r, Content: r, close: r.Close}, nil
	}

	return nil, fmt.Errorf("unknown oracle backend %q", cfg.Backend)
}

var errEmptyAnswer = errors.New("oracle returned an empty answer")
