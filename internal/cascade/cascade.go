// Package cascade picks the single reply to a visitor query from the outputs
// of the eligibility, FAQ and content oracles.
package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/tfiber/tera-assist/internal/domain"
	"github.com/tfiber/tera-assist/internal/locale"
	"github.com/tfiber/tera-assist/internal/oracle"
)

// Kind says which rule produced a decision.
type Kind string

const (
	KindEligibility Kind = "eligibility"
	KindFAQ         Kind = "faq"
	KindContent     Kind = "content"
	KindGuidance    Kind = "guidance"
	KindApology     Kind = "apology"
	KindError       Kind = "error"
)

// Outputs holds the three oracle results for one query.
type Outputs struct {
	Eligibility domain.Eligibility
	FAQ         string
	Content     string
}

// Decision is the reply chosen for a query. Eligibility is set only for
// KindEligibility.
type Decision struct {
	Kind        Kind
	Text        string
	Eligibility *domain.Eligibility
}

// Eligibility details containing one of these are a request for a location,
// not an availability answer.
var guidancePhrases = []string{
	"please provide your pin",
	"please provide your city",
	"please provide a valid pin",
	"please enter your pin code or city",
	"to check service availability",
}

// Eligibility details that may be shown as guidance when nothing else helped.
var guidanceFallbackPhrases = []string{
	"please provide",
	"to check service",
}

var unhelpfulContentPhrases = []string{
	"can't find specific information",
	"could you please rephrase",
	"i do not have information",
}

const (
	minFAQRunes     = 10
	minContentRunes = 20
)

func containsAny(s string, phrases []string) bool {
	lower := strings.ToLower(s)
	for _, p := range phrases {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// IsActualEligibility reports whether details answer an availability
// question rather than asking for a location.
func IsActualEligibility(details string) bool {
	return details != "" && !containsAny(details, guidancePhrases)
}

// IsUnknownFAQ reports whether an FAQ answer is a non-answer in the given
// language.
func IsUnknownFAQ(answer string, unknownPhrases []string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(answer)) < minFAQRunes || containsAny(answer, unknownPhrases)
}

// IsUnhelpfulContent reports whether a content answer is a non-answer.
func IsUnhelpfulContent(response string) bool {
	return utf8.RuneCountInString(response) < minContentRunes || containsAny(response, unhelpfulContentPhrases)
}

// Decide applies the precedence rules; the first match wins.
func Decide(out Outputs, texts locale.Texts) Decision {
	details := out.Eligibility.Details

	switch {
	case IsActualEligibility(details):
		elig := out.Eligibility
		return Decision{Kind: KindEligibility, Text: details, Eligibility: &elig}
	case !IsUnknownFAQ(out.FAQ, texts.UnknownPhrases):
		return Decision{Kind: KindFAQ, Text: out.FAQ}
	case !IsUnhelpfulContent(out.Content):
		return Decision{Kind: KindContent, Text: out.Content}
	case containsAny(details, guidanceFallbackPhrases):
		return Decision{Kind: KindGuidance, Text: details}
	default:
		return Decision{Kind: KindApology, Text: texts.Apology}
	}
}

// Arbiter consults the oracles concurrently and decides on a reply.
type Arbiter struct {
	oracles *oracle.Set
	catalog *locale.Catalog
	timeout time.Duration
	logger  *slog.Logger
}

// NewArbiter creates an arbiter. A zero timeout leaves oracle calls bounded
// only by the caller's context.
func NewArbiter(oracles *oracle.Set, catalog *locale.Catalog, timeout time.Duration, logger *slog.Logger) *Arbiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbiter{oracles: oracles, catalog: catalog, timeout: timeout, logger: logger}
}

// Respond issues all three oracle calls at once and waits for every one of
// them. If any call fails the partial results are discarded and the
// localized error decision is returned together with the error.
func (a *Arbiter) Respond(ctx context.Context, query string, lang domain.Language) (Decision, error) {
	texts := a.catalog.For(lang)

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	var out Outputs
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := a.oracles.Eligibility.CheckEligibility(gctx, query)
		if err != nil {
			return fmt.Errorf("eligibility: %w", err)
		}
		out.Eligibility = res
		return nil
	})
	g.Go(func() error {
		res, err := a.oracles.FAQ.AnswerFAQ(gctx, query, texts.FAQ)
		if err != nil {
			return fmt.Errorf("faq: %w", err)
		}
		out.FAQ = res
		return nil
	})
	g.Go(func() error {
		res, err := a.oracles.Content.RetrieveContent(gctx, query)
		if err != nil {
			return fmt.Errorf("content: %w", err)
		}
		out.Content = res
		return nil
	})

	if err := g.Wait(); err != nil {
		a.logger.Warn("Oracle call failed", "language", lang, "error", err)
		return Decision{Kind: KindError, Text: texts.OracleError}, err
	}

	d := Decide(out, texts)
	a.logger.Debug("Cascade decided", "kind", d.Kind, "language", lang)
	return d, nil
}
