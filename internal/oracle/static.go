package oracle

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/tfiber/tera-assist/internal/domain"
)

//go:embed service_areas.yaml
var embeddedServiceAreas []byte

// ServiceArea is a served city with its PIN code prefixes.
type ServiceArea struct {
	City        string   `yaml:"city"`
	Aliases     []string `yaml:"aliases"`
	PINPrefixes []string `yaml:"pin_prefixes"`
}

// ServiceAreas is the coverage list used by the static eligibility checker.
type ServiceAreas struct {
	Areas []ServiceArea `yaml:"areas"`
}

// LoadServiceAreas reads coverage from path, or the built-in list when path
// is empty.
func LoadServiceAreas(path string) (*ServiceAreas, error) {
	data := embeddedServiceAreas
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read service areas: %w", err)
		}
		data = b
	}

	var areas ServiceAreas
	if err := yaml.Unmarshal(data, &areas); err != nil {
		return nil, fmt.Errorf("parse service areas: %w", err)
	}
	if len(areas.Areas) == 0 {
		return nil, fmt.Errorf("parse service areas: no areas defined")
	}
	return &areas, nil
}

const (
	guidanceNoLocation = "To check service availability, please provide your PIN code or city."
	guidanceInvalidPIN = "Please provide a valid PIN code (6 digits) or city name."
	faqUnknownEnglish  = "I do not know the answer to that."
	faqUnknownTelugu   = "నాకు తెలియదు."
	contentUnavailable = "I can't find specific information about that right now. Could you please rephrase your question?"
)

var (
	pinPattern      = regexp.MustCompile(`\b\d{6}\b`)
	digitRunPattern = regexp.MustCompile(`\d{4,}`)
)

// Static answers from local data only: a coverage list for eligibility and
// token overlap against the FAQ corpus. It has no content source, so content
// retrieval always reports that nothing was found.
type Static struct {
	areas atomic.Pointer[ServiceAreas]
}

// NewStatic creates a static oracle over the given coverage list.
func NewStatic(areas *ServiceAreas) *Static {
	s := &Static{}
	s.SetAreas(areas)
	return s
}

// SetAreas replaces the coverage list. Queries in flight keep the list they
// started with.
func (s *Static) SetAreas(areas *ServiceAreas) {
	if areas == nil {
		areas = &ServiceAreas{}
	}
	s.areas.Store(areas)
}

// CheckEligibility looks for a PIN code first, then a city name.
func (s *Static) CheckEligibility(ctx context.Context, location string) (domain.Eligibility, error) {
	if err := ctx.Err(); err != nil {
		return domain.Eligibility{}, err
	}

	areas := s.areas.Load()
	if pin := pinPattern.FindString(location); pin != "" {
		for _, area := range areas.Areas {
			for _, prefix := range area.PINPrefixes {
				if strings.HasPrefix(pin, prefix) {
					return domain.Eligibility{
						IsEligible: true,
						Details:    fmt.Sprintf("Good news! T-Fiber service is available for PIN code %s (%s).", pin, area.City),
					}, nil
				}
			}
		}
		return domain.Eligibility{
			IsEligible: false,
			Details:    fmt.Sprintf("Sorry, T-Fiber service is not yet available for PIN code %s.", pin),
		}, nil
	}

	lower := strings.ToLower(location)
	for _, area := range areas.Areas {
		names := append([]string{area.City}, area.Aliases...)
		for _, name := range names {
			if name != "" && strings.Contains(lower, strings.ToLower(name)) {
				return domain.Eligibility{
					IsEligible: true,
					Details:    fmt.Sprintf("Good news! T-Fiber service is available in %s.", area.City),
				}, nil
			}
		}
	}

	if digitRunPattern.MatchString(location) {
		return domain.Eligibility{Details: guidanceInvalidPIN}, nil
	}
	return domain.Eligibility{Details: guidanceNoLocation}, nil
}

type faqEntry struct {
	question []string
	answer   string
}

// AnswerFAQ returns the answer whose question shares the most tokens with
// the query. Corpus entries are blank-line separated blocks of a question
// line and an answer, each introduced by a label and a colon.
func (s *Static) AnswerFAQ(ctx context.Context, query, faq string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	unknown := faqUnknownEnglish
	if isTelugu(faq) {
		unknown = faqUnknownTelugu
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return unknown, nil
	}

	best, bestScore := "", 0
	for _, entry := range parseFAQ(faq) {
		score := overlap(queryTokens, entry.question)
		if score > bestScore {
			best, bestScore = entry.answer, score
		}
	}

	minScore := 2
	if len(queryTokens) == 1 {
		minScore = 1
	}
	if bestScore < minScore || best == "" {
		return unknown, nil
	}
	return best, nil
}

// RetrieveContent has no content source to search.
func (s *Static) RetrieveContent(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return contentUnavailable, nil
}

func parseFAQ(faq string) []faqEntry {
	var entries []faqEntry
	for _, block := range strings.Split(strings.ReplaceAll(faq, "\r\n", "\n"), "\n\n") {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 2 {
			continue
		}
		question := stripLabel(lines[0])
		answer := stripLabel(strings.Join(lines[1:], " "))
		if question == "" || answer == "" {
			continue
		}
		entries = append(entries, faqEntry{question: tokenize(question), answer: answer})
	}
	return entries
}

func stripLabel(line string) string {
	if _, rest, ok := strings.Cut(line, ":"); ok {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(line)
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "what": {}, "how": {}, "can": {}, "does": {}, "for": {},
	"are": {}, "you": {}, "your": {}, "with": {}, "this": {}, "that": {}, "about": {},
	"much": {}, "tell": {}, "have": {}, "there": {}, "any": {},
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsMark(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 3 {
			continue
		}
		if _, skip := stopwords[f]; skip {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func overlap(a, b []string) int {
	set := make(map[string]struct{}, len(b))
	for _, t := range b {
		set[t] = struct{}{}
	}
	n := 0
	seen := make(map[string]struct{}, len(a))
	for _, t := range a {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			n++
		}
	}
	return n
}

func isTelugu(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Telugu, r) {
			return true
		}
	}
	return false
}
