// Package locale holds the user-facing texts of the assistant in every
// supported language.
package locale

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tfiber/tera-assist/internal/domain"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// Texts is the set of texts for one language.
type Texts struct {
	Greeting       string   `yaml:"greeting"`
	NamePrompt     string   `yaml:"name_prompt"`
	PhonePrompt    string   `yaml:"phone_prompt"`
	InvalidPhone   string   `yaml:"invalid_phone"`
	Thanks         string   `yaml:"thanks"`
	SaveSuccess    string   `yaml:"save_success"`
	SaveError      string   `yaml:"save_error"`
	Apology        string   `yaml:"apology"`
	OracleError    string   `yaml:"oracle_error"`
	ErrorTitle     string   `yaml:"error_title"`
	UnknownPhrases []string `yaml:"unknown_phrases"`
	FAQ            string   `yaml:"faq"`
}

// Catalog maps languages to their texts.
type Catalog struct {
	texts map[domain.Language]Texts
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(embeddedCatalog)
}

// Parse builds a catalog from YAML. Every supported language must be present
// with all prompt texts filled in.
func Parse(data []byte) (*Catalog, error) {
	raw := make(map[string]Texts)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{texts: make(map[domain.Language]Texts, len(raw))}
	for code, t := range raw {
		lang := domain.Language(code)
		if !lang.Valid() {
			return nil, fmt.Errorf("parse catalog: unsupported language %q", code)
		}
		c.texts[lang] = t
	}

	var errs []error
	for _, lang := range []domain.Language{domain.LanguageEnglish, domain.LanguageTelugu} {
		t, ok := c.texts[lang]
		if !ok {
			errs = append(errs, fmt.Errorf("language %q missing", lang))
			continue
		}
		if err := t.validate(); err != nil {
			errs = append(errs, fmt.Errorf("language %q: %w", lang, err))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("parse catalog: %w", errors.Join(errs...))
	}
	return c, nil
}

func (t Texts) validate() error {
	required := map[string]string{
		"greeting":      t.Greeting,
		"name_prompt":   t.NamePrompt,
		"phone_prompt":  t.PhonePrompt,
		"invalid_phone": t.InvalidPhone,
		"thanks":        t.Thanks,
		"save_error":    t.SaveError,
		"apology":       t.Apology,
		"oracle_error":  t.OracleError,
	}
	var missing []string
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing texts: %s", strings.Join(missing, ", "))
	}
	return nil
}

// For returns the texts for lang, falling back to English.
func (c *Catalog) For(lang domain.Language) Texts {
	if t, ok := c.texts[lang]; ok {
		return t
	}
	return c.texts[domain.LanguageEnglish]
}

// WithName substitutes the visitor's name into a text.
func WithName(text, name string) string {
	return strings.ReplaceAll(text, "{name}", name)
}
