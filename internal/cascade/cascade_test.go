package cascade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfiber/tera-assist/internal/domain"
	"github.com/tfiber/tera-assist/internal/locale"
	"github.com/tfiber/tera-assist/internal/oracle"
)

func texts(t *testing.T, lang domain.Language) locale.Texts {
	t.Helper()
	c, err := locale.Load()
	require.NoError(t, err)
	return c.For(lang)
}

func TestDecidePrecedence(t *testing.T) {
	t.Parallel()

	en := texts(t, domain.LanguageEnglish)
	guidance := domain.Eligibility{Details: "Please provide your PIN code or city to check availability."}

	cases := []struct {
		name string
		out  Outputs
		kind Kind
		text string
	}{
		{
			name: "actual eligibility wins",
			out: Outputs{
				Eligibility: domain.Eligibility{IsEligible: true, Details: "Service is available in 500081."},
				FAQ:         "Our plans start at 399 per month.",
				Content:     "T-Fiber provides broadband across Telangana.",
			},
			kind: KindEligibility,
			text: "Service is available in 500081.",
		},
		{
			name: "guidance defers to faq",
			out:  Outputs{Eligibility: guidance, FAQ: "Our plans start at 399 per month.", Content: "whatever"},
			kind: KindFAQ,
			text: "Our plans start at 399 per month.",
		},
		{
			name: "unknown faq defers to content",
			out:  Outputs{Eligibility: guidance, FAQ: "I do not know.", Content: "T-Fiber provides broadband across Telangana."},
			kind: KindContent,
			text: "T-Fiber provides broadband across Telangana.",
		},
		// Rule 4 matches the guidance phrase before the apology fallback, so
		// this combination renders the guidance details.
		{
			name: "guidance shown when nothing else helps",
			out:  Outputs{Eligibility: guidance, FAQ: "I do not know.", Content: "Could you rephrase?"},
			kind: KindGuidance,
			text: guidance.Details,
		},
		{
			name: "apology when eligibility is empty",
			out:  Outputs{FAQ: "I don't know", Content: "I can't find specific information on that topic, sorry."},
			kind: KindApology,
			text: en.Apology,
		},
		{
			name: "short faq answer is unknown",
			out:  Outputs{Eligibility: domain.Eligibility{Details: "To check service availability, share a PIN."}, FAQ: "  Yes.  ", Content: "short"},
			kind: KindGuidance,
			text: "To check service availability, share a PIN.",
		},
	}
	for _, tc := range cases {
		got := Decide(tc.out, en)
		assert.Equal(t, tc.kind, got.Kind, tc.name)
		assert.Equal(t, tc.text, got.Text, tc.name)
		if tc.kind == KindEligibility {
			require.NotNil(t, got.Eligibility, tc.name)
			assert.True(t, got.Eligibility.IsEligible, tc.name)
		} else {
			assert.Nil(t, got.Eligibility, tc.name)
		}
	}
}

func TestDecideUsesLanguageUnknownPhrases(t *testing.T) {
	t.Parallel()

	te := texts(t, domain.LanguageTelugu)
	out := Outputs{FAQ: "క్షమించండి, నాకు తెలియదు. దయచేసి వేరే ప్రశ్న అడగండి.", Content: "tiny"}

	got := Decide(out, te)
	assert.Equal(t, KindApology, got.Kind)
	assert.Equal(t, te.Apology, got.Text)
}

func TestPhraseMatchingIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	assert.False(t, IsActualEligibility("PLEASE PROVIDE A VALID PIN code"))
	assert.True(t, IsUnknownFAQ("Sorry, I DO NOT KNOW that one.", []string{"i do not know"}))
	assert.True(t, IsUnhelpfulContent("I Do Not Have Information about that request at all."))
}

type fakeOracles struct {
	elig      domain.Eligibility
	faq       string
	content   string
	faqErr    error
	block     bool
	faqCorpus chan string
}

func (f *fakeOracles) CheckEligibility(ctx context.Context, _ string) (domain.Eligibility, error) {
	if f.block {
		<-ctx.Done()
		return domain.Eligibility{}, ctx.Err()
	}
	return f.elig, nil
}

func (f *fakeOracles) AnswerFAQ(_ context.Context, _, faq string) (string, error) {
	if f.faqCorpus != nil {
		f.faqCorpus <- faq
	}
	return f.faq, f.faqErr
}

func (f *fakeOracles) RetrieveContent(context.Context, string) (string, error) {
	return f.content, nil
}

func newArbiter(t *testing.T, f *fakeOracles, timeout time.Duration) *Arbiter {
	t.Helper()
	c, err := locale.Load()
	require.NoError(t, err)
	return NewArbiter(&oracle.Set{Eligibility: f, FAQ: f, Content: f}, c, timeout, nil)
}

func TestArbiterRespond(t *testing.T) {
	t.Parallel()

	corpus := make(chan string, 1)
	f := &fakeOracles{
		elig:      domain.Eligibility{Details: "To check service availability, please provide your PIN code or city."},
		faq:       "Standard installation is free for most plans.",
		faqCorpus: corpus,
	}
	a := newArbiter(t, f, time.Second)

	d, err := a.Respond(context.Background(), "installation cost?", domain.LanguageTelugu)
	require.NoError(t, err)
	assert.Equal(t, KindFAQ, d.Kind)
	assert.Equal(t, texts(t, domain.LanguageTelugu).FAQ, <-corpus, "faq corpus follows language")
}

func TestArbiterAnyErrorAbortsTurn(t *testing.T) {
	t.Parallel()

	f := &fakeOracles{
		elig:   domain.Eligibility{IsEligible: true, Details: "Service is available in 500081."},
		faqErr: errors.New("model overloaded"),
	}
	a := newArbiter(t, f, time.Second)

	d, err := a.Respond(context.Background(), "500081", domain.LanguageEnglish)
	require.Error(t, err)
	assert.Equal(t, KindError, d.Kind)
	assert.Equal(t, texts(t, domain.LanguageEnglish).OracleError, d.Text)
	assert.Nil(t, d.Eligibility)
}

func TestArbiterTimeoutIsAFailure(t *testing.T) {
	t.Parallel()

	a := newArbiter(t, &fakeOracles{block: true}, 20*time.Millisecond)

	start := time.Now()
	d, err := a.Respond(context.Background(), "hello", domain.LanguageEnglish)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, KindError, d.Kind)
	assert.Less(t, time.Since(start), 2*time.Second)
}
