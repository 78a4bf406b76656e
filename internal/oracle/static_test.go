package oracle

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfiber/tera-assist/internal/domain"
	"github.com/tfiber/tera-assist/internal/locale"
)

func newStatic(t *testing.T) *Static {
	t.Helper()
	areas, err := LoadServiceAreas("")
	require.NoError(t, err)
	return NewStatic(areas)
}

func TestStaticEligibility(t *testing.T) {
	t.Parallel()

	s := newStatic(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		in       string
		eligible bool
		contains string
	}{
		{"served pin", "500081", true, "Hyderabad"},
		{"served pin in sentence", "Is service available at 506002?", true, "Warangal"},
		{"unserved pin", "110001", false, "not yet available"},
		{"city", "Is service available in Karimnagar?", true, "Karimnagar"},
		{"telugu city", "వరంగల్‌లో సేవ ఉందా?", true, "Warangal"},
		{"short number", "5000", false, "valid PIN"},
		{"no location", "What plans do you have?", false, "To check service availability"},
	}
	for _, tc := range cases {
		got, err := s.CheckEligibility(ctx, tc.in)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.eligible, got.IsEligible, tc.name)
		assert.Contains(t, got.Details, tc.contains, tc.name)
	}
}

func TestStaticFAQ(t *testing.T) {
	t.Parallel()

	catalog, err := locale.Load()
	require.NoError(t, err)
	s := newStatic(t)
	ctx := context.Background()
	en := catalog.For(domain.LanguageEnglish).FAQ

	answer, err := s.AnswerFAQ(ctx, "What broadband plans are available?", en)
	require.NoError(t, err)
	assert.Contains(t, answer, "Premium (300 Mbps)")

	answer, err = s.AnswerFAQ(ctx, "How do I pay my bill?", en)
	require.NoError(t, err)
	assert.Contains(t, answer, "pay your bill online")

	answer, err = s.AnswerFAQ(ctx, "Who won the cricket match?", en)
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(answer), "i do not know")

	answer, err = s.AnswerFAQ(ctx, "Who won the cricket match?", catalog.For(domain.LanguageTelugu).FAQ)
	require.NoError(t, err)
	assert.Contains(t, answer, "నాకు తెలియదు")
}

func TestStaticContentIsAlwaysUnhelpful(t *testing.T) {
	t.Parallel()

	got, err := newStatic(t).RetrieveContent(context.Background(), "anything")
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(got), "could you please rephrase")
}

func TestStaticHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newStatic(t)
	_, err := s.CheckEligibility(ctx, "500081")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadServiceAreasFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "areas.yaml")
	require.NoError(t, os.WriteFile(path, []byte("areas:\n  - city: Adilabad\n    pin_prefixes: [\"5040\"]\n"), 0o600))

	areas, err := LoadServiceAreas(path)
	require.NoError(t, err)
	require.Len(t, areas.Areas, 1)

	got, err := NewStatic(areas).CheckEligibility(context.Background(), "504001")
	require.NoError(t, err)
	assert.True(t, got.IsEligible)

	require.NoError(t, os.WriteFile(path, []byte("areas: []\n"), 0o600))
	_, err = LoadServiceAreas(path)
	assert.Error(t, err)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Backend: "carrier-pigeon"}, nil)
	assert.Error(t, err)

	set, err := New(context.Background(), Config{Backend: BackendStatic}, nil)
	require.NoError(t, err)
	assert.NoError(t, set.Close())
}

func TestSetHealthInProcess(t *testing.T) {
	set, err := New(context.Background(), Config{Backend: BackendStatic}, nil)
	require.NoError(t, err)
	require.NoError(t, set.Health(context.Background()))
	require.NoError(t, set.Close())
}
