package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfiber/tera-assist/internal/cascade"
	"github.com/tfiber/tera-assist/internal/domain"
	"github.com/tfiber/tera-assist/internal/lead"
	"github.com/tfiber/tera-assist/internal/leadcapture"
	"github.com/tfiber/tera-assist/internal/locale"
	"github.com/tfiber/tera-assist/internal/store"
)

func lastEntry(turn Turn) Entry {
	return turn.Entries[len(turn.Entries)-1]
}

func onboard(t *testing.T, s *Session) Turn {
	t.Helper()
	ctx := context.Background()
	s.Start(ctx, domain.LanguageEnglish)
	_, err := s.Send(ctx, "Ravi")
	require.NoError(t, err)
	turn, err := s.Send(ctx, "9876543210")
	require.NoError(t, err)
	require.Equal(t, leadcapture.Completed, turn.State)
	return turn
}

func TestStartShowsNamePromptAndPersistsItOnce(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	s := NewSession("sess-1", testDeps(t, st, nil))
	en := texts(t, domain.LanguageEnglish)

	turn := s.Start(context.Background(), domain.LanguageEnglish)
	require.True(t, turn.Ready)
	require.Equal(t, leadcapture.AwaitingName, turn.State)
	require.Len(t, turn.Entries, 1)
	assert.Equal(t, en.NamePrompt, turn.Entries[0].Text)
	assert.True(t, turn.Entries[0].Saved)

	again := s.Start(context.Background(), domain.LanguageEnglish)
	assert.Len(t, again.Entries, 1)
	assert.Len(t, st.stored(turn.ConversationID), 1)
}

func TestStartFailureLeavesSessionNotReady(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	st.setResolveErr(errors.New("unable to open database file"))
	s := NewSession("sess-2", testDeps(t, st, nil))
	ctx := context.Background()

	turn := s.Start(ctx, domain.LanguageTelugu)
	require.False(t, turn.Ready)
	require.Len(t, turn.Notices, 1)
	assert.Equal(t, "Initialization Error", turn.Notices[0].Title)
	require.Len(t, turn.Entries, 1)
	assert.Equal(t, texts(t, domain.LanguageTelugu).NamePrompt, turn.Entries[0].Text)
	assert.False(t, turn.Entries[0].Saved)

	_, err := s.Send(ctx, "Ravi")
	require.ErrorIs(t, err, ErrNotReady)

	st.setResolveErr(nil)
	turn = s.Start(ctx, domain.LanguageTelugu)
	require.True(t, turn.Ready)
	require.Len(t, turn.Entries, 1, "retry must not prompt again")
	assert.True(t, turn.Entries[0].Saved)
	assert.Len(t, st.stored(turn.ConversationID), 1)
}

func TestSendRejectsEmptyText(t *testing.T) {
	t.Parallel()

	s := NewSession("sess-3", testDeps(t, newMemStore(), nil))
	s.Start(context.Background(), domain.LanguageEnglish)

	_, err := s.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSendBeforeStartIsNotReady(t *testing.T) {
	t.Parallel()

	s := NewSession("sess-4", testDeps(t, newMemStore(), nil))
	turn, err := s.Send(context.Background(), "hello")
	require.ErrorIs(t, err, ErrNotReady)
	require.Len(t, turn.Notices, 1)
	assert.Equal(t, "Chat Not Ready", turn.Notices[0].Title)
	assert.Empty(t, turn.Entries)
}

func TestLeadCaptureFlow(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	s := NewSession("sess-5", testDeps(t, st, nil))
	ctx := context.Background()
	en := texts(t, domain.LanguageEnglish)

	s.Start(ctx, domain.LanguageEnglish)

	turn, err := s.Send(ctx, "Ravi")
	require.NoError(t, err)
	assert.Equal(t, leadcapture.AwaitingPhone, turn.State)
	assert.Equal(t, locale.WithName(en.PhonePrompt, "Ravi"), lastEntry(turn).Text)

	turn, err = s.Send(ctx, "12345")
	require.NoError(t, err)
	assert.Equal(t, leadcapture.AwaitingPhone, turn.State)
	assert.Equal(t, en.InvalidPhone, lastEntry(turn).Text)

	turn, err = s.Send(ctx, "9876543210")
	require.NoError(t, err)
	assert.Equal(t, leadcapture.Completed, turn.State)
	n := len(turn.Entries)
	assert.Equal(t, locale.WithName(en.Thanks, "Ravi"), turn.Entries[n-2].Text)
	assert.Equal(t, en.Greeting, turn.Entries[n-1].Text)
	require.Len(t, turn.Notices, 1)
	assert.Equal(t, LevelInfo, turn.Notices[0].Level)

	st.mu.Lock()
	conv := st.convs["sess-5"]
	saved := st.leads["9876543210"]
	st.mu.Unlock()
	require.NotNil(t, saved)
	assert.Equal(t, "Ravi", saved.Name)
	require.True(t, conv.HasLead())
	assert.Equal(t, saved.ID, *conv.LeadID)

	stored := st.stored(turn.ConversationID)
	require.Len(t, stored, len(turn.Entries))
	for i, m := range stored {
		assert.Equal(t, turn.Entries[i].Text, m.Content, "order of message %d", i)
	}
}

func TestLeadSaveFailureStaysAwaitingPhone(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	st.upsertErr = errors.New("database is locked")
	s := NewSession("sess-6", testDeps(t, st, nil))
	ctx := context.Background()
	en := texts(t, domain.LanguageEnglish)

	s.Start(ctx, domain.LanguageEnglish)
	_, err := s.Send(ctx, "Sita")
	require.NoError(t, err)

	turn, err := s.Send(ctx, "9000000001")
	require.NoError(t, err)
	assert.Equal(t, leadcapture.AwaitingPhone, turn.State)
	n := len(turn.Entries)
	assert.Equal(t, en.SaveError, turn.Entries[n-2].Text)
	assert.Equal(t, locale.WithName(en.PhonePrompt, "Sita"), turn.Entries[n-1].Text)
	require.Len(t, turn.Notices, 1)
	assert.Equal(t, LevelError, turn.Notices[0].Level)
	assert.Contains(t, turn.Notices[0].Description, "database is locked")
}

func TestLanguageSwitchMidPhoneKeepsName(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	s := NewSession("sess-7", testDeps(t, st, nil))
	ctx := context.Background()

	s.Start(ctx, domain.LanguageEnglish)
	_, err := s.Send(ctx, "Ravi")
	require.NoError(t, err)

	turn := s.SetLanguage(ctx, domain.LanguageTelugu)
	assert.Equal(t, domain.LanguageTelugu, turn.Language)
	assert.Equal(t, leadcapture.AwaitingPhone, turn.State)
	last := lastEntry(turn)
	assert.Equal(t, locale.WithName(texts(t, domain.LanguageTelugu).PhonePrompt, "Ravi"), last.Text)
	assert.Equal(t, domain.LanguageTelugu, last.Language)
	assert.True(t, last.Saved)

	same := s.SetLanguage(ctx, domain.LanguageTelugu)
	assert.Len(t, same.Entries, len(turn.Entries), "switching to the current language is a no-op")
}

func TestCompletedQueriesGoThroughResponder(t *testing.T) {
	t.Parallel()

	elig := &domain.Eligibility{IsEligible: true, Details: "Service is available in 500081."}
	r := &fakeResponder{decision: cascade.Decision{Kind: cascade.KindEligibility, Text: elig.Details, Eligibility: elig}}
	st := newMemStore()
	s := NewSession("sess-8", testDeps(t, st, r))
	onboard(t, s)

	turn, err := s.Send(context.Background(), "500081")
	require.NoError(t, err)
	last := lastEntry(turn)
	assert.Equal(t, "Service is available in 500081.", last.Text)
	assert.True(t, last.IsEligibilityResult)
	assert.Equal(t, []string{"500081"}, r.queries)
}

func TestResponderFailureShowsLocalizedError(t *testing.T) {
	t.Parallel()

	r := &fakeResponder{err: errors.New("deadline exceeded")}
	s := NewSession("sess-9", testDeps(t, newMemStore(), r))
	onboard(t, s)

	turn, err := s.Send(context.Background(), "plans?")
	require.NoError(t, err)
	en := texts(t, domain.LanguageEnglish)
	assert.Equal(t, en.OracleError, lastEntry(turn).Text)
	require.Len(t, turn.Notices, 1)
	assert.Equal(t, en.ErrorTitle, turn.Notices[0].Title)
}

func TestStoreFailureDuringChatKeepsMessagesWithMarker(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	s := NewSession("sess-10", testDeps(t, st, nil))
	onboard(t, s)

	st.setAppendErr(errors.New("disk full"))
	turn, err := s.Send(context.Background(), "installation cost?")
	require.NoError(t, err)

	n := len(turn.Entries)
	assert.Equal(t, "installation cost?"+MarkerSendError, turn.Entries[n-2].Text)
	assert.True(t, strings.HasSuffix(turn.Entries[n-1].Text, MarkerSendError))
	assert.Len(t, turn.Notices, 2)
}

func TestStartRehydratesCompletedConversation(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	first := NewSession("sess-11", testDeps(t, st, nil))
	done := onboard(t, first)

	second := NewSession("sess-11", testDeps(t, st, nil))
	turn := second.Start(context.Background(), domain.LanguageEnglish)
	require.True(t, turn.Ready)
	assert.Equal(t, leadcapture.Completed, turn.State)
	require.Len(t, turn.Entries, len(done.Entries))
	for i := range turn.Entries {
		assert.Equal(t, done.Entries[i].Text, turn.Entries[i].Text)
	}
	assert.Len(t, st.stored(turn.ConversationID), len(done.Entries), "rehydration writes nothing")
}

func TestStartResumesPhoneStepWithCapturedName(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	first := NewSession("sess-12", testDeps(t, st, nil))
	first.Start(context.Background(), domain.LanguageEnglish)
	_, err := first.Send(context.Background(), "Ravi")
	require.NoError(t, err)

	second := NewSession("sess-12", testDeps(t, st, nil))
	turn := second.Start(context.Background(), domain.LanguageEnglish)
	require.True(t, turn.Ready)
	assert.Equal(t, leadcapture.AwaitingPhone, turn.State)
	require.Len(t, turn.Entries, 3, "no name prompt is queued on resume")
	assert.Len(t, st.stored(turn.ConversationID), 3)

	turn, err = second.Send(context.Background(), "9876543210")
	require.NoError(t, err)
	assert.Equal(t, leadcapture.Completed, turn.State)
	saved := st.lead("9876543210")
	require.NotNil(t, saved)
	assert.Equal(t, "Ravi", saved.Name)
}

func TestStartResumesCompletedWhenLeadLinkFailed(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	st.linkErr = errors.New("database is locked")
	responder := &fakeResponder{decision: cascade.Decision{Kind: cascade.KindFAQ, Text: "We offer 100 Mbps plans."}}

	first := NewSession("sess-13", testDeps(t, st, responder))
	done := onboard(t, first)

	second := NewSession("sess-13", testDeps(t, st, responder))
	turn := second.Start(context.Background(), domain.LanguageEnglish)
	require.True(t, turn.Ready)
	assert.Equal(t, leadcapture.Completed, turn.State)
	assert.Len(t, turn.Entries, len(done.Entries))

	turn, err := second.Send(context.Background(), "What plans do you offer?")
	require.NoError(t, err)
	assert.Equal(t, leadcapture.Completed, turn.State)
	assert.Equal(t, []string{"What plans do you offer?"}, responder.queries)
	assert.Equal(t, "We offer 100 Mbps plans.", turn.Entries[len(turn.Entries)-1].Text)
}

func TestStartWithoutRecordedProgressAsksForName(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	conv, err := st.ResolveConversation(context.Background(), "sess-14", domain.LanguageEnglish)
	require.NoError(t, err)
	require.NoError(t, st.AppendMessage(context.Background(), &domain.Message{
		ConversationID: conv.ID, Sender: domain.SenderBot, Content: "Hello!", Language: domain.LanguageEnglish,
	}))

	s := NewSession("sess-14", testDeps(t, st, nil))
	turn := s.Start(context.Background(), domain.LanguageEnglish)
	assert.Equal(t, leadcapture.AwaitingName, turn.State)
	require.Len(t, turn.Entries, 2)
	assert.Equal(t, texts(t, domain.LanguageEnglish).NamePrompt, turn.Entries[1].Text)
	assert.Len(t, st.stored(conv.ID), 2)
}

func TestSessionAgainstSQLite(t *testing.T) {
	t.Parallel()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	deps := Deps{
		Store:     repo,
		Leads:     lead.NewService(repo, nil),
		Responder: &fakeResponder{decision: cascade.Decision{Kind: cascade.KindFAQ, Text: "Visit our website for pricing."}},
		Catalog:   testCatalog(t),
	}
	s := NewSession("sess-sqlite", deps)
	onboard(t, s)
	turn, err := s.Send(context.Background(), "plans")
	require.NoError(t, err)

	history, err := repo.ListMessages(context.Background(), turn.ConversationID)
	require.NoError(t, err)
	require.Len(t, history, len(turn.Entries))
	for i, m := range history {
		assert.Equal(t, turn.Entries[i].Text, m.Content)
		assert.Equal(t, turn.Entries[i].ID, m.ID)
	}

	conv, err := repo.GetConversationBySession(context.Background(), "sess-sqlite")
	require.NoError(t, err)
	assert.True(t, conv.HasLead())
}
