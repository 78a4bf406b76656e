package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tfiber/tera-assist/internal/cascade"
	"github.com/tfiber/tera-assist/internal/domain"
	"github.com/tfiber/tera-assist/internal/lead"
	"github.com/tfiber/tera-assist/internal/locale"
	"github.com/tfiber/tera-assist/internal/store"
)

// memStore is an in-memory store with switchable failures.
type memStore struct {
	mu         sync.Mutex
	convs      map[string]*domain.Conversation
	msgs       map[int64][]*domain.Message
	leads      map[string]*domain.Lead
	nextID     int64
	resolveErr error
	appendErr  error
	upsertErr  error
	linkErr    error
}

func newMemStore() *memStore {
	return &memStore{
		convs: make(map[string]*domain.Conversation),
		msgs:  make(map[int64][]*domain.Message),
		leads: make(map[string]*domain.Lead),
	}
}

func (m *memStore) ResolveConversation(_ context.Context, sessionID string, lang domain.Language) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolveErr != nil {
		return nil, m.resolveErr
	}
	if c, ok := m.convs[sessionID]; ok {
		cp := *c
		return &cp, nil
	}
	m.nextID++
	c := &domain.Conversation{ID: m.nextID, SessionID: sessionID, InitialLanguage: lang, StartedAt: time.Now(), LastActivityAt: time.Now()}
	m.convs[sessionID] = c
	cp := *c
	return &cp, nil
}

func (m *memStore) ListMessages(_ context.Context, conversationID int64) ([]*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Message, len(m.msgs[conversationID]))
	copy(out, m.msgs[conversationID])
	return out, nil
}

func (m *memStore) AppendMessage(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.nextID++
	msg.ID = m.nextID
	msg.Timestamp = time.Now()
	cp := *msg
	m.msgs[msg.ConversationID] = append(m.msgs[msg.ConversationID], &cp)
	return nil
}

func (m *memStore) UpsertLead(_ context.Context, l *domain.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if existing, ok := m.leads[l.PhoneNumber]; ok {
		existing.Name = l.Name
		l.ID = existing.ID
		return nil
	}
	m.nextID++
	l.ID = m.nextID
	cp := *l
	m.leads[l.PhoneNumber] = &cp
	return nil
}

func (m *memStore) LinkLead(_ context.Context, leadID, conversationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.linkErr != nil {
		return m.linkErr
	}
	for _, c := range m.convs {
		if c.ID == conversationID {
			id := leadID
			c.LeadID = &id
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) SaveOnboarding(_ context.Context, conversationID int64, state, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.convs {
		if c.ID == conversationID {
			c.OnboardingState = state
			c.CapturedName = name
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) lead(phone string) *domain.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leads[phone]; ok {
		cp := *l
		return &cp
	}
	return nil
}

func (m *memStore) stored(conversationID int64) []*domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Message(nil), m.msgs[conversationID]...)
}

func (m *memStore) setAppendErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendErr = err
}

func (m *memStore) setResolveErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolveErr = err
}

// fakeResponder returns a fixed decision and records concurrency.
type fakeResponder struct {
	mu        sync.Mutex
	decision  cascade.Decision
	err       error
	delay     time.Duration
	inFlight  int
	maxFlight int
	queries   []string
}

func (f *fakeResponder) Respond(_ context.Context, query string, _ domain.Language) (cascade.Decision, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	return f.decision, f.err
}

func testCatalog(t *testing.T) *locale.Catalog {
	t.Helper()
	c, err := locale.Load()
	require.NoError(t, err)
	return c
}

func testDeps(t *testing.T, st *memStore, r Responder) Deps {
	t.Helper()
	if r == nil {
		r = &fakeResponder{decision: cascade.Decision{Kind: cascade.KindFAQ, Text: "Standard installation is free."}}
	}
	return Deps{
		Store:     st,
		Leads:     lead.NewService(st, nil),
		Responder: r,
		Catalog:   testCatalog(t),
	}
}

func texts(t *testing.T, lang domain.Language) locale.Texts {
	t.Helper()
	return testCatalog(t).For(lang)
}
