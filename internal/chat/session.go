package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tfiber/tera-assist/internal/cascade"
	"github.com/tfiber/tera-assist/internal/domain"
	"github.com/tfiber/tera-assist/internal/lead"
	"github.com/tfiber/tera-assist/internal/leadcapture"
	"github.com/tfiber/tera-assist/internal/locale"
)

var (
	// ErrNotReady is returned for turns before the conversation is resolved.
	ErrNotReady = errors.New("chat session is not ready")
	// ErrEmptyMessage is returned for blank visitor messages.
	ErrEmptyMessage = errors.New("message is empty")
)

// Store is the persistence a session needs.
type Store interface {
	MessageStore
	ResolveConversation(ctx context.Context, sessionID string, lang domain.Language) (*domain.Conversation, error)
	ListMessages(ctx context.Context, conversationID int64) ([]*domain.Message, error)
	SaveOnboarding(ctx context.Context, conversationID int64, state, name string) error
}

// LeadSaver persists a captured lead.
type LeadSaver interface {
	Save(ctx context.Context, in lead.Input) (*domain.Lead, error)
}

// Responder answers a visitor query.
type Responder interface {
	Respond(ctx context.Context, query string, lang domain.Language) (cascade.Decision, error)
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Store        Store
	Leads        LeadSaver
	Responder    Responder
	Catalog      *locale.Catalog
	StoreTimeout time.Duration
	Logger       *slog.Logger
}

// Turn is the state of a session after a call.
type Turn struct {
	SessionID      string            `json:"session_id"`
	ConversationID int64             `json:"conversation_id,omitempty"`
	Entries        []Entry           `json:"entries"`
	Notices        []Notice          `json:"notices,omitempty"`
	State          leadcapture.State `json:"state"`
	Ready          bool              `json:"ready"`
	Language       domain.Language   `json:"language"`
}

// Session is one visitor's conversation. It is not safe for concurrent use;
// Manager runs all calls for a session on a single goroutine.
type Session struct {
	id      string
	deps    Deps
	logger  *slog.Logger
	lang    domain.Language
	machine leadcapture.Machine
	rec     *Recorder
	started bool
	ready   bool
}

// NewSession creates an unstarted session for the given token.
func NewSession(id string, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", id)
	return &Session{
		id:      id,
		deps:    deps,
		logger:  logger,
		lang:    domain.LanguageEnglish,
		machine: leadcapture.New(),
		rec:     NewRecorder(deps.Store, deps.StoreTimeout, logger),
	}
}

// Start opens the chat. The first call shows the name prompt, then resolves
// the conversation for the session token. When resolution fails the session
// stays not ready and a later Start retries without prompting again.
func (s *Session) Start(ctx context.Context, lang domain.Language) Turn {
	if !s.started {
		s.started = true
		if lang.Valid() {
			s.lang = lang
		}
		s.apply(ctx, leadcapture.Entered{})
	}
	if s.ready {
		return s.snapshot()
	}

	conv, err := s.resolve(ctx)
	if err != nil {
		s.logger.Error("Failed to initialize conversation", "error", err)
		s.rec.Notify(Notice{
			Level:       LevelError,
			Title:       "Initialization Error",
			Description: "Could not initialize chat session. Please refresh.",
		})
		return s.snapshot()
	}

	history, err := s.history(ctx, conv.ID)
	if err != nil {
		// History is a convenience; the conversation itself is usable.
		s.logger.Warn("Failed to load conversation history", "conversation_id", conv.ID, "error", err)
	}

	s.machine = resumeMachine(conv)
	switch {
	case s.machine.State != leadcapture.AwaitingName:
		// The queued name prompt no longer applies.
		s.rec.Rehydrate(history, false)
		s.rec.Attach(ctx, conv.ID)
		if len(history) == 0 {
			s.apply(ctx, leadcapture.LanguageChanged{Language: s.lang})
		}
	case len(history) > 0:
		s.rec.Rehydrate(history, true)
		s.rec.Attach(ctx, conv.ID)
	default:
		s.rec.Attach(ctx, conv.ID)
	}

	s.ready = true
	s.logger.Info("Chat session ready",
		"conversation_id", conv.ID,
		"state", s.machine.State,
		"history", len(history),
	)
	return s.snapshot()
}

// Send handles a visitor message.
func (s *Session) Send(ctx context.Context, text string) (Turn, error) {
	if strings.TrimSpace(text) == "" {
		return s.snapshot(), ErrEmptyMessage
	}
	if !s.ready {
		s.rec.Notify(Notice{Level: LevelError, Title: "Chat Not Ready", Description: "Please wait for the chat to initialize."})
		return s.snapshot(), ErrNotReady
	}

	s.rec.Record(ctx, Record{Text: text, Sender: domain.SenderUser, Language: s.lang})
	s.apply(ctx, leadcapture.UserText{Text: text})
	return s.snapshot(), nil
}

// SetLanguage switches the conversation language and re-renders the
// current onboarding prompt, or the greeting once onboarding is done.
func (s *Session) SetLanguage(ctx context.Context, lang domain.Language) Turn {
	if !lang.Valid() || lang == s.lang {
		return s.snapshot()
	}
	s.lang = lang
	s.logger.Info("Language changed", "language", lang)
	if s.started {
		s.apply(ctx, leadcapture.LanguageChanged{Language: lang})
	}
	return s.snapshot()
}

// Snapshot returns the current state without side effects. Queued notices
// are left in place.
func (s *Session) Snapshot() Turn {
	t := s.view()
	t.Notices = nil
	return t
}

func (s *Session) snapshot() Turn {
	t := s.view()
	t.Notices = s.rec.DrainNotices()
	return t
}

func (s *Session) view() Turn {
	return Turn{
		SessionID:      s.id,
		ConversationID: s.rec.ConversationID(),
		Entries:        s.rec.Entries(),
		State:          s.machine.State,
		Ready:          s.ready,
		Language:       s.lang,
	}
}

// apply feeds ev to the lead capture machine and carries out the effects in
// order. SaveLead runs synchronously and its outcome is fed back.
func (s *Session) apply(ctx context.Context, ev leadcapture.Event) {
	next, effects := leadcapture.Transition(s.machine, ev)
	changed := next != s.machine
	if next.State != s.machine.State {
		s.logger.Info("Lead capture advanced", "from", s.machine.State, "to", next.State)
	}
	s.machine = next
	if changed {
		s.saveOnboarding(ctx)
	}

	texts := s.deps.Catalog.For(s.lang)
	for _, eff := range effects {
		switch e := eff.(type) {
		case leadcapture.Say:
			s.rec.Record(ctx, Record{
				Text:     e.Prompt.Text(texts, e.Name),
				Sender:   domain.SenderBot,
				Language: s.lang,
				Prompt:   true,
			})

		case leadcapture.SaveLead:
			saved, err := s.saveLead(ctx, e)
			if err != nil {
				s.logger.Error("Failed to save lead", "error", err)
				s.apply(ctx, leadcapture.LeadFailed{Detail: err.Error()})
				continue
			}
			s.apply(ctx, leadcapture.LeadSaved{LeadID: saved.ID})

		case leadcapture.Notify:
			s.rec.Notify(leadNotice(texts, e))

		case leadcapture.Ask:
			s.ask(ctx, e.Text)
		}
	}
}

func leadNotice(texts locale.Texts, n leadcapture.Notify) Notice {
	if n.Kind == leadcapture.NoticeLeadSaved {
		return Notice{Level: LevelInfo, Title: texts.SaveSuccess}
	}
	desc := n.Detail
	if desc == "" {
		desc = texts.SaveError
	}
	return Notice{Level: LevelError, Title: texts.ErrorTitle, Description: desc}
}

func (s *Session) ask(ctx context.Context, query string) {
	texts := s.deps.Catalog.For(s.lang)

	decision, err := s.deps.Responder.Respond(ctx, query, s.lang)
	if err != nil {
		s.logger.Error("Failed to answer query", "error", err)
		s.rec.Record(ctx, Record{Text: texts.OracleError, Sender: domain.SenderBot, Language: s.lang})
		s.rec.Notify(Notice{Level: LevelError, Title: texts.ErrorTitle, Description: texts.OracleError})
		return
	}

	s.rec.Record(ctx, Record{
		Text:        decision.Text,
		Sender:      domain.SenderBot,
		Language:    s.lang,
		Eligibility: decision.Eligibility,
	})
}

// resumeMachine derives the lead capture state from the stored
// conversation. A linked lead always means onboarding is done, even when the
// recorded progress was lost.
func resumeMachine(conv *domain.Conversation) leadcapture.Machine {
	if conv.HasLead() {
		return leadcapture.Resume()
	}
	return leadcapture.Restore(leadcapture.State(conv.OnboardingState), conv.CapturedName)
}

// saveOnboarding records the machine on the conversation. A failure only
// costs the ability to resume mid-onboarding.
func (s *Session) saveOnboarding(ctx context.Context) {
	id := s.rec.ConversationID()
	if id == 0 {
		return
	}
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.deps.Store.SaveOnboarding(ctx, id, string(s.machine.State), s.machine.Name); err != nil {
		s.logger.Warn("Failed to record onboarding progress",
			"conversation_id", id,
			"state", s.machine.State,
			"error", err,
		)
	}
}

func (s *Session) saveLead(ctx context.Context, e leadcapture.SaveLead) (*domain.Lead, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.deps.Leads.Save(ctx, lead.Input{
		Name:           e.Name,
		Phone:          e.Phone,
		Language:       s.lang,
		ConversationID: s.rec.ConversationID(),
	})
}

func (s *Session) resolve(ctx context.Context) (*domain.Conversation, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	conv, err := s.deps.Store.ResolveConversation(ctx, s.id, s.lang)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	return conv, nil
}

func (s *Session) history(ctx context.Context, conversationID int64) ([]*domain.Message, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.deps.Store.ListMessages(ctx, conversationID)
}

func (s *Session) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.deps.StoreTimeout > 0 {
		return context.WithTimeout(ctx, s.deps.StoreTimeout)
	}
	return context.WithCancel(ctx)
}
