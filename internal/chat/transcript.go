// Package chat runs visitor conversations: the ordered transcript with its
// persistence, the per-session orchestration of lead capture and answers,
// and the manager that serializes turns per session.
package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tfiber/tera-assist/internal/domain"
)

// Markers appended to a visible message whose persistence failed.
const (
	MarkerSendError = " (Send Error)"
	MarkerNotSaved  = " (Error: Not saved to DB)"
)

// Level is a notice severity.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notice is a transient non-inline notification.
type Notice struct {
	Level       Level  `json:"level"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Entry is one transcript message as the visitor sees it. LocalID is
// assigned before persistence; ID is the durable id once saved.
type Entry struct {
	LocalID             string              `json:"local_id"`
	ID                  int64               `json:"id,omitempty"`
	Sender              domain.Sender       `json:"sender"`
	Text                string              `json:"text"`
	Language            domain.Language     `json:"language"`
	Timestamp           time.Time           `json:"timestamp"`
	IsEligibilityResult bool                `json:"is_eligibility_result,omitempty"`
	Eligibility         *domain.Eligibility `json:"eligibility,omitempty"`
	Saved               bool                `json:"saved"`
	SaveError           string              `json:"save_error,omitempty"`
}

// Record describes a message to add to the transcript. Prompt marks an
// onboarding prompt, which may be shown before a conversation exists and is
// persisted once the conversation is attached.
type Record struct {
	Text        string
	Sender      domain.Sender
	Language    domain.Language
	Eligibility *domain.Eligibility
	Prompt      bool
}

// MessageStore persists transcript messages.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *domain.Message) error
}

// Recorder keeps the ordered in-memory transcript and writes it through to
// the store. Messages are visible before they are durable, and stay visible
// with a marker when persistence fails.
//
// A Recorder is not safe for concurrent use; it belongs to one Session.
type Recorder struct {
	store          MessageStore
	conversationID int64
	timeout        time.Duration
	entries        []*Entry
	pending        []*Entry
	notices        []Notice
	logger         *slog.Logger
	now            func() time.Time
}

// NewRecorder creates a recorder without a conversation. Store calls are
// bounded by timeout when it is positive.
func NewRecorder(store MessageStore, timeout time.Duration, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, timeout: timeout, logger: logger, now: time.Now}
}

// ConversationID returns the attached conversation, or 0.
func (r *Recorder) ConversationID() int64 {
	return r.conversationID
}

// Record shows a message and then tries to persist it. System messages are
// never persisted.
func (r *Recorder) Record(ctx context.Context, rec Record) Entry {
	e := &Entry{
		LocalID:             uuid.NewString(),
		Sender:              rec.Sender,
		Text:                rec.Text,
		Language:            rec.Language,
		Timestamp:           r.now(),
		IsEligibilityResult: rec.Eligibility != nil,
		Eligibility:         rec.Eligibility,
	}
	r.entries = append(r.entries, e)

	if !rec.Sender.Persisted() {
		return *e
	}

	if r.conversationID == 0 {
		if rec.Prompt {
			r.pending = append(r.pending, e)
			return *e
		}
		e.Text += MarkerNotSaved
		e.SaveError = "conversation not ready"
		r.notify(LevelError, "Error", "Conversation not ready. Cannot send/save message.")
		return *e
	}

	r.persist(ctx, e)
	return *e
}

// Attach binds the recorder to a conversation and persists queued onboarding
// prompts. Each queued prompt is written exactly once, whether or not the
// write succeeds.
func (r *Recorder) Attach(ctx context.Context, conversationID int64) {
	r.conversationID = conversationID
	pending := r.pending
	r.pending = nil
	for _, e := range pending {
		r.persist(ctx, e)
	}
}

// Rehydrate replaces the transcript with stored history. Queued prompts are
// kept after the history when keepPending is set and dropped otherwise.
func (r *Recorder) Rehydrate(history []*domain.Message, keepPending bool) {
	entries := make([]*Entry, 0, len(history)+len(r.pending))
	for _, m := range history {
		entries = append(entries, &Entry{
			LocalID:             uuid.NewString(),
			ID:                  m.ID,
			Sender:              m.Sender,
			Text:                m.Content,
			Language:            m.Language,
			Timestamp:           m.Timestamp,
			IsEligibilityResult: m.IsEligibilityResult,
			Eligibility:         m.Eligibility,
			Saved:               true,
		})
	}
	if keepPending {
		entries = append(entries, r.pending...)
	} else {
		r.pending = nil
	}
	r.entries = entries
}

// Entries returns a copy of the transcript in display order.
func (r *Recorder) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	for i, e := range r.entries {
		out[i] = *e
	}
	return out
}

// Notify queues a notice.
func (r *Recorder) Notify(n Notice) {
	r.notices = append(r.notices, n)
}

// DrainNotices returns and clears the queued notices.
func (r *Recorder) DrainNotices() []Notice {
	out := r.notices
	r.notices = nil
	return out
}

func (r *Recorder) notify(level Level, title, description string) {
	r.Notify(Notice{Level: level, Title: title, Description: description})
}

func (r *Recorder) persist(ctx context.Context, e *Entry) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	msg := &domain.Message{
		ConversationID:      r.conversationID,
		Sender:              e.Sender,
		Content:             e.Text,
		Language:            e.Language,
		IsEligibilityResult: e.IsEligibilityResult,
		Eligibility:         e.Eligibility,
	}
	if err := r.store.AppendMessage(ctx, msg); err != nil {
		r.logger.Warn("Failed to save message",
			"conversation_id", r.conversationID,
			"sender", e.Sender,
			"error", err,
		)
		e.Text += MarkerSendError
		e.SaveError = err.Error()
		r.notify(LevelError, "Message Not Saved", "Error: "+err.Error())
		return
	}

	e.ID = msg.ID
	e.Saved = true
	e.Timestamp = msg.Timestamp
}
