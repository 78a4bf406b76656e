package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tfiber/tera-assist/internal/domain"
	"github.com/tfiber/tera-assist/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // SQLite allows a single writer; serializing avoids SQLITE_BUSY
	retry   shared.RetryPolicy
	now     func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	return newSQLite(dbPath)
}

func newSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy(), now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS leads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		phone_number TEXT NOT NULL UNIQUE,
		language_preference TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL UNIQUE,
		lead_id INTEGER REFERENCES leads(id),
		initial_language TEXT,
		started_at INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL,
		onboarding_state TEXT NOT NULL DEFAULT '',
		captured_name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL REFERENCES conversations(id),
		sender_type TEXT NOT NULL CHECK (sender_type IN ('user', 'bot', 'system')),
		content TEXT NOT NULL,
		language TEXT,
		timestamp INTEGER NOT NULL,
		is_eligibility_result INTEGER NOT NULL DEFAULT 0,
		eligibility_is_eligible INTEGER,
		eligibility_details TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	// Databases created before onboarding progress was tracked.
	for _, col := range []struct{ name, ddl string }{
		{"onboarding_state", `ALTER TABLE conversations ADD COLUMN onboarding_state TEXT NOT NULL DEFAULT ''`},
		{"captured_name", `ALTER TABLE conversations ADD COLUMN captured_name TEXT NOT NULL DEFAULT ''`},
	} {
		if err := s.addColumnIfMissing("conversations", col.name, col.ddl); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) addColumnIfMissing(table, column, ddl string) error {
	var n int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column,
	).Scan(&n); err != nil {
		return fmt.Errorf("inspect %s.%s: %w", table, column, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	slog.Info("Migrated database schema", "table", table, "column", column)
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// write serializes a mutation and retries it on lock contention.
func (s *SQLiteStore) write(ctx context.Context, op string, fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return shared.RetryOnConflict(ctx, s.retry, op, fn)
}

const conversationColumns = `id, session_id, lead_id, initial_language, started_at, last_activity_at, onboarding_state, captured_name`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var conv domain.Conversation
	var leadID sql.NullInt64
	var lang sql.NullString
	var startedAt, lastActivity int64

	if err := row.Scan(&conv.ID, &conv.SessionID, &leadID, &lang, &startedAt, &lastActivity,
		&conv.OnboardingState, &conv.CapturedName); err != nil {
		return nil, err
	}
	if leadID.Valid {
		id := leadID.Int64
		conv.LeadID = &id
	}
	conv.InitialLanguage = domain.Language(lang.String)
	conv.StartedAt = time.UnixMilli(startedAt)
	conv.LastActivityAt = time.UnixMilli(lastActivity)
	return &conv, nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}
	return conv, nil
}

// GetConversationBySession retrieves a conversation by session ID.
func (s *SQLiteStore) GetConversationBySession(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE session_id = ?`, sessionID)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}
	return conv, nil
}

// ResolveConversation looks the session up before creating, so at most one
// conversation exists per session ID. A concurrent create loses the insert
// race silently and reads the winner's row.
func (s *SQLiteStore) ResolveConversation(ctx context.Context, sessionID string, lang domain.Language) (*domain.Conversation, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("resolve conversation: session id is empty")
	}
	if !lang.Valid() {
		lang = domain.LanguageEnglish
	}

	var conv *domain.Conversation
	err := s.write(ctx, "resolve_conversation", func() error {
		now := s.now().UnixMilli()

		existing, err := s.GetConversationBySession(ctx, sessionID)
		if err != nil {
			return err
		}
		if existing != nil {
			if _, err := s.db.ExecContext(ctx,
				`UPDATE conversations SET last_activity_at = MAX(last_activity_at, ?) WHERE id = ?`,
				now, existing.ID,
			); err != nil {
				return fmt.Errorf("update last_activity_at: %w", err)
			}
			if now > existing.LastActivityAt.UnixMilli() {
				existing.LastActivityAt = time.UnixMilli(now)
			}
			conv = existing
			return nil
		}

		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO conversations (session_id, initial_language, started_at, last_activity_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(session_id) DO NOTHING`,
			sessionID, string(lang), now, now,
		); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}

		created, err := s.GetConversationBySession(ctx, sessionID)
		if err != nil {
			return err
		}
		if created == nil {
			return errors.New("conversation missing after insert")
		}
		conv = created
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	return conv, nil
}

// AppendMessage inserts a message. The timestamp is assigned here and never
// precedes the newest message already stored for the conversation.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	if msg == nil {
		return errors.New("append message: message is nil")
	}
	if !msg.Sender.Persisted() {
		return fmt.Errorf("append message: sender %q is not persisted", msg.Sender)
	}

	var isEligible, details interface{}
	if msg.IsEligibilityResult && msg.Eligibility != nil {
		isEligible = msg.Eligibility.IsEligible
		details = msg.Eligibility.Details
	}
	var lang interface{}
	if msg.Language != "" {
		lang = string(msg.Language)
	}

	err := s.write(ctx, "append_message", func() error {
		now := s.now().UnixMilli()

		var id, ts int64
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO messages (
				conversation_id, sender_type, content, language, timestamp,
				is_eligibility_result, eligibility_is_eligible, eligibility_details
			)
			SELECT ?, ?, ?, ?,
				MAX(?, COALESCE((SELECT MAX(timestamp) FROM messages WHERE conversation_id = ?), 0)),
				?, ?, ?
			RETURNING id, timestamp`,
			msg.ConversationID, string(msg.Sender), msg.Content, lang,
			now, msg.ConversationID,
			msg.IsEligibilityResult, isEligible, details,
		).Scan(&id, &ts)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		msg.ID = id
		msg.Timestamp = time.UnixMilli(ts)

		// The message is already durable; a failed activity bump only loses
		// freshness of last_activity_at.
		if _, err := s.db.ExecContext(ctx,
			`UPDATE conversations SET last_activity_at = MAX(last_activity_at, ?) WHERE id = ?`,
			ts, msg.ConversationID,
		); err != nil {
			slog.Warn("Failed to update conversation activity", "conversation_id", msg.ConversationID, "error", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListMessages returns messages ordered by timestamp, then insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID int64) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_type, content, language, timestamp,
		       is_eligibility_result, eligibility_is_eligible, eligibility_details
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var messages []*domain.Message
	for rows.Next() {
		var msg domain.Message
		var sender string
		var lang, details sql.NullString
		var ts int64
		var isEligibility bool
		var isEligible sql.NullBool

		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &sender, &msg.Content, &lang, &ts,
			&isEligibility, &isEligible, &details,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		msg.Sender = domain.Sender(sender)
		msg.Language = domain.Language(lang.String)
		msg.Timestamp = time.UnixMilli(ts)
		msg.IsEligibilityResult = isEligibility
		if isEligibility {
			msg.Eligibility = &domain.Eligibility{
				IsEligible: isEligible.Bool,
				Details:    details.String,
			}
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// UpsertLead creates or updates a lead keyed by phone number.
func (s *SQLiteStore) UpsertLead(ctx context.Context, lead *domain.Lead) error {
	if lead == nil {
		return errors.New("upsert lead: lead is nil")
	}

	err := s.write(ctx, "upsert_lead", func() error {
		now := s.now().UnixMilli()

		var id, createdAt int64
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO leads (name, phone_number, language_preference, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(phone_number) DO UPDATE SET
				name = excluded.name,
				language_preference = excluded.language_preference,
				updated_at = excluded.updated_at
			RETURNING id, created_at`,
			lead.Name, lead.PhoneNumber, string(lead.LanguagePreference), now, now,
		).Scan(&id, &createdAt)
		if err != nil {
			return fmt.Errorf("upsert lead: %w", err)
		}

		lead.ID = id
		lead.CreatedAt = time.UnixMilli(createdAt)
		lead.UpdatedAt = time.UnixMilli(now)
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

// LinkLead attaches a lead to a conversation.
func (s *SQLiteStore) LinkLead(ctx context.Context, leadID, conversationID int64) error {
	return s.write(ctx, "link_lead", func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE conversations SET lead_id = ?, last_activity_at = MAX(last_activity_at, ?) WHERE id = ?`,
			leadID, s.now().UnixMilli(), conversationID,
		)
		if err != nil {
			return fmt.Errorf("link lead: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("link lead to conversation %d: %w", conversationID, ErrNotFound)
		}
		return nil
	})
}

// SaveOnboarding records the lead capture progress of a conversation.
func (s *SQLiteStore) SaveOnboarding(ctx context.Context, conversationID int64, state, name string) error {
	return s.write(ctx, "save_onboarding", func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE conversations SET onboarding_state = ?, captured_name = ? WHERE id = ?`,
			state, name, conversationID,
		)
		if err != nil {
			return fmt.Errorf("save onboarding: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("save onboarding for conversation %d: %w", conversationID, ErrNotFound)
		}
		return nil
	})
}

const leadColumns = `id, name, phone_number, language_preference, created_at, updated_at`

func scanLead(row rowScanner) (*domain.Lead, error) {
	var lead domain.Lead
	var lang string
	var createdAt, updatedAt int64
	if err := row.Scan(&lead.ID, &lead.Name, &lead.PhoneNumber, &lang, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	lead.LanguagePreference = domain.Language(lang)
	lead.CreatedAt = time.UnixMilli(createdAt)
	lead.UpdatedAt = time.UnixMilli(updatedAt)
	return &lead, nil
}

// GetLeadByPhone retrieves a lead by phone number.
func (s *SQLiteStore) GetLeadByPhone(ctx context.Context, phone string) (*domain.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE phone_number = ?`, phone)
	lead, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan lead row: %w", err)
	}
	return lead, nil
}

// ListLeads returns up to limit leads, most recently updated first.
func (s *SQLiteStore) ListLeads(ctx context.Context, limit int) ([]*domain.Lead, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads ORDER BY updated_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close lead rows", "error", closeErr)
		}
	}()

	var leads []*domain.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead row: %w", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return leads, nil
}
