// Package store provides SQLite-backed persistence for the ingestion
// and auto-reply pipeline: ingested messages, intent labels, reply
// logs, auto-send statistics, property profiles, listing mappings,
// approved-answer embeddings, and reply templates.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Sentinel errors. Callers test with errors.Is.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
	// ErrImmutable reports an attempt to change a field that is fixed
	// after first classification.
	ErrImmutable = errors.New("field is immutable once set")
)

// Store owns the database handle. All public methods are safe for
// concurrent use (SQLite serializes writes; WAL keeps readers moving).
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- One row per successfully parsed mailbox message.
	CREATE TABLE IF NOT EXISTS ingested_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id TEXT NOT NULL UNIQUE,
		thread_id TEXT NOT NULL DEFAULT '',
		received_at TIMESTAMP NOT NULL,
		from_addr TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		text_body TEXT NOT NULL DEFAULT '',
		html_body TEXT NOT NULL DEFAULT '',
		guest_segment TEXT NOT NULL DEFAULT '',
		sender_actor TEXT NOT NULL DEFAULT 'UNKNOWN',
		actionability TEXT NOT NULL DEFAULT 'UNKNOWN',
		intent TEXT,
		intent_confidence REAL,
		fine_intent TEXT,
		suggested_action TEXT,
		property_code TEXT,
		ota TEXT NOT NULL DEFAULT '',
		guest_name TEXT,
		checkin_date TEXT,
		checkout_date TEXT,
		last_auto_reply_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON ingested_messages(thread_id, received_at);
	CREATE INDEX IF NOT EXISTS idx_messages_actionability ON ingested_messages(actionability, received_at);

	-- Append-only intent label history.
	CREATE TABLE IF NOT EXISTS intent_labels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id INTEGER NOT NULL,
		intent TEXT NOT NULL,
		source TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (message_id) REFERENCES ingested_messages(id)
	);
	CREATE INDEX IF NOT EXISTS idx_labels_message ON intent_labels(message_id, created_at);

	-- One row per auto-reply suggestion.
	CREATE TABLE IF NOT EXISTS auto_reply_logs (
		id TEXT PRIMARY KEY,
		message_id INTEGER NOT NULL,
		property_code TEXT,
		ota TEXT NOT NULL DEFAULT '',
		intent TEXT NOT NULL DEFAULT '',
		fine_intent TEXT,
		intent_confidence REAL NOT NULL DEFAULT 0,
		generation_mode TEXT NOT NULL,
		reply_text TEXT NOT NULL,
		send_mode TEXT NOT NULL,
		faq_keys TEXT NOT NULL DEFAULT '[]',
		sent BOOLEAN NOT NULL DEFAULT FALSE,
		sent_at TIMESTAMP,
		allow_auto_send BOOLEAN NOT NULL DEFAULT FALSE,
		edited BOOLEAN NOT NULL DEFAULT FALSE,
		edited_text TEXT,
		failure_reason TEXT,
		done_at TIMESTAMP,
		done_by TEXT,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (message_id) REFERENCES ingested_messages(id)
	);
	CREATE INDEX IF NOT EXISTS idx_reply_logs_message ON auto_reply_logs(message_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_reply_logs_created ON auto_reply_logs(created_at);

	-- Per-(property, FAQ key) auto-send statistics.
	CREATE TABLE IF NOT EXISTS auto_send_stats (
		property_code TEXT NOT NULL,
		faq_key TEXT NOT NULL,
		total_count INTEGER NOT NULL DEFAULT 0,
		approved_count INTEGER NOT NULL DEFAULT 0,
		edited_count INTEGER NOT NULL DEFAULT 0,
		approval_rate REAL NOT NULL DEFAULT 0,
		eligible BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (property_code, faq_key)
	);

	-- Knowledge card per property.
	CREATE TABLE IF NOT EXISTS property_profiles (
		property_code TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		locale TEXT NOT NULL DEFAULT 'ko',
		checkin_from TEXT NOT NULL DEFAULT '',
		checkin_to TEXT NOT NULL DEFAULT '',
		checkout_until TEXT NOT NULL DEFAULT '',
		parking_info TEXT NOT NULL DEFAULT '',
		pet_policy TEXT NOT NULL DEFAULT '',
		smoking_policy TEXT NOT NULL DEFAULT '',
		noise_policy TEXT NOT NULL DEFAULT '',
		amenities TEXT NOT NULL DEFAULT '{}',
		address_summary TEXT NOT NULL DEFAULT '',
		location_guide TEXT NOT NULL DEFAULT '',
		access_guide TEXT NOT NULL DEFAULT '',
		house_rules TEXT NOT NULL DEFAULT '',
		space_overview TEXT NOT NULL DEFAULT '',
		extra_metadata TEXT NOT NULL DEFAULT '{}',
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	-- (OTA, listing id) -> property/group resolution.
	CREATE TABLE IF NOT EXISTS ota_listing_mappings (
		ota TEXT NOT NULL,
		listing_id TEXT NOT NULL,
		property_code TEXT,
		group_code TEXT,
		PRIMARY KEY (ota, listing_id),
		CHECK (property_code IS NOT NULL OR group_code IS NOT NULL)
	);

	-- Approved (guest question, answer) pairs with embeddings.
	CREATE TABLE IF NOT EXISTS answer_embeddings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guest_message TEXT NOT NULL,
		final_answer TEXT NOT NULL,
		embedding BLOB NOT NULL,
		property_code TEXT,
		was_edited BOOLEAN NOT NULL DEFAULT FALSE,
		conversation_ref TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_answer_embeddings_property ON answer_embeddings(property_code);

	-- Per-(intent, locale) reply templates.
	CREATE TABLE IF NOT EXISTS reply_templates (
		intent TEXT NOT NULL,
		locale TEXT NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (intent, locale)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// nullString converts "" to NULL for optional text columns.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullTime converts the zero time to NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// scanNullString reads an optional text column into a plain string.
func scanNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// scanNullTime reads an optional timestamp column into a plain time.
func scanNullTime(nt sql.NullTime) time.Time {
	if nt.Valid {
		return nt.Time
	}
	return time.Time{}
}
