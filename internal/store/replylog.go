package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generation modes.
const (
	GenTemplate       = "TEMPLATE"
	GenLLM            = "LLM"
	GenLLMWithFewShot = "LLM_WITH_FEWSHOT"
	GenFallback       = "FALLBACK"
)

// Send modes.
const (
	SendAutopilot = "AUTOPILOT"
	SendHITL      = "HITL"
)

// AutoReplyLog is one auto-reply suggestion produced for a message.
// Immutable after insert except for the sent/edited/done bookkeeping,
// which transitions monotonically.
type AutoReplyLog struct {
	ID               string
	MessageID        int64
	PropertyCode     string
	OTA              string
	Intent           string
	FineIntent       string
	IntentConfidence float64
	GenerationMode   string
	ReplyText        string
	SendMode         string
	FAQKeys          []string
	Sent             bool
	SentAt           time.Time
	AllowAutoSend    bool
	Edited           bool
	EditedText       string
	FailureReason    string
	DoneAt           time.Time
	DoneBy           string
	CreatedAt        time.Time
}

const replyLogColumns = `id, message_id, property_code, ota, intent, fine_intent,
	intent_confidence, generation_mode, reply_text, send_mode, faq_keys,
	sent, sent_at, allow_auto_send, edited, edited_text, failure_reason,
	done_at, done_by, created_at`

// InsertReplyLog persists a new suggestion and, in the same
// transaction, advances the message's last_auto_reply_at so the
// full-tick query stops picking the message up. Sets the log's ID
// (when empty) and CreatedAt in place.
func (s *Store) InsertReplyLog(l *AutoReplyLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.CreatedAt = time.Now().UTC()

	keys, err := json.Marshal(l.FAQKeys)
	if err != nil {
		return fmt.Errorf("marshal faq keys: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert reply log: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO auto_reply_logs (
			id, message_id, property_code, ota, intent, fine_intent,
			intent_confidence, generation_mode, reply_text, send_mode, faq_keys,
			sent, sent_at, allow_auto_send, edited, edited_text, failure_reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.MessageID, nullString(l.PropertyCode), l.OTA, l.Intent, nullString(l.FineIntent),
		l.IntentConfidence, l.GenerationMode, l.ReplyText, l.SendMode, string(keys),
		l.Sent, nullTime(l.SentAt), l.AllowAutoSend, l.Edited, nullString(l.EditedText),
		nullString(l.FailureReason), l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reply log: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE ingested_messages
		SET last_auto_reply_at = ?
		WHERE id = ? AND (last_auto_reply_at IS NULL OR last_auto_reply_at < ?)`,
		l.CreatedAt, l.MessageID, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("advance last_auto_reply_at: %w", err)
	}

	return tx.Commit()
}

// GetReplyLog loads one log by id.
func (s *Store) GetReplyLog(id string) (*AutoReplyLog, error) {
	row := s.db.QueryRow(`SELECT `+replyLogColumns+` FROM auto_reply_logs WHERE id = ?`, id)
	return scanReplyLog(row)
}

// LatestReplyLogForMessage returns the most recent suggestion for a
// message, or ErrNotFound.
func (s *Store) LatestReplyLogForMessage(messageID int64) (*AutoReplyLog, error) {
	row := s.db.QueryRow(`
		SELECT `+replyLogColumns+`
		FROM auto_reply_logs
		WHERE message_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`, messageID)
	return scanReplyLog(row)
}

// ReplyLogFilter narrows ListRecentReplyLogs.
type ReplyLogFilter struct {
	Limit        int
	PropertyCode string
	OTA          string
}

// ListRecentReplyLogs returns recent suggestions for guest-authored
// NEEDS_REPLY messages, newest first.
func (s *Store) ListRecentReplyLogs(f ReplyLogFilter) ([]*AutoReplyLog, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT ` + prefixColumns("l", replyLogColumns) + `
		FROM auto_reply_logs l
		JOIN ingested_messages m ON m.id = l.message_id
		WHERE m.sender_actor = 'GUEST' AND m.actionability = 'NEEDS_REPLY'`
	args := []any{}
	if f.PropertyCode != "" {
		query += ` AND l.property_code = ?`
		args = append(args, f.PropertyCode)
	}
	if f.OTA != "" {
		query += ` AND l.ota = ?`
		args = append(args, f.OTA)
	}
	query += ` ORDER BY l.created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reply logs: %w", err)
	}
	defer rows.Close()

	var out []*AutoReplyLog
	for rows.Next() {
		l, err := scanReplyLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// MarkReplySent transitions sent from false to true and stamps
// sent_at. Already-sent logs are left untouched (monotone).
func (s *Store) MarkReplySent(id string, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE auto_reply_logs SET sent = TRUE, sent_at = ?
		WHERE id = ? AND sent = FALSE`,
		at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark reply %s sent: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either missing or already sent; distinguish for the caller.
		if _, err := s.GetReplyLog(id); err != nil {
			return err
		}
	}
	return nil
}

// MarkReplyFailure records why a send did not happen. sent stays false.
func (s *Store) MarkReplyFailure(id, reason string) error {
	_, err := s.db.Exec(`
		UPDATE auto_reply_logs SET failure_reason = ? WHERE id = ? AND sent = FALSE`,
		reason, id,
	)
	if err != nil {
		return fmt.Errorf("mark reply %s failure: %w", id, err)
	}
	return nil
}

// MarkReplyEdited records an operator edit. edited requires a
// non-empty replacement text.
func (s *Store) MarkReplyEdited(id, editedText string) error {
	if editedText == "" {
		return fmt.Errorf("edited text must be non-empty")
	}
	res, err := s.db.Exec(`
		UPDATE auto_reply_logs SET edited = TRUE, edited_text = ? WHERE id = ?`,
		editedText, id,
	)
	if err != nil {
		return fmt.Errorf("mark reply %s edited: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkReplyDone records operator resolution. The policy of what counts
// as resolved lives in the operator UI; the store only keeps the stamp.
func (s *Store) MarkReplyDone(id, by string) error {
	res, err := s.db.Exec(`
		UPDATE auto_reply_logs SET done_at = ?, done_by = ? WHERE id = ? AND done_at IS NULL`,
		time.Now().UTC(), by, id,
	)
	if err != nil {
		return fmt.Errorf("mark reply %s done: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetReplyLog(id); err != nil {
			return err
		}
	}
	return nil
}

func scanReplyLog(row rowScanner) (*AutoReplyLog, error) {
	var l AutoReplyLog
	var propertyNS, fineNS, editedTextNS, failureNS, doneByNS sql.NullString
	var sentAtNT, doneAtNT sql.NullTime
	var keysJSON string

	err := row.Scan(
		&l.ID, &l.MessageID, &propertyNS, &l.OTA, &l.Intent, &fineNS,
		&l.IntentConfidence, &l.GenerationMode, &l.ReplyText, &l.SendMode, &keysJSON,
		&l.Sent, &sentAtNT, &l.AllowAutoSend, &l.Edited, &editedTextNS, &failureNS,
		&doneAtNT, &doneByNS, &l.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan reply log: %w", err)
	}

	l.PropertyCode = scanNullString(propertyNS)
	l.FineIntent = scanNullString(fineNS)
	l.EditedText = scanNullString(editedTextNS)
	l.FailureReason = scanNullString(failureNS)
	l.DoneBy = scanNullString(doneByNS)
	l.SentAt = scanNullTime(sentAtNT)
	l.DoneAt = scanNullTime(doneAtNT)

	if err := json.Unmarshal([]byte(keysJSON), &l.FAQKeys); err != nil {
		return nil, fmt.Errorf("decode faq keys: %w", err)
	}
	return &l, nil
}

// prefixColumns qualifies a comma-separated column list with a table
// alias for joins.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
