package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// IngestedMessage is one parsed and stored mailbox message.
type IngestedMessage struct {
	ID               int64
	ExternalID       string
	ThreadID         string
	ReceivedAt       time.Time
	From             string
	Subject          string
	TextBody         string
	HTMLBody         string
	GuestSegment     string
	SenderActor      string
	Actionability    string
	Intent           string
	IntentConfidence float64
	FineIntent       string
	SuggestedAction  string
	PropertyCode     string
	OTA              string
	GuestName        string
	CheckinDate      string
	CheckoutDate     string
	LastAutoReplyAt  time.Time
}

const messageColumns = `id, external_id, thread_id, received_at, from_addr, subject,
	text_body, html_body, guest_segment, sender_actor, actionability,
	intent, intent_confidence, fine_intent, suggested_action,
	property_code, ota, guest_name, checkin_date, checkout_date, last_auto_reply_at`

// InsertMessage stores a newly parsed message. The external mailbox id
// is globally unique; inserting an id that already exists returns
// ErrDuplicate and writes nothing.
func (s *Store) InsertMessage(m *IngestedMessage) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO ingested_messages (
			external_id, thread_id, received_at, from_addr, subject,
			text_body, html_body, guest_segment, sender_actor, actionability,
			intent, intent_confidence, fine_intent, suggested_action,
			property_code, ota, guest_name, checkin_date, checkout_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ExternalID, m.ThreadID, m.ReceivedAt.UTC(), m.From, m.Subject,
		m.TextBody, m.HTMLBody, m.GuestSegment, m.SenderActor, m.Actionability,
		nullString(m.Intent), nullFloat(m.IntentConfidence, m.Intent == ""), nullString(m.FineIntent), nullString(m.SuggestedAction),
		nullString(m.PropertyCode), m.OTA, nullString(m.GuestName), nullString(m.CheckinDate), nullString(m.CheckoutDate),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("external id %s: %w", m.ExternalID, ErrDuplicate)
		}
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert message id: %w", err)
	}
	m.ID = id
	return id, nil
}

func nullFloat(f float64, isNull bool) any {
	if isNull {
		return nil
	}
	return f
}

// MessageExists reports whether a message with this external id has
// already been ingested.
func (s *Store) MessageExists(externalID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM ingested_messages WHERE external_id = ?`, externalID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("message exists %s: %w", externalID, err)
	}
	return true, nil
}

// GetMessage loads one message by surrogate id.
func (s *Store) GetMessage(id int64) (*IngestedMessage, error) {
	row := s.db.QueryRow(`SELECT `+messageColumns+` FROM ingested_messages WHERE id = ?`, id)
	return scanMessage(row)
}

// GetMessageByExternalID loads one message by mailbox id.
func (s *Store) GetMessageByExternalID(externalID string) (*IngestedMessage, error) {
	row := s.db.QueryRow(`SELECT `+messageColumns+` FROM ingested_messages WHERE external_id = ?`, externalID)
	return scanMessage(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*IngestedMessage, error) {
	var m IngestedMessage
	var intentNS, fineNS, actionNS, propertyNS, guestNS, checkinNS, checkoutNS sql.NullString
	var confNF sql.NullFloat64
	var lastReplyNT sql.NullTime

	err := row.Scan(
		&m.ID, &m.ExternalID, &m.ThreadID, &m.ReceivedAt, &m.From, &m.Subject,
		&m.TextBody, &m.HTMLBody, &m.GuestSegment, &m.SenderActor, &m.Actionability,
		&intentNS, &confNF, &fineNS, &actionNS,
		&propertyNS, &m.OTA, &guestNS, &checkinNS, &checkoutNS, &lastReplyNT,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}

	m.Intent = scanNullString(intentNS)
	m.FineIntent = scanNullString(fineNS)
	m.SuggestedAction = scanNullString(actionNS)
	m.PropertyCode = scanNullString(propertyNS)
	m.GuestName = scanNullString(guestNS)
	m.CheckinDate = scanNullString(checkinNS)
	m.CheckoutDate = scanNullString(checkoutNS)
	if confNF.Valid {
		m.IntentConfidence = confNF.Float64
	}
	m.LastAutoReplyAt = scanNullTime(lastReplyNT)
	return &m, nil
}

// SetIntent records the classifier's result on the message row. It
// does not touch any IngestedMessage value the caller holds.
func (s *Store) SetIntent(id int64, intentName, fineIntent string, confidence float64, suggestedAction string) error {
	_, err := s.db.Exec(`
		UPDATE ingested_messages
		SET intent = ?, fine_intent = ?, intent_confidence = ?, suggested_action = ?
		WHERE id = ?`,
		intentName, nullString(fineIntent), confidence, nullString(suggestedAction), id,
	)
	if err != nil {
		return fmt.Errorf("set intent on message %d: %w", id, err)
	}
	return nil
}

// SetDenormalizedIntent updates only the denormalized intent field.
// Used when an operator relabels a message.
func (s *Store) SetDenormalizedIntent(id int64, intentName string) error {
	res, err := s.db.Exec(`UPDATE ingested_messages SET intent = ? WHERE id = ?`, intentName, id)
	if err != nil {
		return fmt.Errorf("set denormalized intent on message %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvanceLastAutoReplyAt moves the auto-reply bookkeeping timestamp
// forward. The timestamp only advances: an older value is ignored.
func (s *Store) AdvanceLastAutoReplyAt(id int64, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE ingested_messages
		SET last_auto_reply_at = ?
		WHERE id = ? AND (last_auto_reply_at IS NULL OR last_auto_reply_at < ?)`,
		at.UTC(), id, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("advance last_auto_reply_at on message %d: %w", id, err)
	}
	return nil
}

// ListNeedsReplyWithoutAutoReply returns NEEDS_REPLY messages that have
// no auto-reply bookkeeping yet, oldest first. The full-tick entry
// point drains this list.
func (s *Store) ListNeedsReplyWithoutAutoReply(limit int) ([]*IngestedMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT `+messageColumns+`
		FROM ingested_messages
		WHERE actionability = 'NEEDS_REPLY' AND last_auto_reply_at IS NULL
		ORDER BY received_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list needs-reply messages: %w", err)
	}
	defer rows.Close()

	var out []*IngestedMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// validActors and validActionability bound classification writes to
// the closed enum sets.
var (
	validActors        = map[string]bool{"GUEST": true, "HOST": true, "SYSTEM": true, "UNKNOWN": true}
	validActionability = map[string]bool{"NEEDS_REPLY": true, "OUTGOING_COPY": true, "SYSTEM_NOTIFICATION": true, "FYI": true, "UNKNOWN": true}
)

// SetClassification records sender actor and actionability. Both are
// immutable once set to a non-UNKNOWN value; later attempts to change
// them return ErrImmutable.
func (s *Store) SetClassification(id int64, actor, actionability string) error {
	actor = strings.ToUpper(actor)
	actionability = strings.ToUpper(actionability)
	if !validActors[actor] {
		return fmt.Errorf("invalid actor %q", actor)
	}
	if !validActionability[actionability] {
		return fmt.Errorf("invalid actionability %q", actionability)
	}

	m, err := s.GetMessage(id)
	if err != nil {
		return err
	}
	if (m.SenderActor != "UNKNOWN" && m.SenderActor != actor) ||
		(m.Actionability != "UNKNOWN" && m.Actionability != actionability) {
		return fmt.Errorf("message %d already classified as (%s, %s): %w",
			id, m.SenderActor, m.Actionability, ErrImmutable)
	}

	_, err = s.db.Exec(`
		UPDATE ingested_messages SET sender_actor = ?, actionability = ? WHERE id = ?`,
		actor, actionability, id,
	)
	if err != nil {
		return fmt.Errorf("set classification on message %d: %w", id, err)
	}
	return nil
}
