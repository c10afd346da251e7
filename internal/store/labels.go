package store

import (
	"fmt"
	"time"
)

// IntentLabel is one append-only intent assignment for a message.
type IntentLabel struct {
	ID        int64
	MessageID int64
	Intent    string
	Source    string // SYSTEM, HUMAN, ML, CORRECTED
	CreatedAt time.Time
}

// validLabelSources bounds provenance to the closed set.
var validLabelSources = map[string]bool{
	"SYSTEM": true, "HUMAN": true, "ML": true, "CORRECTED": true,
}

// AppendLabel inserts a new label stamped with the current time.
// Labels are never updated or deleted.
func (s *Store) AppendLabel(messageID int64, intentName, source string) (*IntentLabel, error) {
	if !validLabelSources[source] {
		return nil, fmt.Errorf("invalid label source %q", source)
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO intent_labels (message_id, intent, source, created_at)
		VALUES (?, ?, ?, ?)`,
		messageID, intentName, source, now,
	)
	if err != nil {
		return nil, fmt.Errorf("append label for message %d: %w", messageID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("append label id: %w", err)
	}

	return &IntentLabel{
		ID:        id,
		MessageID: messageID,
		Intent:    intentName,
		Source:    source,
		CreatedAt: now,
	}, nil
}

// LabelHistory returns all labels for a message in creation order.
// The insertion id breaks created-at ties so the order is total.
func (s *Store) LabelHistory(messageID int64) ([]*IntentLabel, error) {
	rows, err := s.db.Query(`
		SELECT id, message_id, intent, source, created_at
		FROM intent_labels
		WHERE message_id = ?
		ORDER BY created_at ASC, id ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("label history for message %d: %w", messageID, err)
	}
	defer rows.Close()

	var out []*IntentLabel
	for rows.Next() {
		var l IntentLabel
		if err := rows.Scan(&l.ID, &l.MessageID, &l.Intent, &l.Source, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}
