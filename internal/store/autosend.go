package store

import (
	"database/sql"
	"fmt"
	"time"
)

// AutoSendStats is the approval record for one (property, FAQ key).
type AutoSendStats struct {
	PropertyCode  string
	FAQKey        string
	TotalCount    int
	ApprovedCount int
	EditedCount   int
	ApprovalRate  float64
	Eligible      bool
	UpdatedAt     time.Time
}

// Eligibility thresholds, passed to RecordAutoSendOutcome with each
// outcome. A non-positive MinTotal selects DefaultThresholds.
type Thresholds struct {
	MinTotal int
	MinRate  float64
}

// DefaultThresholds matches the reference deployment.
var DefaultThresholds = Thresholds{MinTotal: 5, MinRate: 0.8}

// GetAutoSendStats loads one stats row, or ErrNotFound.
func (s *Store) GetAutoSendStats(propertyCode, faqKey string) (*AutoSendStats, error) {
	row := s.db.QueryRow(`
		SELECT property_code, faq_key, total_count, approved_count, edited_count,
			approval_rate, eligible, updated_at
		FROM auto_send_stats
		WHERE property_code = ? AND faq_key = ?`, propertyCode, faqKey)

	var st AutoSendStats
	err := row.Scan(&st.PropertyCode, &st.FAQKey, &st.TotalCount, &st.ApprovedCount,
		&st.EditedCount, &st.ApprovalRate, &st.Eligible, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get auto-send stats %s/%s: %w", propertyCode, faqKey, err)
	}
	return &st, nil
}

// ListAutoSendStats returns all stats rows for a property, highest
// sample count first.
func (s *Store) ListAutoSendStats(propertyCode string) ([]*AutoSendStats, error) {
	rows, err := s.db.Query(`
		SELECT property_code, faq_key, total_count, approved_count, edited_count,
			approval_rate, eligible, updated_at
		FROM auto_send_stats
		WHERE property_code = ?
		ORDER BY total_count DESC`, propertyCode)
	if err != nil {
		return nil, fmt.Errorf("list auto-send stats %s: %w", propertyCode, err)
	}
	defer rows.Close()

	var out []*AutoSendStats
	for rows.Next() {
		var st AutoSendStats
		if err := rows.Scan(&st.PropertyCode, &st.FAQKey, &st.TotalCount, &st.ApprovedCount,
			&st.EditedCount, &st.ApprovalRate, &st.Eligible, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan auto-send stats: %w", err)
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

// RecordAutoSendOutcome increments one key's counters and recomputes
// rate and eligibility in a single transaction. The counters are
// incremented in SQL rather than read and rewritten, so concurrent
// outcomes for the same row compose instead of clobbering.
func (s *Store) RecordAutoSendOutcome(propertyCode string, faqKeys []string, approved bool, th Thresholds) error {
	if propertyCode == "" || len(faqKeys) == 0 {
		return nil
	}
	if th.MinTotal <= 0 {
		th = DefaultThresholds
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin auto-send outcome: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, key := range faqKeys {
		approvedInc, editedInc := 0, 0
		if approved {
			approvedInc = 1
		} else {
			editedInc = 1
		}

		// Upsert the counter increments, then recompute the derived
		// columns from the stored counters so rate and eligibility
		// are always consistent with the counts.
		_, err := tx.Exec(`
			INSERT INTO auto_send_stats (
				property_code, faq_key, total_count, approved_count, edited_count,
				approval_rate, eligible, updated_at
			) VALUES (?, ?, 1, ?, ?, 0, FALSE, ?)
			ON CONFLICT (property_code, faq_key) DO UPDATE SET
				total_count = total_count + 1,
				approved_count = approved_count + excluded.approved_count,
				edited_count = edited_count + excluded.edited_count,
				updated_at = excluded.updated_at`,
			propertyCode, key, approvedInc, editedInc, now,
		)
		if err != nil {
			return fmt.Errorf("increment auto-send stats %s/%s: %w", propertyCode, key, err)
		}

		_, err = tx.Exec(`
			UPDATE auto_send_stats SET
				approval_rate = CAST(approved_count AS REAL) / total_count,
				eligible = (total_count >= ? AND CAST(approved_count AS REAL) / total_count >= ?)
			WHERE property_code = ? AND faq_key = ?`,
			th.MinTotal, th.MinRate, propertyCode, key,
		)
		if err != nil {
			return fmt.Errorf("recompute auto-send stats %s/%s: %w", propertyCode, key, err)
		}
	}

	return tx.Commit()
}

// AutoSendEligible reports whether every key has a stats row that is
// individually eligible. Missing rows mean no track record: not
// eligible.
func (s *Store) AutoSendEligible(propertyCode string, faqKeys []string) (bool, error) {
	if propertyCode == "" || len(faqKeys) == 0 {
		return false, nil
	}
	for _, key := range faqKeys {
		st, err := s.GetAutoSendStats(propertyCode, key)
		if err == ErrNotFound {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if !st.Eligible {
			return false, nil
		}
	}
	return true, nil
}
