package store

import (
	"database/sql"
	"fmt"
)

// ListingMapping resolves an (OTA, external listing id) pair to a
// property or property group. At least one of PropertyCode/GroupCode
// is set.
type ListingMapping struct {
	OTA          string
	ListingID    string
	PropertyCode string
	GroupCode    string
}

// UpsertListingMapping inserts or replaces a mapping.
func (s *Store) UpsertListingMapping(m *ListingMapping) error {
	if m.PropertyCode == "" && m.GroupCode == "" {
		return fmt.Errorf("listing mapping needs a property code or group code")
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO ota_listing_mappings (ota, listing_id, property_code, group_code)
		VALUES (?, ?, ?, ?)`,
		m.OTA, m.ListingID, nullString(m.PropertyCode), nullString(m.GroupCode),
	)
	if err != nil {
		return fmt.Errorf("upsert listing mapping %s/%s: %w", m.OTA, m.ListingID, err)
	}
	return nil
}

// ResolveListing returns the mapping for (ota, listingID), or
// ErrNotFound.
func (s *Store) ResolveListing(ota, listingID string) (*ListingMapping, error) {
	row := s.db.QueryRow(`
		SELECT ota, listing_id, property_code, group_code
		FROM ota_listing_mappings
		WHERE ota = ? AND listing_id = ?`, ota, listingID)

	var m ListingMapping
	var propertyNS, groupNS sql.NullString
	err := row.Scan(&m.OTA, &m.ListingID, &propertyNS, &groupNS)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve listing %s/%s: %w", ota, listingID, err)
	}
	m.PropertyCode = scanNullString(propertyNS)
	m.GroupCode = scanNullString(groupNS)
	return &m, nil
}
